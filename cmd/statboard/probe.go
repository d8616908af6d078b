package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/talgya/statboard/internal/probe"
)

var (
	probeURL      string
	probeApples   string
	probeMeasured float64
	probeKeep     bool
	probeWait     time.Duration
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Smoke-test a running server by driving both boards",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		url := probeURL
		if url == "" {
			url = fmt.Sprintf("http://localhost:%d", cfg.Port)
		}
		counts, err := parseCounts(probeApples)
		if err != nil {
			return err
		}

		client := probe.NewClient(url, cfg.AdminKey)
		waitCtx, cancel := context.WithTimeout(cmd.Context(), probeWait)
		defer cancel()
		if err := client.WaitReady(waitCtx); err != nil {
			return err
		}

		return probe.Tour(cmd.Context(), client, os.Stdout, probe.TourOptions{
			Apples:   counts,
			Measured: probeMeasured,
			Keep:     probeKeep,
		})
	},
}

func init() {
	probeCmd.Flags().StringVar(&probeURL, "url", "", "server base URL (default http://localhost:<port>)")
	probeCmd.Flags().StringVar(&probeApples, "apples", "", "seven comma-separated apple counts")
	probeCmd.Flags().Float64Var(&probeMeasured, "measure", 15, "tree height to append")
	probeCmd.Flags().BoolVar(&probeKeep, "keep", false, "leave the probe session in place")
	probeCmd.Flags().DurationVar(&probeWait, "wait", 5*time.Minute, "how long to wait for the server")
}

func parseCounts(s string) ([]float64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	counts := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("--apples: %w", err)
		}
		counts = append(counts, v)
	}
	return counts, nil
}
