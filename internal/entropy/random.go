// Package entropy supplies randomness for generated samples. A Client draws
// true random numbers from random.org when an API key is configured and
// falls back to crypto/rand otherwise.
package entropy

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	mrand "math/rand"
	"net/http"
	"sync"
	"time"
)

// DefaultEndpoint is the random.org JSON-RPC endpoint.
const DefaultEndpoint = "https://api.random.org/json-rpc/4/invoke"

const (
	poolRefillSize = 100
	poolLowWater   = 10
)

var (
	// ErrRemote wraps an error object returned by random.org.
	ErrRemote = errors.New("random.org error")
	// ErrStatus is returned for a non-200 HTTP response.
	ErrStatus = errors.New("random.org unexpected status")
)

// uniformSpan is 2^53, the number of evenly spaced float64 values in [0, 1).
var uniformSpan = big.NewInt(1 << 53)

// Client buffers decimal fractions fetched from random.org. Draws never
// wait on the network: the pool is topped up in the background and
// crypto/rand fills in while it is empty.
type Client struct {
	apiKey   string
	endpoint string
	client   *http.Client

	mu        sync.Mutex
	pool      []float64
	refilling bool
}

// NewClient creates a random.org client. Returns nil if apiKey is empty; a
// nil *Client is valid and uses crypto/rand.
func NewClient(apiKey string) *Client {
	if apiKey == "" {
		return nil
	}
	return &Client{
		apiKey:   apiKey,
		endpoint: DefaultEndpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

// WithEndpoint points the client at a different JSON-RPC endpoint.
func (c *Client) WithEndpoint(url string) *Client {
	if c != nil {
		c.endpoint = url
	}
	return c
}

// Enabled reports whether random.org is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// Fill fetches one batch from random.org and adds it to the pool, blocking
// until the request finishes or ctx is done.
func (c *Client) Fill(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	data, err := c.fetch(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.pool = append(c.pool, data...)
	c.mu.Unlock()
	return nil
}

// Float draws from the buffered pool in [0, 1). A low pool starts one
// background refill; an empty pool falls back to crypto/rand.
func (c *Client) Float() float64 {
	if !c.Enabled() {
		return cryptoFloat()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pool) < poolLowWater && !c.refilling {
		c.refilling = true
		go c.refillInBackground()
	}
	if len(c.pool) == 0 {
		return cryptoFloat()
	}

	val := c.pool[0]
	c.pool = c.pool[1:]
	return val
}

func (c *Client) refillInBackground() {
	ctx, cancel := context.WithTimeout(context.Background(), c.client.Timeout)
	defer cancel()

	data, err := c.fetch(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.refilling = false
	if err != nil {
		slog.Debug("random.org refill failed", "error", err)
		return
	}
	c.pool = append(c.pool, data...)
	slog.Debug("random.org pool refilled", "count", len(data), "pool", len(c.pool))
}

// NormFloat64 returns a standard normal variate built from two uniform
// draws with the Box-Muller transform.
func (c *Client) NormFloat64() float64 {
	u1 := 1 - c.Float() // (0, 1]
	u2 := c.Float()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

// Seed returns a random seed for a math/rand source.
func (c *Client) Seed() int64 {
	return int64(c.Float() * float64(math.MaxInt64))
}

// Source returns the source a new session should draw samples from: the
// client itself when random.org is enabled, otherwise a math/rand generator
// seeded from crypto/rand. The returned value is not safe for concurrent
// use unless it is the client.
func Source(c *Client) interface{ NormFloat64() float64 } {
	if c.Enabled() {
		return c
	}
	return mrand.New(mrand.NewSource(c.Seed()))
}

type fractionsRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  fractionsParams `json:"params"`
	ID      int             `json:"id"`
}

type fractionsParams struct {
	APIKey        string `json:"apiKey"`
	N             int    `json:"n"`
	DecimalPlaces int    `json:"decimalPlaces"`
}

type fractionsResponse struct {
	Result *struct {
		Random struct {
			Data []float64 `json:"data"`
		} `json:"random"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// fetch asks random.org for one batch of decimal fractions.
func (c *Client) fetch(ctx context.Context) ([]float64, error) {
	body, err := json.Marshal(fractionsRequest{
		JSONRPC: "2.0",
		Method:  "generateDecimalFractions",
		Params:  fractionsParams{APIKey: c.apiKey, N: poolRefillSize, DecimalPlaces: 6},
		ID:      1,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrStatus, resp.Status)
	}

	var decoded fractionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	switch {
	case decoded.Error != nil:
		return nil, fmt.Errorf("%w %d: %s", ErrRemote, decoded.Error.Code, decoded.Error.Message)
	case decoded.Result == nil || len(decoded.Result.Random.Data) == 0:
		return nil, fmt.Errorf("%w: empty result", ErrRemote)
	}
	return decoded.Result.Random.Data, nil
}

// cryptoFloat is a uniform float64 in [0, 1) from crypto/rand.
func cryptoFloat() float64 {
	n, err := rand.Int(rand.Reader, uniformSpan)
	if err != nil {
		return 0.5
	}
	return float64(n.Int64()) / (1 << 53)
}
