// Package nearrpc reads contract views from NEAR JSON-RPC nodes, failing over
// between a primary endpoint and backups.
package nearrpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Cogwheel-Validator/comet-router/comet/runtime"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "nearrpc").Logger()
}

var (
	ErrNoEndpoints = errors.New("at least one RPC endpoint is required")
	// ErrContract is wrapped when the node ran the view and the contract
	// itself failed. Such errors are not retried.
	ErrContract = errors.New("contract view failed")
)

// FailoverConfig controls failover behavior
type FailoverConfig struct {
	// MaxRetries is the number of times to retry a failed request on the current endpoint
	MaxRetries int
	// RetryDelay is the initial delay between retries (doubles with each retry)
	RetryDelay time.Duration
	// HealthCheckInterval is how often to check if the primary endpoint is back up
	HealthCheckInterval time.Duration
	// Timeout is the HTTP request timeout
	Timeout time.Duration
	// Finality is the block finality views are evaluated at
	Finality string
}

func DefaultFailoverConfig() FailoverConfig {
	return FailoverConfig{
		MaxRetries:          2,
		RetryDelay:          500 * time.Millisecond,
		HealthCheckInterval: 30 * time.Second,
		Timeout:             10 * time.Second,
		Finality:            "final",
	}
}

// Client calls query/call_function on a NEAR node.
type Client struct {
	httpClient *http.Client
	primaryURL string
	backupURLs []string
	currentURL string
	mu         sync.RWMutex
	config     FailoverConfig

	stopCh    chan struct{}
	stoppedCh chan struct{}
	closeOnce sync.Once
}

// NewClient validates the endpoints and, when backups exist, starts a
// background check that moves back to the primary once it is healthy.
func NewClient(endpoints []string, config FailoverConfig) (*Client, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	for _, e := range endpoints {
		u, err := url.Parse(e)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid RPC endpoint %q", e)
		}
	}
	if config.Finality == "" {
		config.Finality = "final"
	}

	c := &Client{
		httpClient: &http.Client{Timeout: config.Timeout},
		primaryURL: endpoints[0],
		backupURLs: endpoints[1:],
		currentURL: endpoints[0],
		config:     config,
	}
	if len(c.backupURLs) > 0 && config.HealthCheckInterval > 0 {
		c.stopCh = make(chan struct{})
		c.stoppedCh = make(chan struct{})
		go c.healthLoop()
	}

	log.Info().
		Str("primary", c.primaryURL).
		Int("backups", len(c.backupURLs)).
		Msg("NEAR RPC client initialized")
	return c, nil
}

// Close stops the health checker.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if c.stopCh != nil {
			close(c.stopCh)
			<-c.stoppedCh
		}
	})
}

func (c *Client) healthLoop() {
	defer close(c.stoppedCh)
	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.restorePrimary()
		}
	}
}

func (c *Client) restorePrimary() {
	if c.CurrentURL() == c.primaryURL {
		return
	}
	if c.isEndpointHealthy(c.primaryURL) {
		c.mu.Lock()
		c.currentURL = c.primaryURL
		c.mu.Unlock()
		log.Info().Str("url", c.primaryURL).Msg("Restored primary endpoint")
	}
}

// isEndpointHealthy asks the node for its status.
func (c *Client) isEndpointHealthy(endpoint string) bool {
	resp, err := c.httpClient.Get(endpoint + "/status")
	if err != nil {
		log.Debug().Err(err).Str("url", endpoint).Msg("Health check failed")
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	return resp.StatusCode == http.StatusOK
}

// CurrentURL is the endpoint requests currently go to.
func (c *Client) CurrentURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentURL
}

// failover switches to the next healthy endpoint after the current one.
// Health checks run without holding the lock.
func (c *Client) failover() bool {
	from := c.CurrentURL()
	all := append([]string{c.primaryURL}, c.backupURLs...)
	current := 0
	for i, u := range all {
		if u == from {
			current = i
			break
		}
	}
	for i := 1; i < len(all); i++ {
		next := all[(current+i)%len(all)]
		if !c.isEndpointHealthy(next) {
			continue
		}
		c.mu.Lock()
		switched := c.currentURL == from
		if switched {
			c.currentURL = next
		}
		c.mu.Unlock()
		if switched {
			log.Info().Str("url", next).Msg("Failover to endpoint")
		}
		// someone else already moved off the failed endpoint
		return true
	}
	log.Warn().Str("url", from).Msg("All endpoints unhealthy, staying on current")
	return false
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type callFunctionParams struct {
	RequestType string            `json:"request_type"`
	Finality    string            `json:"finality"`
	AccountID   runtime.AccountID `json:"account_id"`
	MethodName  string            `json:"method_name"`
	ArgsBase64  string            `json:"args_base64"`
}

type rpcError struct {
	Name    string          `json:"name"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Cause   *struct {
		Name string          `json:"name"`
		Info json.RawMessage `json:"info"`
	} `json:"cause"`
}

func (e *rpcError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Cause.Name, e.Cause.Info)
	}
	return fmt.Sprintf("rpc error %d: %s %s", e.Code, e.Message, e.Data)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// CallResult is the result of query/call_function.
type CallResult struct {
	Result      []byte   `json:"result"`
	Logs        []string `json:"logs"`
	BlockHeight uint64   `json:"block_height"`
	BlockHash   string   `json:"block_hash"`
	Error       string   `json:"error,omitempty"`
}

// UnmarshalJSON accepts the node's byte array encoding of the result.
func (r *CallResult) UnmarshalJSON(data []byte) error {
	var raw struct {
		Result      []int    `json:"result"`
		Logs        []string `json:"logs"`
		BlockHeight uint64   `json:"block_height"`
		BlockHash   string   `json:"block_hash"`
		Error       string   `json:"error"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Result = make([]byte, len(raw.Result))
	for i, b := range raw.Result {
		if b < 0 || b > 255 {
			return fmt.Errorf("result byte %d out of range", b)
		}
		r.Result[i] = byte(b)
	}
	r.Logs = raw.Logs
	r.BlockHeight = raw.BlockHeight
	r.BlockHash = raw.BlockHash
	r.Error = raw.Error
	return nil
}

// post sends one JSON-RPC request, retrying with exponential backoff and
// then failing over once.
func (c *Client) post(ctx context.Context, body []byte) (json.RawMessage, error) {
	var lastErr error
	delay := c.config.RetryDelay

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		result, err := c.postOnce(ctx, c.CurrentURL(), body)
		if err == nil || errors.Is(err, ErrContract) {
			return result, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}

	if len(c.backupURLs) > 0 && c.failover() {
		result, err := c.postOnce(ctx, c.CurrentURL(), body)
		if err != nil {
			return nil, fmt.Errorf("failover request failed: %w (primary: %w)", err, lastErr)
		}
		return result, nil
	}
	return nil, fmt.Errorf("request failed after %d retries: %w", c.config.MaxRetries+1, lastErr)
}

func (c *Client) postOnce(ctx context.Context, endpoint string, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(data))
	}

	var rr rpcResponse
	if err := json.Unmarshal(data, &rr); err != nil {
		return nil, fmt.Errorf("failed to parse RPC response: %w", err)
	}
	if rr.Error != nil {
		if rr.Error.Cause != nil && rr.Error.Cause.Name == "CONTRACT_EXECUTION_ERROR" {
			return nil, fmt.Errorf("%w: %w", ErrContract, rr.Error)
		}
		return nil, rr.Error
	}
	return rr.Result, nil
}

// CallFunction runs a view method and returns the full node result.
func (c *Client) CallFunction(ctx context.Context, account runtime.AccountID, method string, args []byte) (*CallResult, error) {
	if args == nil {
		args = []byte(`{}`)
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      "comet",
		Method:  "query",
		Params: callFunctionParams{
			RequestType: "call_function",
			Finality:    c.config.Finality,
			AccountID:   account,
			MethodName:  method,
			ArgsBase64:  base64.StdEncoding.EncodeToString(args),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	raw, err := c.post(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("view %s.%s: %w", account, method, err)
	}
	var result CallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to parse call result: %w", err)
	}
	// older nodes report contract errors inside the result
	if result.Error != "" {
		return nil, fmt.Errorf("view %s.%s: %w: %s", account, method, ErrContract, result.Error)
	}
	return &result, nil
}

// View returns the raw bytes a view method returned, so the client can
// stand in for the local executor wherever views are read.
func (c *Client) View(ctx context.Context, account runtime.AccountID, method string, args []byte) ([]byte, error) {
	result, err := c.CallFunction(ctx, account, method, args)
	if err != nil {
		return nil, err
	}
	return result.Result, nil
}
