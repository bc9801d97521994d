// Package apiclient is a typed HTTP client for the safetransfer API, shared
// by escrowctl and the MCP server.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mbd888/safetransfer/internal/address"
	"github.com/mbd888/safetransfer/internal/circuitbreaker"
	"github.com/mbd888/safetransfer/internal/escrow"
	"github.com/mbd888/safetransfer/internal/ledger"
)

// DefaultTimeout bounds each request unless WithHTTPClient overrides it.
const DefaultTimeout = 30 * time.Second

// Client talks to one safetransfer server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBreaker guards requests with b, keyed by server host. Transport
// errors and 5xx responses count as failures; taxonomy errors do not.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// IsUpstreamFailure reports whether err means the server is unreachable or
// broken rather than rejecting the request.
func IsUpstreamFailure(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500
	}
	return !errors.Is(err, context.Canceled)
}

// New creates a client for baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response. Code carries the server's error kind,
// e.g. "WrongStage" or "not_found".
type APIError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error (%d %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("API error (%d)", e.Status)
}

// ErrorCode returns the server error code carried by err, or "".
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.breaker == nil {
		return c.exchange(req, out)
	}
	return c.breaker.Do(u.Host, func() error { return c.exchange(req, out) })
}

func (c *Client) exchange(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(respBody, apiErr) != nil || apiErr.Code == "" {
			apiErr.Code = http.StatusText(resp.StatusCode)
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Info describes the server's escrow program.
type Info struct {
	Name    string          `json:"name"`
	Version string          `json:"version"`
	Program address.Address `json:"program"`
	Backend string          `json:"backend"`
	Faucet  bool            `json:"faucet"`
}

// Info returns the program address requests must be signed against.
func (c *Client) Info(ctx context.Context) (*Info, error) {
	var info Info
	if err := c.do(ctx, http.MethodGet, "/v1/info", nil, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Derived is the response of Derive.
type Derived struct {
	Program   address.Address  `json:"program"`
	Addresses escrow.Addresses `json:"addresses"`
}

// Derive computes the record and holding addresses of an escrow instance.
func (c *Client) Derive(ctx context.Context, t escrow.Tuple) (*Derived, error) {
	q := url.Values{}
	q.Set("sender", t.Sender.String())
	q.Set("receiver", t.Receiver.String())
	q.Set("asset", t.Asset.String())
	q.Set("instanceId", strconv.FormatUint(t.InstanceID, 10))

	var out Derived
	if err := c.do(ctx, http.MethodGet, "/v1/escrows/derive", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type escrowEnvelope struct {
	Escrow escrow.Result `json:"escrow"`
}

func (c *Client) escrowCall(ctx context.Context, method, path string, body any) (*escrow.Result, error) {
	var out escrowEnvelope
	if err := c.do(ctx, method, path, nil, body, &out); err != nil {
		return nil, err
	}
	return &out.Escrow, nil
}

// GetEscrow reads the record stored at addr.
func (c *Client) GetEscrow(ctx context.Context, addr address.Address) (*escrow.Result, error) {
	return c.escrowCall(ctx, http.MethodGet, "/v1/escrows/"+addr.String(), nil)
}

// Initialize submits a signed initialize request.
func (c *Client) Initialize(ctx context.Context, req escrow.InitializeRequest) (*escrow.Result, error) {
	return c.escrowCall(ctx, http.MethodPost, "/v1/escrows", req)
}

// Complete submits a signed complete request.
func (c *Client) Complete(ctx context.Context, req escrow.CompleteRequest) (*escrow.Result, error) {
	return c.escrowCall(ctx, http.MethodPost, "/v1/escrows/complete", req)
}

// PullBack submits a signed pull-back request.
func (c *Client) PullBack(ctx context.Context, req escrow.PullBackRequest) (*escrow.Result, error) {
	return c.escrowCall(ctx, http.MethodPost, "/v1/escrows/pull-back", req)
}

// Account reads one ledger account.
func (c *Client) Account(ctx context.Context, addr address.Address) (*ledger.Account, error) {
	var out struct {
		Account ledger.Account `json:"account"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/accounts/"+addr.String(), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out.Account, nil
}

// TokenBalance reads owner's associated token account for asset.
func (c *Client) TokenBalance(ctx context.Context, owner, asset address.Address) (*ledger.TokenBalance, error) {
	var out struct {
		Balance ledger.TokenBalance `json:"balance"`
	}
	path := "/v1/accounts/" + owner.String() + "/tokens/" + asset.String()
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out.Balance, nil
}

// Airdrop credits lamports through the dev faucet.
func (c *Client) Airdrop(ctx context.Context, owner address.Address, lamports uint64) (*ledger.Account, error) {
	var out struct {
		Account ledger.Account `json:"account"`
	}
	body := ledger.AirdropRequest{Owner: owner, Lamports: lamports}
	if err := c.do(ctx, http.MethodPost, "/v1/dev/airdrop", nil, body, &out); err != nil {
		return nil, err
	}
	return &out.Account, nil
}

// Mint credits tokens through the dev faucet.
func (c *Client) Mint(ctx context.Context, owner, asset address.Address, amount uint64) (*ledger.TokenBalance, error) {
	var out struct {
		Balance ledger.TokenBalance `json:"balance"`
	}
	body := ledger.MintRequest{Owner: owner, Asset: asset, Amount: amount}
	if err := c.do(ctx, http.MethodPost, "/v1/dev/mint", nil, body, &out); err != nil {
		return nil, err
	}
	return &out.Balance, nil
}
