package intentfusion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the intentd REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// TokenSpec is one asset leg of an intent.
type TokenSpec struct {
	Symbol  string  `json:"symbol"`
	Chain   string  `json:"chain"`
	Amount  float64 `json:"amount"`
	Address string  `json:"address,omitempty"`
}

// Intent is a parsed and committed user intent.
type Intent struct {
	User          string      `json:"user"`
	Action        string      `json:"action"`
	Tokens        []TokenSpec `json:"tokens"`
	TotalValueUSD float64     `json:"total_value_usd"`
	DurationDays  int         `json:"duration_days"`
	Strategy      string      `json:"strategy"`
	MaxGasUSD     float64     `json:"max_gas_usd"`
	Timestamp     int64       `json:"timestamp"`
	Commitment    string      `json:"commitment"`
}

// Plan is the execution plan attached to a bid.
type Plan struct {
	Solver                   string   `json:"solver"`
	Protocol                 string   `json:"protocol"`
	Route                    string   `json:"route"`
	APYBps10                 int      `json:"apy_bps10"`
	GasUSD                   float64  `json:"gas_usd"`
	EstimatedDurationSeconds int      `json:"estimated_duration_seconds"`
	Steps                    []string `json:"steps,omitempty"`
}

// Bid is a sealed solver bid. ClaimedAPY is expressed in basis points x10.
type Bid struct {
	Solver        string  `json:"solver"`
	Proof         string  `json:"proof"`
	ClaimedAPY    int     `json:"claimed_apy_bps10"`
	ClaimedGasUSD float64 `json:"claimed_gas_usd"`
	Valid         bool    `json:"valid"`
	Plan          *Plan   `json:"plan,omitempty"`
	Timestamp     int64   `json:"timestamp"`
}

// Decision is the admission verdict recorded for one bid.
type Decision struct {
	Solver     string `json:"solver"`
	Proof      string `json:"proof"`
	Admissible bool   `json:"admissible"`
	Reason     string `json:"reason,omitempty"`
}

// AuctionResult is the stored outcome of an auction.
type AuctionResult struct {
	Commitment string     `json:"commitment"`
	Strategy   string     `json:"strategy"`
	Bids       []Bid      `json:"bids"`
	Decisions  []Decision `json:"decisions"`
	Winner     Bid        `json:"winner"`
	Timestamp  int64      `json:"auction_timestamp"`
}

// Range summarises a numeric series.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
}

// AuctionStats summarises the bids of an auction.
type AuctionStats struct {
	TotalBids int    `json:"total_bids"`
	ValidBids int    `json:"valid_bids"`
	Winner    string `json:"winner"`
	APYRange  *Range `json:"apy_range,omitempty"`
	GasRange  *Range `json:"gas_range,omitempty"`
}

// AgentOutcome reports what one solver answered.
type AgentOutcome struct {
	Solver  string `json:"solver"`
	Bid     *Bid   `json:"bid,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Elapsed int64  `json:"elapsed"`
}

// Submission is returned by Submit and Auction.
type Submission struct {
	Intent   *Intent           `json:"intent"`
	Auction  *AuctionResult    `json:"auction"`
	Stats    AuctionStats      `json:"stats"`
	Agents   []AgentOutcome    `json:"agents,omitempty"`
	Metadata map[string]string `json:"public_metadata,omitempty"`
}

// Authorization records the user's approval of the winning solver.
type Authorization struct {
	Commitment   string `json:"commitment"`
	WinnerSolver string `json:"winner_solver"`
	AuthorizedAt int64  `json:"authorized_at"`
	Signature    string `json:"signature"`
}

// FinalPosition describes where funds ended up after execution.
type FinalPosition struct {
	Protocol     string  `json:"protocol"`
	Chain        string  `json:"chain"`
	Amount       string  `json:"amount"`
	AmountUSD    float64 `json:"amount_usd"`
	PositionType string  `json:"position_type"`
	APY          float64 `json:"apy"`
	Timestamp    int64   `json:"timestamp"`
	ChainID      string  `json:"chain_id,omitempty"`
	BlockNumber  string  `json:"block_number,omitempty"`
}

// ExecutionLog is the record of an executed intent.
type ExecutionLog struct {
	Commitment             string        `json:"commitment"`
	Solver                 string        `json:"solver"`
	Txs                    []string      `json:"txs"`
	TotalGasUSD            float64       `json:"total_gas_usd"`
	FinalPosition          FinalPosition `json:"final_position"`
	ExecutionTimestamp     int64         `json:"execution_timestamp"`
	Proof                  string        `json:"proof"`
	FinalBalanceCommitment string        `json:"final_balance_commitment"`
}

// Status is the lifecycle view of a commitment.
type Status struct {
	Commitment    string         `json:"commitment"`
	Exists        bool           `json:"exists"`
	Stage         string         `json:"stage"`
	Auctioned     bool           `json:"auctioned"`
	Authorized    bool           `json:"authorized"`
	Executed      bool           `json:"executed"`
	Winner        string         `json:"winner,omitempty"`
	Txs           []string       `json:"txs,omitempty"`
	FinalPosition *FinalPosition `json:"final_position,omitempty"`
}

// APIError represents a structured failure returned by intentd.
type APIError struct {
	StatusCode     int
	Code           string            `json:"code"`
	Kind           string            `json:"kind"`
	Message        string            `json:"message"`
	Classification string            `json:"classification"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("intentfusion api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("intentfusion api error (%d): %s", e.StatusCode, e.Message)
}

// IsClientError reports whether the failure was caused by the request.
func (e *APIError) IsClientError() bool {
	return e != nil && e.Classification == "client"
}

// NewClient instantiates a client for the intentd API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.New("base url must include scheme and host")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Submit parses the text into an intent and runs the auction.
func (c *Client) Submit(ctx context.Context, text, user string) (*Submission, error) {
	var sub Submission
	if err := c.post(ctx, "/api/v1/intents", intentRequest{Text: text, User: user}, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// Parse stores the intent without running the auction.
func (c *Client) Parse(ctx context.Context, text, user string) (*Intent, error) {
	var in Intent
	if err := c.post(ctx, "/api/v1/intents/parse", intentRequest{Text: text, User: user}, &in); err != nil {
		return nil, err
	}
	return &in, nil
}

// Auction runs the auction for a parsed intent.
func (c *Client) Auction(ctx context.Context, commitment string) (*Submission, error) {
	var sub Submission
	if err := c.post(ctx, intentPath(commitment, "auction"), nil, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// Authorize approves the winning solver. An empty signature is recorded as unsigned.
func (c *Client) Authorize(ctx context.Context, commitment, signature string) (*Authorization, error) {
	var auth Authorization
	if err := c.post(ctx, intentPath(commitment, "authorize"), authorizeRequest{Signature: signature}, &auth); err != nil {
		return nil, err
	}
	return &auth, nil
}

// Execute runs the authorized plan.
func (c *Client) Execute(ctx context.Context, commitment string) (*ExecutionLog, error) {
	var log ExecutionLog
	if err := c.post(ctx, intentPath(commitment, "execute"), nil, &log); err != nil {
		return nil, err
	}
	return &log, nil
}

// Status fetches the lifecycle view of a commitment.
func (c *Client) Status(ctx context.Context, commitment string) (*Status, error) {
	var status Status
	if err := c.get(ctx, intentPath(commitment, ""), nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// List returns the most recent intents.
func (c *Client) List(ctx context.Context, limit int) ([]Intent, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var intents []Intent
	if err := c.get(ctx, "/api/v1/intents", query, &intents); err != nil {
		return nil, err
	}
	return intents, nil
}

// Reset clears all lifecycle state. Requires an admin token when auth is enabled.
func (c *Client) Reset(ctx context.Context) error {
	return c.post(ctx, "/api/v1/admin/reset", nil, nil)
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken overrides the stored access token.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

type intentRequest struct {
	Text string `json:"text"`
	User string `json:"user"`
}

type authorizeRequest struct {
	Signature string `json:"signature"`
}

func intentPath(commitment, action string) string {
	p := "/api/v1/intents/" + url.PathEscape(commitment)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: &apiErr}); err != nil {
				apiErr.Message = ""
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
