package jupiter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout bounds a single quote or swap request.
const DefaultTimeout = 10 * time.Second

// Client talks to the quote/swap aggregator HTTP API. Requests are sent
// once, without retries: a failed quote or build is terminal for the
// execution attempt that issued it.
type Client struct {
	baseURL string
	client  *http.Client
}

// Option configures Client.
type Option func(*Client)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// NewClient creates an aggregator API client.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// QuoteRequest asks for a priced route between two mints.
type QuoteRequest struct {
	InputMint           string
	OutputMint          string
	Amount              uint64 // raw units of the input mint
	SlippageBps         int
	AllowIndirectRoutes bool
}

// QuoteResponse is a priced route graph. Amounts are decimal strings in raw
// units. The response is passed back verbatim (possibly with a narrowed
// route plan) when requesting the swap transaction.
type QuoteResponse struct {
	InputMint            string     `json:"inputMint"`
	OutputMint           string     `json:"outputMint"`
	InAmount             string     `json:"inAmount"`
	OutAmount            string     `json:"outAmount"`
	OtherAmountThreshold string     `json:"otherAmountThreshold,omitempty"`
	PriceImpactPct       string     `json:"priceImpactPct,omitempty"`
	SlippageBps          int        `json:"slippageBps"`
	RoutePlan            []RouteLeg `json:"routePlan"`
}

// RouteLeg is one hop through a liquidity venue.
type RouteLeg struct {
	AmmKey     string `json:"ammKey"`
	Label      string `json:"label,omitempty"`
	InputMint  string `json:"inputMint"`
	OutputMint string `json:"outputMint"`
	InAmount   string `json:"inAmount,omitempty"`
	OutAmount  string `json:"outAmount,omitempty"`
}

// apiError is the error body returned by the aggregator.
type apiError struct {
	Error string `json:"error"`
}

// Quote requests a priced route for the given pair and amount.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (*QuoteResponse, error) {
	query := url.Values{}
	query.Set("inputMint", req.InputMint)
	query.Set("outputMint", req.OutputMint)
	query.Set("amount", strconv.FormatUint(req.Amount, 10))
	query.Set("slippageBps", strconv.Itoa(req.SlippageBps))
	query.Set("allowIndirectRoutes", strconv.FormatBool(req.AllowIndirectRoutes))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/quote?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	var quote QuoteResponse
	if err := c.send(httpReq, &quote); err != nil {
		return nil, fmt.Errorf("quote: %w", err)
	}
	return &quote, nil
}

// swapRequest asks for a signable transaction against the finalized route.
type swapRequest struct {
	QuoteResponse           *QuoteResponse `json:"quoteResponse"`
	UserPublicKey           string         `json:"userPublicKey"`
	WrapAndUnwrapNative     bool           `json:"wrapAndUnwrapNative"`
	LegacyTransactionFormat bool           `json:"legacyTransactionFormat"`
}

type swapResponse struct {
	TransactionBlob string `json:"transactionBlob"`
}

// SwapTransaction requests a signable transaction blob for the quote,
// payable by userPublicKey. Native SOL legs are wrapped and unwrapped by
// the aggregator. The blob is base64; its inner encoding is for the caller
// to detect.
func (c *Client) SwapTransaction(ctx context.Context, quote *QuoteResponse, userPublicKey string, legacy bool) (string, error) {
	body, err := json.Marshal(swapRequest{
		QuoteResponse:           quote,
		UserPublicKey:           userPublicKey,
		WrapAndUnwrapNative:     true,
		LegacyTransactionFormat: legacy,
	})
	if err != nil {
		return "", fmt.Errorf("marshal swap request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/swap", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var swap swapResponse
	if err := c.send(httpReq, &swap); err != nil {
		return "", fmt.Errorf("swap: %w", err)
	}
	if swap.TransactionBlob == "" {
		return "", fmt.Errorf("swap: response carries no transaction blob")
	}
	return swap.TransactionBlob, nil
}

// send performs one exchange and decodes the response into result.
func (c *Client) send(req *http.Request, result interface{}) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("status %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
