// Package clob provides REST and WebSocket clients for the Polymarket CLOB
// (Central Limit Order Book) API. Only read paths are implemented: market
// metadata, the operator's fills, and the real-time orderbook feed. The
// package never places or cancels orders.
package clob

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/updownlabs/sidepricer/internal/crypto"
	"github.com/updownlabs/sidepricer/internal/domain"
)

// rateLimitKey is the shared limiter key for all CLOB REST calls.
const rateLimitKey = "clob_api"

// maxListPages caps cursor-following loops so a misbehaving endpoint cannot
// spin the scraper forever.
const maxListPages = 500

// Client is the REST client for the CLOB API. It handles market listing and
// authenticated trade (fill) queries.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	hmacAuth   *crypto.HMACAuth

	limiter    domain.RateLimiter
	rateLimit  int
	rateWindow time.Duration
}

// NewClient creates a new CLOB REST client.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com".
// signer is the EIP-712 signer for auth messages; it may be nil when hmac
// credentials are supplied directly via config.
// hmac is the HMAC authenticator for API requests (from config or DeriveAPIKey).
// limiter may be nil, in which case requests are not throttled.
func NewClient(baseURL string, signer *crypto.Signer, hmac *crypto.HMACAuth, limiter domain.RateLimiter, rateLimit int, rateWindow time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer:     signer,
		hmacAuth:   hmac,
		limiter:    limiter,
		rateLimit:  rateLimit,
		rateWindow: rateWindow,
	}
}

// HasCredentials reports whether the client holds the HMAC triple required
// for authenticated endpoints such as the trades listing.
func (c *Client) HasCredentials() bool {
	return c.hmacAuth != nil && c.hmacAuth.Key != "" && c.hmacAuth.Secret != "" && c.hmacAuth.Passphrase != ""
}

// DeriveAPIKey performs the CLOB auth flow to obtain an HMAC API key. It
// signs a ClobAuth EIP-712 message and sends it with L1 headers to the
// derive-api-key endpoint. L1 requires POLY_ADDRESS, POLY_SIGNATURE,
// POLY_TIMESTAMP, POLY_NONCE. On success it populates the client's hmacAuth.
func (c *Client) DeriveAPIKey(ctx context.Context) error {
	if c.signer == nil {
		return fmt.Errorf("clob: derive api key: no signer configured")
	}

	address := c.signer.Address().Hex()
	timestamp := time.Now().Unix()
	nonce := int64(0)

	sig, err := c.signer.SignAuthMessage(timestamp, nonce)
	if err != nil {
		return fmt.Errorf("clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", fmt.Sprintf("%d", timestamp))
	req.Header.Set("POLY_NONCE", fmt.Sprintf("%d", nonce))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("clob: auth request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("clob: read auth response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("clob: auth failed (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return fmt.Errorf("clob: decode auth response: %w", err)
	}

	c.hmacAuth = &crypto.HMACAuth{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}

	return nil
}

// GetMarket retrieves a single market by its condition ID.
func (c *Client) GetMarket(ctx context.Context, conditionID string) (domain.Market, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/markets/"+conditionID, false)
	if err != nil {
		return domain.Market{}, fmt.Errorf("clob: get market %s: %w", conditionID, err)
	}

	var apiMarket APIMarket
	if err := json.Unmarshal(respBody, &apiMarket); err != nil {
		return domain.Market{}, fmt.Errorf("clob: decode market: %w", err)
	}
	if !apiMarket.IsBinary() {
		return domain.Market{}, fmt.Errorf("clob: market %s is not two-sided: %w", conditionID, domain.ErrNotFound)
	}

	return apiMarket.ToDomainMarket(), nil
}

// ListMarkets fetches one page of markets starting at the given cursor. An
// empty cursor requests the first page. Markets without exactly two outcome
// tokens are skipped. The returned cursor is empty once the last page has
// been consumed.
func (c *Client) ListMarkets(ctx context.Context, cursor string) ([]domain.Market, string, error) {
	path := "/markets"
	if cursor != "" {
		path += "?next_cursor=" + url.QueryEscape(cursor)
	}

	respBody, err := c.doRequest(ctx, http.MethodGet, path, false)
	if err != nil {
		return nil, "", fmt.Errorf("clob: list markets: %w", err)
	}

	var page marketsPage
	if err := json.Unmarshal(respBody, &page); err != nil {
		return nil, "", fmt.Errorf("clob: decode markets page: %w", err)
	}

	markets := make([]domain.Market, 0, len(page.Data))
	for i := range page.Data {
		if !page.Data[i].IsBinary() {
			continue
		}
		markets = append(markets, page.Data[i].ToDomainMarket())
	}

	next := page.NextCursor
	if next == endCursor {
		next = ""
	}
	return markets, next, nil
}

// ListAllMarkets follows cursors until the markets listing is exhausted.
func (c *Client) ListAllMarkets(ctx context.Context) ([]domain.Market, error) {
	var all []domain.Market
	cursor := ""

	for page := 0; page < maxListPages; page++ {
		markets, next, err := c.ListMarkets(ctx, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, markets...)
		if next == "" {
			return all, nil
		}
		cursor = next
	}

	return nil, fmt.Errorf("clob: list all markets: exceeded %d pages", maxListPages)
}

// ListTrades fetches one page of the operator's fills, optionally filtered to
// a single market (condition ID) and to trades matched after the given time.
// It requires HMAC credentials. The raw response body is returned alongside
// the decoded page so callers can archive the page verbatim.
func (c *Client) ListTrades(ctx context.Context, market string, after time.Time, cursor string) (TradesPage, []byte, error) {
	q := url.Values{}
	if market != "" {
		q.Set("market", market)
	}
	if !after.IsZero() {
		q.Set("after", fmt.Sprintf("%d", after.Unix()))
	}
	if cursor != "" {
		q.Set("next_cursor", cursor)
	}

	path := "/data/trades"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}

	respBody, err := c.doRequest(ctx, http.MethodGet, path, true)
	if err != nil {
		return TradesPage{}, nil, fmt.Errorf("clob: list trades: %w", err)
	}

	var page TradesPage
	if err := json.Unmarshal(respBody, &page); err != nil {
		return TradesPage{}, nil, fmt.Errorf("clob: decode trades page: %w", err)
	}

	if page.NextCursor == endCursor {
		page.NextCursor = ""
	}
	return page, respBody, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// throttle blocks until the shared rate limiter admits one more request, or
// the context is cancelled. A nil limiter admits everything.
func (c *Client) throttle(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx, rateLimitKey, c.rateLimit, c.rateWindow); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return nil
}

// doRequest builds, optionally signs (HMAC), sends, and reads an HTTP request
// against the CLOB API. It returns the raw response body.
func (c *Client) doRequest(ctx context.Context, method, path string, authenticated bool) ([]byte, error) {
	if authenticated && !c.HasCredentials() {
		return nil, fmt.Errorf("%s %s: %w", method, path, domain.ErrUnauthorized)
	}

	if err := c.throttle(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if authenticated {
		address := ""
		if c.signer != nil {
			address = c.signer.Address().Hex()
		}
		headers := c.hmacAuth.L2Headers(address, method, path, "")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
