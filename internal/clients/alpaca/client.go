// Package alpaca provides a REST client for the Alpaca brokerage trading API.
package alpaca

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/aristath/swingbot/internal/domain"
)

const (
	PaperBaseURL = "https://paper-api.alpaca.markets"
	LiveBaseURL  = "https://api.alpaca.markets"

	// Alpaca allows 200 requests per minute per key
	requestsPerMinute = 200
	requestBurst      = 5
)

// APIError is a non-2xx response from the API
type APIError struct {
	StatusCode int
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("alpaca API returned status %d: %s", e.StatusCode, e.Message)
}

// Client is the Alpaca API client for one account
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	limiter    *rate.Limiter
	entropy    io.Reader
	log        zerolog.Logger
}

// NewClient creates a client for account. An empty base URL selects the paper or live
// endpoint from the account type.
func NewClient(account domain.Account, log zerolog.Logger) *Client {
	baseURL := account.BaseURL
	if baseURL == "" {
		baseURL = PaperBaseURL
		if account.Type == domain.AccountLive {
			baseURL = LiveBaseURL
		}
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    account.APIKey,
		apiSecret: account.APISecret,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Every(time.Minute/requestsPerMinute), requestBurst),
		entropy: ulid.Monotonic(rand.Reader, 0),
		log: log.With().
			Str("client", "alpaca").
			Int64("account_id", account.ID).
			Logger(),
	}
}

// Factory adapts NewClient to domain.BrokerFactory
func Factory(log zerolog.Logger) domain.BrokerFactory {
	return func(account domain.Account) domain.Broker {
		return NewClient(account, log)
	}
}

type accountResponse struct {
	BuyingPower    decimal.Decimal `json:"buying_power"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	Cash           decimal.Decimal `json:"cash"`
}

// Account returns buying power and portfolio value
func (c *Client) Account(ctx context.Context) (*domain.AccountInfo, error) {
	var resp accountResponse
	if err := c.do(ctx, http.MethodGet, "/v2/account", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &domain.AccountInfo{
		BuyingPower:    resp.BuyingPower.InexactFloat64(),
		PortfolioValue: resp.PortfolioValue.InexactFloat64(),
		Cash:           resp.Cash.InexactFloat64(),
	}, nil
}

type positionResponse struct {
	Symbol        string          `json:"symbol"`
	Qty           decimal.Decimal `json:"qty"`
	Side          string          `json:"side"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	MarketValue   decimal.Decimal `json:"market_value"`
}

// Position returns the holding in symbol, or nil when there is none
func (c *Client) Position(ctx context.Context, symbol string) (*domain.Position, error) {
	var resp positionResponse
	err := c.do(ctx, http.MethodGet, "/v2/positions/"+strings.ToUpper(symbol), nil, &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position %s: %w", symbol, err)
	}

	qty := resp.Qty
	if resp.Side == "short" && qty.IsPositive() {
		qty = qty.Neg()
	}
	if qty.IsZero() {
		return nil, nil
	}
	return &domain.Position{
		Symbol:        resp.Symbol,
		Quantity:      qty.InexactFloat64(),
		AvgEntryPrice: resp.AvgEntryPrice.InexactFloat64(),
		MarketValue:   resp.MarketValue.InexactFloat64(),
	}, nil
}

type orderRequest struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	ClientOrderID string `json:"client_order_id"`
}

type orderResponse struct {
	ID             string           `json:"id"`
	ClientOrderID  string           `json:"client_order_id"`
	Symbol         string           `json:"symbol"`
	Qty            decimal.Decimal  `json:"qty"`
	Side           string           `json:"side"`
	FilledAvgPrice *decimal.Decimal `json:"filled_avg_price"`
	Status         string           `json:"status"`
}

// SubmitOrder places a day market order. A client order id is generated when absent.
func (c *Client) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("order quantity must be positive, got %v", req.Quantity)
	}
	if req.ClientOrderID == "" {
		req.ClientOrderID = ulid.MustNew(ulid.Timestamp(time.Now()), c.entropy).String()
	}

	body := orderRequest{
		Symbol:        strings.ToUpper(req.Symbol),
		Qty:           decimal.NewFromFloat(req.Quantity).String(),
		Side:          strings.ToLower(string(req.Side)),
		Type:          "market",
		TimeInForce:   "day",
		ClientOrderID: req.ClientOrderID,
	}

	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/v2/orders", body, &resp); err != nil {
		return nil, fmt.Errorf("failed to submit %s order for %s: %w", body.Side, body.Symbol, err)
	}

	result := &domain.OrderResult{
		OrderID:       resp.ID,
		ClientOrderID: resp.ClientOrderID,
		Symbol:        resp.Symbol,
		Side:          domain.TradeSide(strings.ToUpper(resp.Side)),
		Quantity:      resp.Qty.InexactFloat64(),
		Status:        resp.Status,
	}
	if resp.FilledAvgPrice != nil {
		result.FilledPrice = resp.FilledAvgPrice.InexactFloat64()
	}

	c.log.Info().
		Str("order_id", result.OrderID).
		Str("client_order_id", result.ClientOrderID).
		Str("symbol", result.Symbol).
		Str("side", body.Side).
		Str("qty", body.Qty).
		Str("status", result.Status).
		Msg("Order submitted")

	return result, nil
}

type clockResponse struct {
	Timestamp time.Time `json:"timestamp"`
	IsOpen    bool      `json:"is_open"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}

// Clock returns the market clock
func (c *Client) Clock(ctx context.Context) (*domain.Clock, error) {
	var resp clockResponse
	if err := c.do(ctx, http.MethodGet, "/v2/clock", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get clock: %w", err)
	}
	return &domain.Clock{
		IsOpen:    resp.IsOpen,
		NextOpen:  resp.NextOpen,
		NextClose: resp.NextClose,
		Timestamp: resp.Timestamp,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("APCA-API-KEY-ID", c.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.apiSecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(respBody, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}
