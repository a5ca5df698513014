// Package marketdata fetches daily OHLCV bars from the Yahoo Finance chart API.
package marketdata

import (
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

	"github.com/rs/zerolog"

	"github.com/aristath/swingbot/internal/domain"
)

var (
	// ErrSourceUnavailable is returned when the data source cannot be reached after all retries
	ErrSourceUnavailable = errors.New("market data source unavailable")
	// ErrInsufficientData is returned when fewer valid rows than required are available
	ErrInsufficientData = errors.New("insufficient or invalid data")
)

// DefaultBaseURL is the public Yahoo Finance host
const DefaultBaseURL = "https://query1.finance.yahoo.com"

// maxAttempts bounds retries; attempt n waits n * retryDelay before the next one
const maxAttempts = 3

// Client is a Yahoo Finance chart API client
type Client struct {
	client     *http.Client
	baseURL    string
	retryDelay time.Duration
	log        zerolog.Logger
}

// NewClient creates a new Yahoo Finance client. An empty baseURL uses DefaultBaseURL.
func NewClient(baseURL string, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:    strings.TrimRight(baseURL, "/"),
		retryDelay: time.Second,
		log:        log.With().Str("client", "yahoo").Logger(),
	}
}

// Recent fetches daily bars for a lookback period such as 1mo, 3mo or 1y
func (c *Client) Recent(ctx context.Context, ticker, period string) ([]domain.Bar, error) {
	if period == "" {
		period = "1mo"
	}
	params := url.Values{}
	params.Add("interval", "1d")
	params.Add("range", period)
	return c.fetch(ctx, ticker, params)
}

// History fetches daily bars in [start, end)
func (c *Client) History(ctx context.Context, ticker string, start, end time.Time) ([]domain.Bar, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("history end %s must be after start %s", end.Format("2006-01-02"), start.Format("2006-01-02"))
	}
	params := url.Values{}
	params.Add("interval", "1d")
	params.Add("period1", strconv.FormatInt(start.Unix(), 10))
	params.Add("period2", strconv.FormatInt(end.Unix(), 10))
	return c.fetch(ctx, ticker, params)
}

// fetch retries transport and server failures up to maxAttempts times with a linear backoff.
// Client errors (4xx) and malformed payloads are not retried.
func (c *Client) fetch(ctx context.Context, ticker string, params url.Values) ([]domain.Bar, error) {
	symbol := strings.ToUpper(strings.TrimSpace(ticker))
	if symbol == "" {
		return nil, fmt.Errorf("ticker is required")
	}
	reqURL := c.baseURL + "/v8/finance/chart/" + url.PathEscape(symbol) + "?" + params.Encode()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		body, retryable, err := c.get(ctx, reqURL)
		if err == nil {
			bars, err := parseChart(body)
			if err != nil {
				return nil, fmt.Errorf("failed to parse chart for %s: %w", symbol, err)
			}
			return Sanitize(bars), nil
		}
		lastErr = err
		if !retryable {
			return nil, fmt.Errorf("failed to fetch %s: %w", symbol, err)
		}

		if attempt < maxAttempts {
			wait := time.Duration(attempt) * c.retryDelay
			c.log.Warn().Err(err).
				Str("ticker", symbol).
				Int("attempt", attempt).
				Dur("wait", wait).
				Msg("Market data fetch failed, retrying")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
	}

	return nil, fmt.Errorf("%w: %s after %d attempts: %v", ErrSourceUnavailable, symbol, maxAttempts, lastErr)
}

func (c *Client) get(ctx context.Context, reqURL string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}

	// Set headers to mimic browser
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("Yahoo Finance API returned status %d", resp.StatusCode)
	default:
		return nil, false, fmt.Errorf("Yahoo Finance API returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// parseChart converts a chart payload into bars. Missing values become zero and are
// removed by Sanitize.
func parseChart(body []byte) ([]domain.Bar, error) {
	var result chartResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}
	if result.Chart.Error != nil {
		return nil, fmt.Errorf("Yahoo Finance API error: %s: %s", result.Chart.Error.Code, result.Chart.Error.Description)
	}
	if len(result.Chart.Result) == 0 || len(result.Chart.Result[0].Indicators.Quote) == 0 {
		return []domain.Bar{}, nil
	}

	chart := result.Chart.Result[0]
	quote := chart.Indicators.Quote[0]
	bars := make([]domain.Bar, 0, len(chart.Timestamp))
	for i, ts := range chart.Timestamp {
		bars = append(bars, domain.Bar{
			Time:   time.Unix(ts, 0).UTC(),
			Open:   at(quote.Open, i),
			High:   at(quote.High, i),
			Low:    at(quote.Low, i),
			Close:  at(quote.Close, i),
			Volume: at(quote.Volume, i),
		})
	}
	return bars, nil
}

func at(values []*float64, i int) float64 {
	if i >= len(values) || values[i] == nil {
		return 0
	}
	return *values[i]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
