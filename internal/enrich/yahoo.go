package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rickgao/barfeed/internal/model"
)

// DefaultChartURL is the Yahoo Finance chart endpoint.
const DefaultChartURL = "https://query1.finance.yahoo.com/v8/finance/chart"

// YahooSource fetches daily bars from the Yahoo Finance chart endpoint.
type YahooSource struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	maxRetries int
	retryDelay time.Duration
}

// YahooOption configures a YahooSource.
type YahooOption func(*YahooSource)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) YahooOption {
	return func(s *YahooSource) {
		s.httpClient = c
	}
}

// WithYahooLogger sets the logger.
func WithYahooLogger(l *slog.Logger) YahooOption {
	return func(s *YahooSource) {
		s.logger = l
	}
}

// WithYahooRetries sets the retry count and first retry delay.
func WithYahooRetries(n int, delay time.Duration) YahooOption {
	return func(s *YahooSource) {
		s.maxRetries = n
		s.retryDelay = delay
	}
}

// NewYahooSource creates a source. An empty baseURL selects DefaultChartURL.
func NewYahooSource(baseURL string, opts ...YahooOption) *YahooSource {
	if baseURL == "" {
		baseURL = DefaultChartURL
	}
	s := &YahooSource{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
		maxRetries: 3,
		retryDelay: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// chartResponse is the subset of the chart payload that is used.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol    string `json:"symbol"`
				Gmtoffset int    `json:"gmtoffset"`
			} `json:"meta"`
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

// statusError is a non-200 chart response.
type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("chart api status %d: %s", e.StatusCode, e.Body)
}

// Fetch returns the daily bars of symbol between start and end, in date
// order. Rows with any null field are skipped.
func (s *YahooSource) Fetch(ctx context.Context, symbol string, start, end time.Time) ([]model.Bar, error) {
	q := url.Values{}
	q.Set("period1", strconv.FormatInt(start.Unix(), 10))
	q.Set("period2", strconv.FormatInt(end.Unix(), 10))
	q.Set("interval", "1d")
	q.Set("includePrePost", "false")
	u := s.baseURL + "/" + url.PathEscape(symbol) + "?" + q.Encode()

	var body []byte
	op := func() error {
		b, err := s.get(ctx, u)
		if err != nil {
			var se *statusError
			if errors.As(err, &se) && se.StatusCode != http.StatusTooManyRequests && se.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		}
		body = b
		return nil
	}
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = s.retryDelay
	expo.MaxElapsedTime = 0
	bo := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(max(s.maxRetries, 0))), ctx)
	notify := func(err error, d time.Duration) {
		s.logger.Warn("chart request failed, retrying", "symbol", symbol, "error", err, "backoff", d)
	}
	if err := backoff.RetryNotify(op, bo, notify); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", symbol, err)
	}

	bars, skipped, err := parseChart(symbol, body)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		s.logger.Debug("skipped incomplete rows", "symbol", symbol, "skipped", skipped)
	}
	return bars, nil
}

func (s *YahooSource) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; barfeed)")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// parseChart converts a chart payload to bars dated by the exchange's local
// calendar day.
func parseChart(symbol string, data []byte) ([]model.Bar, int, error) {
	var resp chartResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, 0, fmt.Errorf("decode %s chart: %w", symbol, err)
	}
	if e := resp.Chart.Error; e != nil {
		return nil, 0, fmt.Errorf("chart api error for %s: %s - %s", symbol, e.Code, e.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return nil, 0, fmt.Errorf("no result in response for %s", symbol)
	}

	result := resp.Chart.Result[0]
	if len(result.Timestamp) == 0 {
		return nil, 0, nil
	}
	if len(result.Indicators.Quote) == 0 {
		return nil, 0, fmt.Errorf("no quote data in response for %s", symbol)
	}
	quote := result.Indicators.Quote[0]

	n := len(result.Timestamp)
	if len(quote.Open) != n || len(quote.High) != n || len(quote.Low) != n || len(quote.Close) != n {
		return nil, 0, fmt.Errorf("data alignment error for %s: mismatched array lengths", symbol)
	}

	offset := time.Duration(result.Meta.Gmtoffset) * time.Second
	bars := make([]model.Bar, 0, n)
	var skipped int
	for i, ts := range result.Timestamp {
		o, h, l, c := quote.Open[i], quote.High[i], quote.Low[i], quote.Close[i]
		if o == nil || h == nil || l == nil || c == nil {
			skipped++
			continue
		}
		var vol float64
		if i < len(quote.Volume) && quote.Volume[i] != nil {
			vol = *quote.Volume[i]
		}
		bars = append(bars, model.Bar{
			Timestamp: Day(time.Unix(ts, 0).Add(offset)),
			Open:      *o,
			High:      *h,
			Low:       *l,
			Close:     *c,
			Volume:    vol,
		})
	}

	slices.SortStableFunc(bars, func(a, b model.Bar) int { return a.Timestamp.Compare(b.Timestamp) })
	return bars, skipped, nil
}
