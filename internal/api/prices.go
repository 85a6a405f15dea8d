package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// QueryTimeLayout is the timestamp format of the from/to parameters.
const QueryTimeLayout = "2006-01-02T15:04:05"

// PriceQuery selects a historical price range for one epic.
type PriceQuery struct {
	Epic       string
	Resolution string // MINUTE, HOUR, DAY, ...
	From       time.Time
	To         time.Time
}

// PricesResponse from GET /prices/{epic} (version 3).
type PricesResponse struct {
	Prices         []PriceSnapshot `json:"prices"`
	InstrumentType string          `json:"instrumentType"`
	Metadata       PriceMetadata   `json:"metadata"`
}

// PriceSnapshot is one bar with separate bid/ask/last views per price field.
type PriceSnapshot struct {
	SnapshotTime     string   `json:"snapshotTime"`    // Local time, "2006/01/02 15:04:05"
	SnapshotTimeUTC  string   `json:"snapshotTimeUTC"` // "2006-01-02T15:04:05"
	OpenPrice        Price    `json:"openPrice"`
	HighPrice        Price    `json:"highPrice"`
	LowPrice         Price    `json:"lowPrice"`
	ClosePrice       Price    `json:"closePrice"`
	LastTradedVolume *float64 `json:"lastTradedVolume"`
}

// Price holds the quote views of one price field. Any view may be null.
type Price struct {
	Bid        *float64 `json:"bid"`
	Ask        *float64 `json:"ask"`
	LastTraded *float64 `json:"lastTraded"`
}

// PriceMetadata carries paging and allowance information.
type PriceMetadata struct {
	Allowance struct {
		RemainingAllowance int `json:"remainingAllowance"`
		TotalAllowance     int `json:"totalAllowance"`
		AllowanceExpiry    int `json:"allowanceExpiry"`
	} `json:"allowance"`
	Size     int `json:"size"`
	PageData struct {
		PageSize   int `json:"pageSize"`
		PageNumber int `json:"pageNumber"`
		TotalPages int `json:"totalPages"`
	} `json:"pageData"`
}

// Timestamp returns the UTC bucket start of the snapshot. snapshotTime is in
// the account's local zone, which the response does not state, so a row
// without snapshotTimeUTC is rejected.
func (p PriceSnapshot) Timestamp() (time.Time, error) {
	if p.SnapshotTimeUTC == "" {
		return time.Time{}, fmt.Errorf("snapshot %q has no snapshotTimeUTC", p.SnapshotTime)
	}
	t, err := time.Parse(QueryTimeLayout, p.SnapshotTimeUTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse snapshotTimeUTC %q: %w", p.SnapshotTimeUTC, err)
	}
	return t.UTC(), nil
}

// GetPrices fetches one page of historical prices.
func (c *Client) GetPrices(ctx context.Context, s *Session, q PriceQuery, page int) (*PricesResponse, error) {
	query := url.Values{}
	query.Set("resolution", q.Resolution)
	query.Set("from", q.From.UTC().Format(QueryTimeLayout))
	query.Set("to", q.To.UTC().Format(QueryTimeLayout))
	query.Set("pageSize", strconv.Itoa(c.pageSize))
	if page > 0 {
		query.Set("pageNumber", strconv.Itoa(page))
	}

	var resp PricesResponse
	err := c.get(ctx, request{
		path:    "/prices/" + url.PathEscape(q.Epic),
		version: "3",
		query:   query,
		session: s,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("get prices %s: %w", q.Epic, err)
	}

	return &resp, nil
}

// FetchPrices fetches every page of the query.
func (c *Client) FetchPrices(ctx context.Context, s *Session, q PriceQuery) ([]PriceSnapshot, error) {
	if strings.TrimSpace(q.Epic) == "" {
		return nil, fmt.Errorf("fetch prices: epic is required")
	}

	var all []PriceSnapshot
	for page := 1; ; page++ {
		resp, err := c.GetPrices(ctx, s, q, page)
		if err != nil {
			return nil, err
		}

		all = append(all, resp.Prices...)

		pd := resp.Metadata.PageData
		if pd.TotalPages == 0 || pd.PageNumber >= pd.TotalPages || len(resp.Prices) == 0 {
			c.logger.Debug("fetched prices",
				"epic", q.Epic,
				"resolution", q.Resolution,
				"points", len(all),
				"remaining_allowance", resp.Metadata.Allowance.RemainingAllowance,
			)
			break
		}
	}

	return all, nil
}
