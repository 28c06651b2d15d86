package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	sellPricePath  = "/prices/sell/"
	weeklyHistPath = "/historic/sell/weekly"
)

// Offer is one vendor buyback offer from the aggregator.
type Offer struct {
	Vendor string
	Price  decimal.Decimal
}

// Quote is the normalized result of one current-price fetch. Ephemeral;
// consumed immediately by the historical resolver.
type Quote struct {
	ISBN           string
	Title          string
	Author         string
	BestPrice      decimal.Decimal
	BestVendor     string
	ReferencePrice decimal.Decimal
	Offers         []Offer
}

// WeeklyPoint is one period of the aggregator's own historical series.
type WeeklyPoint struct {
	DateSeen   time.Time
	MaxPrice   decimal.Decimal
	AvgPrice   decimal.Decimal
	BestVendor string
}

// ClientOptions parameterise the aggregator client.
type ClientOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Client issues authenticated calls against the price aggregator.
type Client struct {
	opts    ClientOptions
	baseURL string
	client  *http.Client
	tokens  *Manager
	logger  zerolog.Logger
}

// NewClient constructs an aggregator client on top of a token manager.
func NewClient(opts ClientOptions, tokens *Manager, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		opts:    opts,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		tokens:  tokens,
		logger:  logger.With().Str("component", "aggregator_client").Logger(),
	}
}

// FetchCurrentPrice retrieves and normalizes the current sell offers for one
// identifier. Offers with zero or negative prices are dropped; the remainder
// are sorted descending and the top entry becomes the best offer. No positive
// offers yields a zero price with no vendor.
func (c *Client) FetchCurrentPrice(ctx context.Context, isbn string, userID int64) (Quote, error) {
	body, err := c.getAuthed(ctx, c.baseURL+sellPricePath+url.PathEscape(isbn), userID)
	if err != nil {
		return Quote{}, err
	}

	var payload sellPriceResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return Quote{}, &ParseError{Err: err}
	}

	quote := Quote{
		ISBN:           isbn,
		Title:          payload.Book.Title,
		Author:         payload.Book.Author,
		ReferencePrice: payload.Book.AmazonPrice.decimal(),
	}

	for _, p := range payload.Prices {
		price := p.Price.decimal()
		if !price.IsPositive() {
			continue
		}
		quote.Offers = append(quote.Offers, Offer{Vendor: p.Vendor.Name, Price: price})
	}

	sort.SliceStable(quote.Offers, func(i, j int) bool {
		return quote.Offers[i].Price.GreaterThan(quote.Offers[j].Price)
	})

	if len(quote.Offers) > 0 {
		quote.BestPrice = quote.Offers[0].Price
		quote.BestVendor = quote.Offers[0].Vendor
	}

	return quote, nil
}

// FetchHistoricalSeries retrieves the aggregator's weekly series for one
// identifier. An empty or malformed response yields an empty series; absence
// of historical data is not a failure.
func (c *Client) FetchHistoricalSeries(ctx context.Context, isbn string, userID int64) ([]WeeklyPoint, error) {
	endpoint := c.baseURL + weeklyHistPath + "?isbn=" + url.QueryEscape(isbn)
	body, err := c.getAuthed(ctx, endpoint, userID)
	if err != nil {
		return nil, err
	}

	var payload []weeklyPointResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		c.logger.Debug().Str("isbn", isbn).Err(err).Msg("historical series unparseable; treating as no data")
		return nil, nil
	}

	points := make([]WeeklyPoint, 0, len(payload))
	for _, p := range payload {
		point := WeeklyPoint{
			MaxPrice:   p.MaxPrice.decimal(),
			AvgPrice:   p.AvgPrice.decimal(),
			BestVendor: p.BestVendor,
		}
		if seen, err := time.Parse("2006-01-02", p.DateSeen); err == nil {
			point.DateSeen = seen
		}
		points = append(points, point)
	}
	return points, nil
}

// HighOfSeries reduces a weekly series to the aggregator's reported all-time
// maximum. Valid is false for an empty or all-zero series.
func HighOfSeries(points []WeeklyPoint) (price decimal.Decimal, vendor, period string, valid bool) {
	for _, p := range points {
		if p.MaxPrice.GreaterThan(price) {
			price = p.MaxPrice
			vendor = p.BestVendor
			if !p.DateSeen.IsZero() {
				period = p.DateSeen.Format("2006-01-02")
			} else {
				period = ""
			}
			valid = true
		}
	}
	return price, vendor, period, valid
}

// getAuthed performs a bearer-authenticated GET. On a 401/403 it forces one
// token refresh and retries the same request a single time; a second
// authorization failure is fatal for this fetch.
func (c *Client) getAuthed(ctx context.Context, endpoint string, userID int64) ([]byte, error) {
	token, err := c.tokens.ValidToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	status, body, err := c.get(ctx, endpoint, token)
	if err != nil {
		return nil, err
	}
	if isAuthStatus(status) {
		c.logger.Warn().Int("status", status).Int64("user_id", userID).Msg("token rejected; forcing refresh")
		token, err = c.tokens.ForceRefresh(ctx, userID)
		if err != nil {
			return nil, err
		}
		status, body, err = c.get(ctx, endpoint, token)
		if err != nil {
			return nil, err
		}
		if isAuthStatus(status) {
			return nil, &UpstreamAuthError{Status: status}
		}
	}
	if status < 200 || status >= 300 {
		return nil, &UpstreamError{Status: status, Body: trimBody(body)}
	}
	return body, nil
}

func (c *Client) get(ctx context.Context, endpoint, token string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("aggregator request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read aggregator response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func trimBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

type jsonPrice struct {
	value decimal.Decimal
}

func (j jsonPrice) decimal() decimal.Decimal { return j.value }

// UnmarshalJSON accepts both numeric and quoted price representations; the
// aggregator has been seen emitting either.
func (j *jsonPrice) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		j.value = decimal.Zero
		return nil
	}
	parsed, err := decimal.NewFromString(s)
	if err != nil {
		return err
	}
	j.value = parsed
	return nil
}

type sellPriceResponse struct {
	Book struct {
		ISBN10      string    `json:"isbn10"`
		ISBN13      string    `json:"isbn13"`
		Title       string    `json:"title"`
		Author      string    `json:"author"`
		AmazonPrice jsonPrice `json:"amazonPrice"`
	} `json:"book"`
	Prices []struct {
		Vendor struct {
			Name string `json:"name"`
		} `json:"vendor"`
		Price jsonPrice `json:"price"`
	} `json:"prices"`
}

type weeklyPointResponse struct {
	DateSeen   string    `json:"dateSeen"`
	MaxPrice   jsonPrice `json:"maxPrice"`
	AvgPrice   jsonPrice `json:"avgPrice"`
	BestVendor string    `json:"bestVendor"`
}
