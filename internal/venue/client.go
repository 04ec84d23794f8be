// Package venue implements the fill source against the venue's ledger
// REST API. Raw ledger fills reference instruments and markets by id; the
// client resolves both through small cached lookups so downstream code
// only ever sees exchange and contract names.
package venue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"pnl_monitor/internal/core"
	apperrors "pnl_monitor/pkg/errors"
	apphttp "pnl_monitor/pkg/http"
)

// Side codes used by the ledger API.
const (
	sideCodeBuy  = 1
	sideCodeSell = 2
)

// rawFill is one entry of the ledger's fill envelope.
type rawFill struct {
	ID           int64  `json:"id"`
	Timestamp    int64  `json:"timestamp"` // epoch nanoseconds
	InstrumentID int64  `json:"instrumentId"`
	MarketID     int64  `json:"marketId"`
	Side         int    `json:"side"`
	Quantity     string `json:"qty"`
	Price        string `json:"px"`
	User         string `json:"user"`
	OrderID      string `json:"orderId"`
}

type fillsEnvelope struct {
	Fills []rawFill `json:"fills"`
}

type instrumentEnvelope struct {
	Instrument []struct {
		ID    int64  `json:"id"`
		Alias string `json:"alias"`
	} `json:"instrument"`
}

type marketsEnvelope struct {
	Markets []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"markets"`
}

// Option configures a Client.
type Option func(*Client)

// WithRateLimit caps outgoing request rate.
func WithRateLimit(rps, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// Client fetches executed fills from the venue ledger. It implements
// core.IFillSource.
type Client struct {
	name    string
	http    *apphttp.Client
	limiter *rate.Limiter
	logger  core.ILogger

	appName     string
	companyName string

	mu          sync.Mutex
	instruments map[int64]string // instrument id -> contract alias
	markets     map[int64]string // market id -> exchange name
}

// NewClient builds a ledger client. The token provider is consulted on
// every request so rotated credentials take effect without a restart.
func NewClient(baseURL string, timeout time.Duration, tokens TokenProvider,
	appName, companyName string, logger core.ILogger, opts ...Option) *Client {
	c := &Client{
		name:        "ledger",
		limiter:     rate.NewLimiter(rate.Limit(5), 5),
		logger:      logger.WithField("component", "venue_client"),
		appName:     appName,
		companyName: companyName,
		instruments: make(map[int64]string),
		markets:     make(map[int64]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http = apphttp.NewClient(baseURL, timeout, &bearerAuthorizer{tokens: tokens})
	return c
}

// Name identifies the source in logs and alerts.
func (c *Client) Name() string {
	return c.name
}

// FetchFills returns all fills executed at or after since. The ledger may
// itself redeliver fills near the boundary; callers deduplicate.
func (c *Client) FetchFills(ctx context.Context, since time.Time) ([]core.FillRecord, error) {
	var minTS int64
	if !since.IsZero() {
		minTS = since.UnixNano()
	}

	body, err := c.get(ctx, "/ledger/fills", map[string]string{
		"minTimestamp": strconv.FormatInt(minTS, 10),
	})
	if err != nil {
		return nil, err
	}

	var envelope fillsEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode fills response: %w", apperrors.ErrVenueUnavailable)
	}

	fills := make([]core.FillRecord, 0, len(envelope.Fills))
	for _, raw := range envelope.Fills {
		fill, err := c.convert(ctx, raw)
		if err != nil {
			if apperrors.IsData(err) {
				c.logger.Warn("Dropping malformed ledger fill",
					"fill_id", raw.ID, "error", err)
				continue
			}
			return nil, err
		}
		fills = append(fills, fill)
	}
	return fills, nil
}

// convert maps a raw ledger fill onto the domain record, resolving the
// contract and exchange names.
func (c *Client) convert(ctx context.Context, raw rawFill) (core.FillRecord, error) {
	var side core.Side
	switch raw.Side {
	case sideCodeBuy:
		side = core.SideBuy
	case sideCodeSell:
		side = core.SideSell
	default:
		return core.FillRecord{}, fmt.Errorf("side code %d: %w", raw.Side, apperrors.ErrMalformedRow)
	}

	qty, err := decimal.NewFromString(raw.Quantity)
	if err != nil {
		return core.FillRecord{}, fmt.Errorf("qty %q: %w", raw.Quantity, apperrors.ErrInvalidQuantity)
	}
	px, err := decimal.NewFromString(raw.Price)
	if err != nil {
		return core.FillRecord{}, fmt.Errorf("px %q: %w", raw.Price, apperrors.ErrInvalidPrice)
	}

	contract, err := c.resolveInstrument(ctx, raw.InstrumentID)
	if err != nil {
		return core.FillRecord{}, err
	}
	exchange, err := c.resolveMarket(ctx, raw.MarketID)
	if err != nil {
		return core.FillRecord{}, err
	}

	fill := core.FillRecord{
		Timestamp: time.Unix(0, raw.Timestamp).UTC(),
		Exchange:  exchange,
		Contract:  contract,
		Side:      side,
		Quantity:  qty,
		Price:     px,
		User:      raw.User,
		OrderID:   raw.OrderID,
	}
	if err := fill.Validate(); err != nil {
		return core.FillRecord{}, err
	}
	return fill, nil
}

// resolveInstrument returns the contract alias for an instrument id,
// fetching it once and caching it for the life of the client.
func (c *Client) resolveInstrument(ctx context.Context, id int64) (string, error) {
	c.mu.Lock()
	alias, ok := c.instruments[id]
	c.mu.Unlock()
	if ok {
		return alias, nil
	}

	body, err := c.get(ctx, "/ledger/instruments/"+strconv.FormatInt(id, 10), nil)
	if err != nil {
		return "", err
	}
	var envelope instrumentEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Instrument) == 0 {
		return "", fmt.Errorf("instrument %d lookup: %w", id, apperrors.ErrVenueUnavailable)
	}
	alias = envelope.Instrument[0].Alias

	c.mu.Lock()
	c.instruments[id] = alias
	c.mu.Unlock()
	return alias, nil
}

// resolveMarket returns the exchange name for a market id. The markets
// enumeration is small and fixed, so one fetch fills the whole cache.
func (c *Client) resolveMarket(ctx context.Context, id int64) (string, error) {
	c.mu.Lock()
	name, ok := c.markets[id]
	c.mu.Unlock()
	if ok {
		return name, nil
	}

	body, err := c.get(ctx, "/ledger/markets", nil)
	if err != nil {
		return "", err
	}
	var envelope marketsEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", fmt.Errorf("markets lookup: %w", apperrors.ErrVenueUnavailable)
	}

	c.mu.Lock()
	for _, m := range envelope.Markets {
		c.markets[m.ID] = m.Name
	}
	name, ok = c.markets[id]
	c.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("market %d not in venue enumeration: %w", id, apperrors.ErrMalformedRow)
	}
	return name, nil
}

// get runs one rate-limited request and classifies any failure into the
// transient/structural taxonomy.
func (c *Client) get(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", apperrors.ErrTimeout)
	}
	if params == nil {
		params = map[string]string{}
	}
	params["requestId"] = fmt.Sprintf("%s-%s--%s", c.appName, c.companyName, uuid.NewString())

	body, err := c.http.Get(ctx, path, params)
	if err != nil {
		return nil, c.classify(path, err)
	}
	return body, nil
}

func (c *Client) classify(path string, err error) error {
	var apiErr *apphttp.APIError
	switch {
	case errors.As(err, &apiErr):
		switch {
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return fmt.Errorf("%s: venue rejected credentials: %w", path, apperrors.ErrAuthenticationFailed)
		case apiErr.StatusCode == 429:
			return fmt.Errorf("%s: %w", path, apperrors.ErrRateLimitExceeded)
		default:
			return fmt.Errorf("%s: status %d: %w", path, apiErr.StatusCode, apperrors.ErrVenueUnavailable)
		}
	case errors.Is(err, apperrors.ErrAuthenticationFailed):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", path, apperrors.ErrTimeout)
	default:
		return fmt.Errorf("%s: %v: %w", path, err, apperrors.ErrNetwork)
	}
}
