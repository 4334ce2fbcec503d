// Package feed is the authenticated client for the two remote endpoints:
// the weekly schedule and the water list (check-in records). Successful
// weekly fetches are cached with explicit expiry metadata; auth rejections
// are classified so the orchestrator can redirect to re-login instead of
// retrying blindly.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/cachestore"
	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/config"
	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/errclass"
)

const (
	weeklyPath    = "/attendance-student/rankClass/getWeekSchedule2"
	waterListPath = "/attendance-student/rankClass/getWaterList"

	dateLayout = "2006-01-02"
)

// loginMarkers are the backend's "please log in" message fragments; their
// presence reclassifies an empty response as an auth failure.
var loginMarkers = []string{"请登录", "未登录"}

// Client performs the authenticated fetches.
type Client struct {
	baseURL string
	termNo  int
	week    int
	http    *http.Client
	tokens  TokenSource
	store   *cachestore.Store
	log     zerolog.Logger
	now     func() time.Time
}

// Option configures a Client during construction.
type Option func(*Client)

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithHTTPClient replaces the underlying HTTP client. The token-injecting
// transport is still installed on top of its transport.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New constructs a Client from configuration. The transport injects the
// normalized bearer token into both header names on every request.
func New(cfg *config.Config, tokens TokenSource, normalize BearerNormalizer, store *cachestore.Store, log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		termNo:  cfg.TermNo,
		week:    cfg.Week,
		http:    &http.Client{Timeout: cfg.HTTPTimeout},
		tokens:  tokens,
		store:   store,
		log:     log,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	base := c.http.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	c.http.Transport = &tokenTransport{base: base, tokens: tokens, normalize: normalize}
	return c
}

// FetchWeekly retrieves the weekly schedule, classifies failures, and on
// success caches the processed response, the raw response and a metadata
// record, each carrying the computed expires date.
func (c *Client) FetchWeekly(ctx context.Context) (*WeeklyResponse, error) {
	body := map[string]int{}
	if c.termNo > 0 {
		body["termNo"] = c.termNo
	}
	if c.week > 0 {
		body["week"] = c.week
	}

	raw, err := c.post(ctx, weeklyPath, body)
	if err != nil {
		fetchFailures.WithLabelValues("weekly").Inc()
		return nil, err
	}

	var resp WeeklyResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		fetchFailures.WithLabelValues("weekly").Inc()
		return nil, errclass.New(errclass.FetchFailed, fmt.Errorf("weekly response: %w", err))
	}

	if !resp.Success || len(resp.Data) == 0 {
		if isAuthRejection(resp.Code, resp.Msg) {
			c.tokens.NotifyInvalid()
			fetchFailures.WithLabelValues("weekly").Inc()
			return nil, errclass.NewStatus(errclass.AuthRequired, resp.Code, resp.Msg,
				fmt.Errorf("weekly fetch rejected, re-login required"))
		}
		fetchFailures.WithLabelValues("weekly").Inc()
		return nil, errclass.NewStatus(errclass.FetchFailed, resp.Code, resp.Msg,
			fmt.Errorf("weekly fetch unsuccessful (success=%v, records=%d)", resp.Success, len(resp.Data)))
	}

	expires := weekSunday(c.now()).Format(dateLayout)
	resp.Expires = expires
	c.cacheWeekly(&resp, raw, expires)

	fetchTotal.WithLabelValues("weekly").Inc()
	c.log.Info().Int("records", len(resp.Data)).Str("expires", expires).Msg("weekly schedule fetched")
	return &resp, nil
}

// FetchWaterList retrieves check-in records filtered to one date. The same
// auth-detection policy applies, but the caller decides how to react; only
// the raw response is cached.
func (c *Client) FetchWaterList(ctx context.Context, date string, pageSize, page int) (*WaterListEnvelope, error) {
	body := map[string]interface{}{
		"startdate": date,
		"enddate":   date,
		"pageSize":  pageSize,
		"current":   page,
	}

	raw, err := c.post(ctx, waterListPath, body)
	if err != nil {
		fetchFailures.WithLabelValues("water_list").Inc()
		return nil, err
	}

	var env WaterListEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		fetchFailures.WithLabelValues("water_list").Inc()
		return nil, errclass.New(errclass.ParseError, fmt.Errorf("water list response: %w", err))
	}
	env.Raw = raw

	if err := c.store.Write(cachestore.WaterListKey, raw); err != nil {
		// Non-fatal: the response is still usable.
		c.log.Warn().Err(err).Msg("failed to cache water list response")
	}

	if env.Code == 400 || env.Code == 401 || env.Code == 403 {
		fetchFailures.WithLabelValues("water_list").Inc()
		return nil, errclass.NewStatus(errclass.AuthRequired, env.Code, env.Msg,
			fmt.Errorf("water list rejected, re-login required"))
	}

	fetchTotal.WithLabelValues("water_list").Inc()
	return &env, nil
}

// post sends a JSON body and returns the response bytes, classifying
// transport-level failures.
func (c *Client) post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("feed: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("feed: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, errclass.New(errclass.NetworkTimeout, fmt.Errorf("feed: %s: %w", path, err))
		}
		return nil, errclass.New(errclass.FetchFailed, fmt.Errorf("feed: %s: %w", path, err))
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errclass.New(errclass.FetchFailed, fmt.Errorf("feed: read %s response: %w", path, err))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.tokens.NotifyInvalid()
		return nil, errclass.NewStatus(errclass.AuthRequired, resp.StatusCode, string(raw),
			fmt.Errorf("feed: %s rejected", path))
	case resp.StatusCode != http.StatusOK:
		return nil, errclass.NewStatus(errclass.FetchFailed, resp.StatusCode, string(raw),
			fmt.Errorf("feed: %s unexpected status", path))
	}
	return raw, nil
}

// cacheWeekly writes the three weekly cache entries. Write failures are
// logged but never fail the fetch: the fresh response is already in hand.
func (c *Client) cacheWeekly(resp *WeeklyResponse, raw []byte, expires string) {
	processed, err := json.Marshal(resp)
	if err == nil {
		if err := c.store.Write(cachestore.WeeklyKey, processed); err != nil {
			c.log.Error().Err(err).Msg("failed to cache processed weekly")
		}
	}

	if err := c.store.Write(cachestore.WeeklyRawKey, injectExpires(raw, expires)); err != nil {
		c.log.Error().Err(err).Msg("failed to cache raw weekly")
	}

	meta, _ := json.Marshal(map[string]string{
		"last_fetched": c.now().Format(dateLayout),
		"expires":      expires,
	})
	if err := c.store.Write(cachestore.WeeklyRawMetaKey, meta); err != nil {
		c.log.Error().Err(err).Msg("failed to cache weekly metadata")
	}
}

// injectExpires adds the expires field to a raw JSON object. Anything that
// is not a JSON object is cached unchanged; the metadata record still
// carries the expiry.
func injectExpires(raw []byte, expires string) []byte {
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return raw
	}
	obj["expires"] = expires
	out, err := json.Marshal(obj)
	if err != nil {
		return raw
	}
	return out
}

// isAuthRejection implements the shared auth-detection policy: the backend
// signals a dead session either with an auth code or a login-prompt message.
func isAuthRejection(code int, msg string) bool {
	if code == 400 || code == 401 || code == 403 {
		return true
	}
	for _, marker := range loginMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Timeout()
	}
	return false
}

// weekSunday returns this week's Sunday (Monday-first week), the expiry
// anchor for the weekly cache.
func weekSunday(t time.Time) time.Time {
	wd := int(t.Weekday())
	if wd == 0 {
		wd = 7
	}
	return t.AddDate(0, 0, 7-wd)
}
