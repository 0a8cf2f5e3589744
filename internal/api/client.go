// Package api is the HTTP client of the portal API.
//
// Every request carries the stored access token and the CSRF cookie value.
// A 401 on an authenticated request triggers one token refresh and one replay
// of the request. A second failure ends the session.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/nkiryanov/thesisportal/internal/apperrors"
	"github.com/nkiryanov/thesisportal/internal/logger"
	"github.com/nkiryanov/thesisportal/internal/models"
)

const (
	defaultBaseURL   = "http://localhost:8000/api"
	defaultTimeout   = 15 * time.Second
	defaultUserAgent = "thesisportal-client"

	CSRFCookie      = "csrftoken"
	CSRFHeader      = "X-CSRFToken"
	RequestIDHeader = "X-Request-Id"
)

type Config struct {
	// API root, paths are appended to it
	// If not set than default is used
	BaseURL string

	// Per attempt timeout
	// If not set than default is used
	Timeout time.Duration

	UserAgent string
}

// SessionStore provides the token for outgoing requests and is cleared when
// the session cannot be renewed
type SessionStore interface {
	Read(ctx context.Context) (models.Session, bool)
	Clear(ctx context.Context) error
}

// Refresher renews the access token. Concurrent calls must share one exchange.
type Refresher interface {
	Refresh(ctx context.Context) (models.Session, error)
}

type Client struct {
	http   *resty.Client
	base   *url.URL
	store  SessionStore
	logger logger.Logger

	mu        sync.RWMutex
	refresher Refresher
	onExpired func(ctx context.Context)
}

func New(cfg Config, store SessionStore, l logger.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url %q: scheme must be http or https", cfg.BaseURL)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	c := &Client{
		base:   base,
		store:  store,
		logger: logger.OrNoOp(l).With("component", "api"),
	}

	c.http = resty.New().
		SetBaseURL(base.String()).
		SetTimeout(cfg.Timeout).
		SetCookieJar(jar).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", cfg.UserAgent).
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal).
		OnBeforeRequest(c.attachHeaders)

	return c, nil
}

// SetRefresher wires token renewal. Without it 401 is final.
func (c *Client) SetRefresher(r Refresher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refresher = r
}

// OnSessionExpired registers the callback run after the store was cleared
// because the session could not be renewed
func (c *Client) OnSessionExpired(fn func(ctx context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onExpired = fn
}

// SetCookie adds cookie for the API host, used to seed the CSRF token
func (c *Client) SetCookie(cookie *http.Cookie) {
	c.http.GetClient().Jar.SetCookies(c.base, []*http.Cookie{cookie})
}

type ctxKey int

const anonymousKey ctxKey = iota

// anonymous marks requests that must not carry the access token
func anonymous(ctx context.Context) context.Context {
	return context.WithValue(ctx, anonymousKey, true)
}

func isAnonymous(ctx context.Context) bool {
	v, _ := ctx.Value(anonymousKey).(bool)
	return v
}

func (c *Client) attachHeaders(_ *resty.Client, r *resty.Request) error {
	r.SetHeader(RequestIDHeader, uuid.NewString())

	if csrf := c.csrfToken(); csrf != "" {
		r.SetHeader(CSRFHeader, csrf)
	}

	if isAnonymous(r.Context()) || c.store == nil {
		return nil
	}

	if s, ok := c.store.Read(r.Context()); ok {
		r.SetHeader("Authorization", "Bearer "+s.Access)
	}

	return nil
}

func (c *Client) csrfToken() string {
	for _, cookie := range c.http.GetClient().Jar.Cookies(c.base) {
		if cookie.Name == CSRFCookie {
			return cookie.Value
		}
	}
	return ""
}

// Do sends authenticated request and decodes JSON response into result.
// body and result may be nil.
func (c *Client) Do(ctx context.Context, method, path string, body, result any) error {
	return c.do(ctx, call{method: method, path: path, body: body, result: result})
}

// call describes one logical request, possibly sent twice
type call struct {
	method string
	path   string
	body   any
	result any

	anonymous bool // no access token
	noRefresh bool // 401 is final
	kind      kind
}

func (c *Client) do(ctx context.Context, cl call) error {
	resp, err := c.send(ctx, cl)
	if err != nil {
		return err
	}

	if resp.StatusCode() == http.StatusUnauthorized && !cl.anonymous && !cl.noRefresh {
		resp, err = c.retryAfterRefresh(ctx, cl, resp.Request.Header.Get("Authorization"))
		if err != nil {
			return err
		}
	}

	return c.handle(resp, cl)
}

// retryAfterRefresh renews the token and replays the call exactly once.
// When the stored token already differs from the rejected one, another
// request renewed it meanwhile and the call is replayed without exchange.
func (c *Client) retryAfterRefresh(ctx context.Context, cl call, rejected string) (*resty.Response, error) {
	c.mu.RLock()
	refresher := c.refresher
	c.mu.RUnlock()

	if refresher == nil {
		c.expire(ctx)
		return nil, apperrors.ErrSessionExpired
	}

	if c.renewedSince(ctx, rejected) {
		c.logger.Debug("access token renewed meanwhile, replaying", "method", cl.method, "path", cl.path)
	} else if err := c.refresh(ctx, refresher, cl); err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, cl)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode() == http.StatusUnauthorized {
		c.logger.Warn("request rejected with fresh token", "method", cl.method, "path", cl.path)
		c.expire(ctx)
		return nil, apperrors.ErrSessionExpired
	}

	return resp, nil
}

// renewedSince reports that the store holds a session whose access token is
// not the one the rejected request carried
func (c *Client) renewedSince(ctx context.Context, rejected string) bool {
	if c.store == nil {
		return false
	}
	s, ok := c.store.Read(ctx)
	return ok && "Bearer "+s.Access != rejected
}

func (c *Client) refresh(ctx context.Context, refresher Refresher, cl call) error {
	c.logger.Debug("access token rejected, refreshing", "method", cl.method, "path", cl.path)
	if _, err := refresher.Refresh(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.expire(ctx)
		if errors.Is(err, apperrors.ErrSessionExpired) {
			return err
		}
		return fmt.Errorf("%w: %w", apperrors.ErrSessionExpired, err)
	}
	return nil
}

// expire clears the store and notifies the owner of the session
func (c *Client) expire(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)

	if c.store != nil {
		if err := c.store.Clear(ctx); err != nil {
			c.logger.Error("failed to clear expired session", "error", err)
		}
	}

	c.mu.RLock()
	fn := c.onExpired
	c.mu.RUnlock()

	if fn != nil {
		fn(ctx)
	}
}

func (c *Client) send(ctx context.Context, cl call) (*resty.Response, error) {
	if cl.anonymous {
		ctx = anonymous(ctx)
	}

	req := c.http.R().SetContext(ctx)
	if cl.body != nil {
		req.SetBody(cl.body)
	}

	resp, err := req.Execute(cl.method, cl.path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.Warn("request failed", "method", cl.method, "path", cl.path, "error", err)
		return nil, fmt.Errorf("%w: %s %s: %w", apperrors.ErrNetworkFailure, cl.method, cl.path, err)
	}

	c.logger.Debug("response",
		"method", cl.method,
		"path", cl.path,
		"status", resp.StatusCode(),
		"duration", resp.Time(),
	)

	return resp, nil
}

func (c *Client) handle(resp *resty.Response, cl call) error {
	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		err := translateError(resp.StatusCode(), resp.Body(), cl.kind)
		if resp.StatusCode() >= http.StatusInternalServerError {
			c.logger.Error("server error", "method", cl.method, "path", cl.path, "status", resp.StatusCode())
		}
		return err
	}

	if cl.result == nil || len(resp.Body()) == 0 {
		return nil
	}

	if err := json.Unmarshal(resp.Body(), cl.result); err != nil {
		c.logger.Warn("failed to decode response", "path", cl.path, "error", err)
		return fmt.Errorf("%w: decode %s: %w", apperrors.ErrUnexpectedResponse, cl.path, err)
	}

	return nil
}
