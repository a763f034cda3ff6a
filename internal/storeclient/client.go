// Package storeclient talks to a remote document store over HTTP and
// websockets. It satisfies both store.Store and identity.Issuer so a
// coordinator can run against a server exactly as it runs in-process.
package storeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/planning-poker/internal/identity"
	"github.com/DoyleJ11/planning-poker/internal/store"
	"github.com/DoyleJ11/planning-poker/pkg/types"
)

const defaultTimeout = 10 * time.Second

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

type Client struct {
	base *url.URL
	http *http.Client
	log  *zap.Logger

	mu  sync.Mutex
	uid string
}

var _ store.Store = (*Client)(nil)
var _ identity.Issuer = (*Client)(nil)

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		base: u,
		http: &http.Client{Timeout: defaultTimeout},
		log:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("storeclient")
	return c, nil
}

// SignIn asks the server for a participant id once and keeps it.
func (c *Client) SignIn(ctx context.Context, hint string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.uid != "" {
		return c.uid, nil
	}
	var resp types.SignInResponse
	if err := c.do(ctx, http.MethodPost, c.path("auth", "anonymous"), types.SignInRequest{Hint: hint}, http.StatusOK, &resp); err != nil {
		return "", err
	}
	if resp.UID == "" {
		return "", fmt.Errorf("%w: empty uid", store.ErrUnavailable)
	}
	c.uid = resp.UID
	return c.uid, nil
}

func (c *Client) Create(ctx context.Context, collection, id string, doc store.Document) error {
	return c.do(ctx, http.MethodPost, c.path(collection, id), types.CreateRequest{Document: doc}, http.StatusCreated, nil)
}

func (c *Client) Get(ctx context.Context, collection, id string) (store.Document, error) {
	var resp types.DocumentResponse
	if err := c.do(ctx, http.MethodGet, c.path(collection, id), nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Document, nil
}

func (c *Client) Update(ctx context.Context, collection, id string, ops ...store.Op) error {
	return c.do(ctx, http.MethodPatch, c.path(collection, id), types.UpdateRequest{Ops: store.ToWire(ops...)}, http.StatusNoContent, nil)
}

func (c *Client) Delete(ctx context.Context, collection, id string) error {
	return c.do(ctx, http.MethodDelete, c.path(collection, id), nil, http.StatusNoContent, nil)
}

func (c *Client) path(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return c.base.String() + "/v1/" + strings.Join(escaped, "/")
}

func (c *Client) do(ctx context.Context, method, target string, body any, want int, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: %v", store.ErrInvalidUpdate, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", store.ErrUnavailable, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body types.ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
	if body.Error == "" {
		body.Error = resp.Status
	}
	return fmt.Errorf("%w: %s", sentinelFor(body.Code, resp.StatusCode), body.Error)
}

func sentinelFor(code string, status int) error {
	switch {
	case code == types.CodeNotFound || status == http.StatusNotFound:
		return store.ErrNotFound
	case code == types.CodeAlreadyExists || status == http.StatusConflict:
		return store.ErrAlreadyExists
	case code == types.CodeInvalidUpdate || status == http.StatusBadRequest:
		return store.ErrInvalidUpdate
	default:
		return store.ErrUnavailable
	}
}
