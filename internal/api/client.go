package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vantagesearch/client/internal/config"
)

const maxErrorBody = 64 << 10

// Credentials supplies the bearer token for authenticated calls and is told when
// the server rejected it.
type Credentials interface {
	Token() (string, bool)
	Invalidate(token string)
}

// transport holds what every client needs to reach the backend.
type transport struct {
	base     *url.URL
	http     *http.Client
	timeouts config.Timeouts
	now      func() time.Time
}

func newTransport(baseURL string, httpClient *http.Client, timeouts config.Timeouts) (*transport, error) {
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("api base url %q must be absolute", baseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &transport{base: parsed, http: httpClient, timeouts: timeouts, now: time.Now}, nil
}

func (t *transport) timeout(category Category) time.Duration {
	switch category {
	case CategoryAuth:
		return t.timeouts.Auth
	case CategorySigning:
		return t.timeouts.Signing
	case CategoryPolling:
		return t.timeouts.Polling
	case CategorySearch:
		return t.timeouts.Search
	case CategoryUpload:
		return t.timeouts.Upload
	case CategoryAction:
		return t.timeouts.Action
	case CategoryMedia:
		return t.timeouts.Media
	default:
		return 0
	}
}

// endpoint resolves an escaped API path below the base URL.
func (t *transport) endpoint(path string, query url.Values) string {
	u := *t.base
	raw := strings.TrimRight(t.base.EscapedPath(), "/") + "/" + strings.TrimLeft(path, "/")
	if unescaped, err := url.PathUnescape(raw); err == nil {
		u.Path = unescaped
		u.RawPath = raw
	} else {
		u.Path = raw
		u.RawPath = ""
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	} else {
		u.RawQuery = ""
	}
	return u.String()
}

// call describes one request. body is produced lazily so the same call can be
// issued with a fresh reader.
type call struct {
	op       string
	category Category
	method   string
	url      string
	token    string
	header   http.Header
	body     func() (io.Reader, string, error)
}

// do sends c under the category's deadline. The returned response body keeps the
// deadline alive until it is closed.
func (t *transport) do(ctx context.Context, c call) (*http.Response, error) {
	ctx, cancel := withTimeout(ctx, t.timeout(c.category))

	var (
		body        io.Reader
		contentType string
	)
	if c.body != nil {
		var err error
		body, contentType, err = c.body()
		if err != nil {
			cancel()
			return nil, &Error{Op: c.op, Category: c.category, Kind: ErrNetwork, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, c.method, c.url, body)
	if err != nil {
		cancel()
		return nil, &Error{Op: c.op, Category: c.category, Kind: ErrNetwork, Err: err}
	}
	for key, values := range c.header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := t.http.Do(req)
	if err != nil {
		cancel()
		return nil, transportError(c, err)
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}

	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, statusError(c, resp.StatusCode, data)
	}
	return resp, nil
}

// doJSON sends c and decodes a JSON body into out (when out is non-nil).
func (t *transport) doJSON(ctx context.Context, c call, out any) error {
	data, err := t.doBytes(ctx, c)
	if err != nil {
		return err
	}
	if out == nil || len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Op: c.op, Category: c.category, Kind: ErrServer, Message: "malformed response", Err: err}
	}
	return nil
}

func (t *transport) doBytes(ctx context.Context, c call) ([]byte, error) {
	resp, err := t.do(ctx, c)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(c, err)
	}
	return data, nil
}

func transportError(c call, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Op: c.op, Category: c.category, Kind: ErrTimeout, Message: fmt.Sprintf("%s request timed out", c.category), Err: err}
	}
	return &Error{Op: c.op, Category: c.category, Kind: ErrNetwork, Err: err}
}

func statusError(c call, status int, body []byte) error {
	apiErr := &Error{Op: c.op, Category: c.category, StatusCode: status, Message: errorMessage(body)}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		apiErr.Kind = ErrAuth
	case status == http.StatusNotFound:
		apiErr.Kind = ErrNotFound
	default:
		apiErr.Kind = ErrServer
	}
	return apiErr
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
