package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vantagesearch/client/internal/config"
	"github.com/vantagesearch/client/internal/models"
)

var errNoSession = errors.New("no active session")

// Client issues authenticated calls on behalf of the current session.
type Client struct {
	t     *transport
	creds Credentials
}

// NewClient builds a Client that reads its bearer token from creds.
func NewClient(baseURL string, httpClient *http.Client, timeouts config.Timeouts, creds Credentials) (*Client, error) {
	if creds == nil {
		return nil, errors.New("credentials are required")
	}
	t, err := newTransport(baseURL, httpClient, timeouts)
	if err != nil {
		return nil, err
	}
	return &Client{t: t, creds: creds}, nil
}

// authed attaches the current bearer token to c and sends it. A 401 response
// invalidates the token that was sent.
func (c *Client) authed(ctx context.Context, req call) (*http.Response, error) {
	token, ok := c.creds.Token()
	if !ok {
		return nil, &Error{Op: req.op, Category: req.category, Kind: ErrAuth, Err: errNoSession}
	}
	req.token = token

	resp, err := c.t.do(ctx, req)
	if err != nil {
		if StatusCode(err) == http.StatusUnauthorized {
			c.creds.Invalidate(token)
		}
		return nil, err
	}
	return resp, nil
}

func (c *Client) authedBytes(ctx context.Context, req call) ([]byte, error) {
	resp, err := c.authed(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(req, err)
	}
	return data, nil
}

func (c *Client) authedJSON(ctx context.Context, req call, out any) error {
	data, err := c.authedBytes(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || strings.TrimSpace(string(data)) == "" {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Op: req.op, Category: req.category, Kind: ErrServer, Message: "malformed response", Err: err}
	}
	return nil
}

func videoPath(id string, suffix ...string) string {
	parts := append([]string{"videos", url.PathEscape(id)}, suffix...)
	return strings.Join(parts, "/")
}

// ListVideos returns the user's library in server order.
func (c *Client) ListVideos(ctx context.Context) ([]models.VideoRecord, error) {
	req := call{op: "list videos", category: CategoryPolling, method: http.MethodGet, url: c.t.endpoint("videos", nil)}
	data, err := c.authedBytes(ctx, req)
	if err != nil {
		return nil, err
	}
	videos, err := normalizeVideos(data)
	if err != nil {
		return nil, &Error{Op: req.op, Category: req.category, Kind: ErrServer, Message: "malformed video list", Err: err}
	}
	return videos, nil
}

// UploadVideo streams r as the multipart field "file" and returns the new video id.
func (c *Client) UploadVideo(ctx context.Context, filename string, r io.Reader) (string, error) {
	req := call{
		op:       "upload video",
		category: CategoryUpload,
		method:   http.MethodPost,
		url:      c.t.endpoint("upload", nil),
		body: func() (io.Reader, string, error) {
			return multipartBody(filepath.Base(filename), r)
		},
	}

	var resp wireID
	if err := c.authedJSON(ctx, req, &resp); err != nil {
		return "", err
	}
	id := firstNonEmpty(string(resp.VideoID), string(resp.ID), string(resp.VideoIDCamel))
	if id == "" {
		return "", &Error{Op: req.op, Category: req.category, Kind: ErrServer, Message: "upload response carried no video id"}
	}
	return id, nil
}

func multipartBody(filename string, r io.Reader) (io.Reader, string, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, r); err != nil {
			pw.CloseWithError(fmt.Errorf("stream upload: %w", err))
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	return pr, mw.FormDataContentType(), nil
}

// DeleteVideo removes a video on the server.
func (c *Client) DeleteVideo(ctx context.Context, id string) error {
	req := call{op: "delete video", category: CategoryAction, method: http.MethodDelete, url: c.t.endpoint(videoPath(id), nil)}
	return c.authedJSON(ctx, req, nil)
}

// RetryVideo asks the server to re-run indexing for a video.
func (c *Client) RetryVideo(ctx context.Context, id string) error {
	req := call{op: "retry video", category: CategoryAction, method: http.MethodPost, url: c.t.endpoint(videoPath(id, "retry"), nil)}
	return c.authedJSON(ctx, req, nil)
}

// SignVideo requests a short-lived media access token for a video.
func (c *Client) SignVideo(ctx context.Context, id string) (string, error) {
	req := call{op: "sign video", category: CategorySigning, method: http.MethodPost, url: c.t.endpoint(videoPath(id, "sign"), nil)}

	var resp struct {
		Token       string `json:"token"`
		AccessToken string `json:"accessToken"`
	}
	if err := c.authedJSON(ctx, req, &resp); err != nil {
		return "", err
	}
	token := firstNonEmpty(resp.Token, resp.AccessToken)
	if token == "" {
		return "", &Error{Op: req.op, Category: req.category, Kind: ErrServer, Message: "signing response carried no token"}
	}
	return token, nil
}

// Search runs a semantic query and returns hits in server order.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	q := url.Values{}
	q.Set("q", query)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	req := call{op: "search", category: CategorySearch, method: http.MethodGet, url: c.t.endpoint("search", q)}

	data, err := c.authedBytes(ctx, req)
	if err != nil {
		return nil, err
	}
	hits, err := normalizeHits(data)
	if err != nil {
		return nil, &Error{Op: req.op, Category: req.category, Kind: ErrServer, Message: "malformed search results", Err: err}
	}
	return hits, nil
}

// Stats returns the aggregate analytics counters.
func (c *Client) Stats(ctx context.Context) (models.Analytics, error) {
	req := call{op: "stats", category: CategoryPolling, method: http.MethodGet, url: c.t.endpoint("stats", nil)}

	var resp wireStats
	if err := c.authedJSON(ctx, req, &resp); err != nil {
		return models.Analytics{}, err
	}
	var stats models.Analytics
	switch {
	case resp.TotalFrames != nil:
		stats.TotalFramesAnalyzed = *resp.TotalFrames
	case resp.TotalFramesCamel != nil:
		stats.TotalFramesAnalyzed = *resp.TotalFramesCamel
	}
	return stats, nil
}
