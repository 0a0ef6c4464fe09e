package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// VideoURL is the authorized stream location for a full video.
func (c *Client) VideoURL(id, token string) string {
	q := url.Values{}
	q.Set("token", token)
	return c.t.endpoint(videoPath(id), q)
}

// ClipURL authorizes a clip location returned by search. Relative locations are
// resolved against the API origin.
func (c *Client) ClipURL(clipURL, token string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(clipURL))
	if err != nil {
		return "", fmt.Errorf("parse clip url: %w", err)
	}
	if ref.Path == "" && ref.Host == "" {
		return "", fmt.Errorf("clip url %q is empty", clipURL)
	}
	resolved := c.t.base.ResolveReference(ref)

	q := resolved.Query()
	q.Set("token", token)
	resolved.RawQuery = q.Encode()
	return resolved.String(), nil
}

// FetchMedia opens an authorized media location. The caller closes the stream.
// A rejected signed token surfaces as ErrAuth and never touches the session.
func (c *Client) FetchMedia(ctx context.Context, location string) (io.ReadCloser, int64, error) {
	req := call{op: "fetch media", category: CategoryMedia, method: http.MethodGet, url: location}
	resp, err := c.t.do(ctx, req)
	if err != nil {
		return nil, 0, err
	}
	return resp.Body, resp.ContentLength, nil
}
