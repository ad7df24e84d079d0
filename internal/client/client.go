// Package client talks to the danmakud HTTP API. A Client serves as the
// player's comment source, settings persister and reactor.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sendrec/danmaku/internal/danmaku"
)

// StatusError is returned when the API answers with an unexpected status.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("danmakud %s returned %d: %s", e.Op, e.Code, e.Body)
}

type Client struct {
	baseURL string
	http    *http.Client

	mu       sync.RWMutex
	token    string
	viewerID string
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// SetToken sets the bearer token sent on authenticated requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) ViewerID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viewerID
}

type guestRequest struct {
	DisplayName string `json:"displayName,omitempty"`
}

type tokenResponse struct {
	AccessToken string `json:"accessToken"`
	ViewerID    string `json:"viewerId"`
}

// Guest signs in as a new guest viewer and keeps the issued access token.
func (c *Client) Guest(ctx context.Context, displayName string) (string, error) {
	var resp tokenResponse
	if err := c.do(ctx, "guest", http.MethodPost, "/api/auth/guest", guestRequest{DisplayName: displayName}, http.StatusCreated, &resp); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.token = resp.AccessToken
	c.viewerID = resp.ViewerID
	c.mu.Unlock()
	return resp.ViewerID, nil
}

// FetchPage reads one page of a video's comments. Client errors other than
// rate limiting mean retrying cannot help, so they wrap danmaku.ErrSourceGone.
func (c *Client) FetchPage(ctx context.Context, videoID string, after danmaku.Cursor, limit int) (danmaku.Page, error) {
	q := url.Values{}
	q.Set("after", strconv.FormatInt(after.AfterMs, 10))
	if after.AfterID != "" {
		q.Set("afterId", after.AfterID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/videos/" + url.PathEscape(videoID) + "/danmaku?" + q.Encode()

	var page danmaku.Page
	err := c.do(ctx, "list", http.MethodGet, path, nil, http.StatusOK, &page)
	var se *StatusError
	if errors.As(err, &se) && permanent(se.Code) {
		return danmaku.Page{}, fmt.Errorf("%w: %w", danmaku.ErrSourceGone, err)
	}
	if err != nil {
		return danmaku.Page{}, err
	}
	if page.Comments == nil {
		page.Comments = []danmaku.Comment{}
	}
	return page, nil
}

type postRequest struct {
	Content string `json:"content"`
	DueAtMs int64  `json:"dueAtMs"`
}

// Post publishes a comment at dueAtMs on the video timeline.
func (c *Client) Post(ctx context.Context, videoID, content string, dueAtMs int64) (danmaku.Comment, error) {
	var created danmaku.Comment
	err := c.do(ctx, "post", http.MethodPost, "/api/videos/"+url.PathEscape(videoID)+"/danmaku",
		postRequest{Content: content, DueAtMs: dueAtMs}, http.StatusCreated, &created)
	return created, err
}

// Delete removes one of the viewer's own comments.
func (c *Client) Delete(ctx context.Context, videoID, commentID string) error {
	return c.do(ctx, "delete", http.MethodDelete,
		"/api/videos/"+url.PathEscape(videoID)+"/danmaku/"+url.PathEscape(commentID), nil, http.StatusNoContent, nil)
}

type reactRequest struct {
	Kind danmaku.ReactionKind `json:"kind"`
}

// React records the viewer's reaction to a comment.
func (c *Client) React(ctx context.Context, commentID string, kind danmaku.ReactionKind) error {
	return c.do(ctx, "react", http.MethodPost, "/api/danmaku/"+url.PathEscape(commentID)+"/reactions",
		reactRequest{Kind: kind}, http.StatusNoContent, nil)
}

// Counts is the reaction tally of one comment.
type Counts struct {
	Likes    int `json:"likes"`
	Dislikes int `json:"dislikes"`
}

func (c *Client) Reactions(ctx context.Context, commentID string) (Counts, error) {
	var counts Counts
	err := c.do(ctx, "reactions", http.MethodGet, "/api/danmaku/"+url.PathEscape(commentID)+"/reactions", nil, http.StatusOK, &counts)
	return counts, err
}

// SaveSettings stores the full settings blob for the signed-in viewer.
func (c *Client) SaveSettings(ctx context.Context, s danmaku.Settings) error {
	return c.do(ctx, "save settings", http.MethodPut, "/api/settings", s, http.StatusNoContent, nil)
}

// LoadSettings returns the signed-in viewer's settings.
func (c *Client) LoadSettings(ctx context.Context) (danmaku.Settings, error) {
	s := danmaku.DefaultSettings()
	if err := c.do(ctx, "load settings", http.MethodGet, "/api/settings", nil, http.StatusOK, &s); err != nil {
		return danmaku.DefaultSettings(), err
	}
	return s, nil
}

// Limits returns the server's text field limits.
func (c *Client) Limits(ctx context.Context) (map[string]int, error) {
	var limits map[string]int
	err := c.do(ctx, "limits", http.MethodGet, "/api/limits", nil, http.StatusOK, &limits)
	return limits, err
}

func (c *Client) do(ctx context.Context, op, method, path string, in any, want int, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != want {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

func permanent(code int) bool {
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests && code != http.StatusRequestTimeout
}
