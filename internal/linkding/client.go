// Package linkding implements the remote-store adapter for the linkding
// REST API.
package linkding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/klppl/linkding-sync/internal/tagsync"
)

// APIError reports a non-2xx response from the linkding API. A 404 matches
// tagsync.ErrNotFound through errors.Is.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("linkding api: http %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("linkding api: http %d", e.StatusCode)
}

func (e *APIError) Is(target error) bool {
	return target == tagsync.ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Bookmark is the wire shape of one linkding bookmark.
type Bookmark struct {
	ID           int64     `json:"id"`
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	TagNames     []string  `json:"tag_names"`
	DateAdded    time.Time `json:"date_added,omitempty"`
	DateModified time.Time `json:"date_modified,omitempty"`
}

type bookmarkPage struct {
	Count   int        `json:"count"`
	Next    *string    `json:"next"`
	Results []Bookmark `json:"results"`
}

// Client talks to one linkding instance. It implements tagsync.RemoteStore.
// Idempotent calls are retried with exponential backoff; creates are not
// retried after ambiguous network failures, since a blind retry could leave
// a duplicated bookmark behind.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	pageSize   int
}

func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
		pageSize:   100,
	}
}

// ListByTag returns every bookmark carrying the tag, following pagination
// transparently so the caller sees one flattened sequence.
func (c *Client) ListByTag(ctx context.Context, tag string) ([]tagsync.RemoteItem, error) {
	q := url.Values{}
	q.Set("q", "#"+tag)
	q.Set("limit", strconv.Itoa(c.pageSize))
	next := "/api/bookmarks/?" + q.Encode()

	var items []tagsync.RemoteItem
	for next != "" {
		var page bookmarkPage
		if err := c.doJSON(ctx, http.MethodGet, next, nil, &page, true); err != nil {
			return nil, err
		}
		for _, bookmark := range page.Results {
			items = append(items, toRemoteItem(bookmark))
		}
		if page.Next == nil || *page.Next == "" {
			break
		}

		parsed, err := url.Parse(*page.Next)
		if err != nil {
			return nil, fmt.Errorf("linkding api: bad next page url %q: %w", *page.Next, err)
		}
		next = parsed.RequestURI()
	}
	return items, nil
}

func (c *Client) Create(ctx context.Context, bookmarkURL, title string, tags []string) (tagsync.RemoteItem, error) {
	body := map[string]any{
		"url":       bookmarkURL,
		"title":     title,
		"tag_names": tags,
	}
	var created Bookmark
	if err := c.doJSON(ctx, http.MethodPost, "/api/bookmarks/", body, &created, false); err != nil {
		return tagsync.RemoteItem{}, err
	}
	return toRemoteItem(created), nil
}

func (c *Client) Update(ctx context.Context, id int64, patch tagsync.RemotePatch) (tagsync.RemoteItem, error) {
	body := map[string]any{}
	if patch.URL != nil {
		body["url"] = *patch.URL
	}
	if patch.Title != nil {
		body["title"] = *patch.Title
	}
	if patch.Tags != nil {
		body["tag_names"] = *patch.Tags
	}
	var updated Bookmark
	path := fmt.Sprintf("/api/bookmarks/%d/", id)
	if err := c.doJSON(ctx, http.MethodPatch, path, body, &updated, true); err != nil {
		return tagsync.RemoteItem{}, err
	}
	return toRemoteItem(updated), nil
}

func (c *Client) Delete(ctx context.Context, id int64) error {
	path := fmt.Sprintf("/api/bookmarks/%d/", id)
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil, true)
}

// doJSON issues one API call. Idempotent calls retry on network errors,
// 429 and 5xx; non-idempotent calls retry only on 429, where the server is
// known not to have executed the request.
func (c *Client) doJSON(ctx context.Context, method, requestPath string, body, out any, idempotent bool) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Token "+c.token)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if idempotent && attempt < c.maxRetries {
				if waitErr := c.backoff(ctx, attempt+1, ""); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payload) == 0 {
				return nil
			}
			if err := json.Unmarshal(payload, out); err != nil {
				return &APIError{StatusCode: resp.StatusCode, Message: "malformed response: " + err.Error()}
			}
			return nil
		}

		retryable := resp.StatusCode == http.StatusTooManyRequests ||
			(idempotent && resp.StatusCode >= 500 && resp.StatusCode <= 599)
		if retryable && attempt < c.maxRetries {
			if waitErr := c.backoff(ctx, attempt+1, resp.Header.Get("Retry-After")); waitErr != nil {
				return waitErr
			}
			continue
		}

		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(payload),
		}
	}
}

func (c *Client) backoff(ctx context.Context, attempt int, retryAfterHeader string) error {
	delay := c.retryDelay(attempt, retryAfterHeader)
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func errorMessage(payload []byte) string {
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(payload, &body); err == nil && body.Detail != "" {
		return body.Detail
	}
	message := strings.TrimSpace(string(payload))
	if len(message) > 200 {
		message = message[:200]
	}
	return message
}

func toRemoteItem(bookmark Bookmark) tagsync.RemoteItem {
	return tagsync.RemoteItem{
		ID:         bookmark.ID,
		URL:        bookmark.URL,
		Title:      bookmark.Title,
		Tags:       bookmark.TagNames,
		ModifiedAt: bookmark.DateModified,
	}
}
