package graphdrive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/disconnec/FeiSync/internal/backend"
	"github.com/disconnec/FeiSync/internal/backoff"
	"github.com/disconnec/FeiSync/internal/ferr"
)

// Client is an HTTP client for a Graph-style upstream drive API. It handles
// request construction, authentication, retry with exponential backoff, and
// error classification — the same shape as the teacher's graph.Client.Do.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger
}

// NewClient creates a Client bound to one tenant's token source.
func NewClient(baseURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{baseURL: baseURL, httpClient: httpClient, token: token, logger: logger}
}

// do executes an authenticated request with retry on transient failures,
// mirroring the teacher's graph.Client.doRetry.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	var attempt int

	for {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, fmt.Errorf("graphdrive: building request: %w", err)
		}

		tok, err := c.token.Token()
		if err != nil {
			return nil, fmt.Errorf("graphdrive: obtaining token: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+tok)

		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ferr.New(ferr.ErrCancelled, "request canceled")
			}

			if attempt < backoff.HTTPRetry.MaxRetries {
				c.logger.Warn("retrying after network error", slog.String("path", path), slog.Int("attempt", attempt+1))

				if sleepErr := backoff.HTTPRetry.Sleep(ctx, attempt); sleepErr != nil {
					return nil, ferr.New(ferr.ErrCancelled, "request canceled during backoff")
				}

				attempt++

				continue
			}

			return nil, ferr.Newf(ferr.ErrUpstreamTransient, "%s %s failed after retries: %v", method, path, err)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		errBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if isRetryable(resp.StatusCode) && attempt < backoff.HTTPRetry.MaxRetries {
			d := retryAfter(resp, attempt)

			c.logger.Warn("retrying after HTTP error",
				slog.String("path", path), slog.Int("status", resp.StatusCode), slog.Int("attempt", attempt+1))

			timer := time.NewTimer(d)

			select {
			case <-ctx.Done():
				timer.Stop()

				return nil, ferr.New(ferr.ErrCancelled, "request canceled during backoff")
			case <-timer.C:
			}

			attempt++

			continue
		}

		return nil, classify(resp.StatusCode, string(errBody))
	}
}

func retryAfter(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}

	return backoff.HTTPRetry.Duration(attempt)
}

func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func classify(code int, message string) error {
	switch {
	case code == http.StatusTooManyRequests:
		return ferr.New(ferr.ErrUpstreamRateLimited, message)
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return ferr.New(ferr.ErrTimeout, message)
	case code == http.StatusNotFound:
		return ferr.New(ferr.ErrNotFound, message)
	case code == http.StatusConflict:
		return ferr.New(ferr.ErrDuplicateName, message)
	case code >= 500:
		return ferr.New(ferr.ErrUpstreamTransient, message)
	default:
		return ferr.New(ferr.ErrUpstreamPermanent, message)
	}
}

// --- backend.DriveBackend implementation ---

type entryWire struct {
	Token       string `json:"token"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	ParentToken string `json:"parent_token"`
	Size        int64  `json:"size"`
	Mtime       string `json:"mtime"`
}

func (e entryWire) toEntry() backend.Entry {
	t, _ := time.Parse(time.RFC3339, e.Mtime)

	return backend.Entry{
		Token: e.Token, Name: e.Name, Type: backend.EntryType(e.Type),
		ParentToken: e.ParentToken, Size: e.Size, Mtime: t,
	}
}

func (c *Client) ListRoot(ctx context.Context) (string, []backend.Entry, error) {
	entries, err := c.ListFolder(ctx, "root")

	return "root", entries, err
}

func (c *Client) ListFolder(ctx context.Context, folderToken string) ([]backend.Entry, error) {
	resp, err := c.do(ctx, http.MethodGet, "/folders/"+url.PathEscape(folderToken)+"/children", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var wire struct {
		Entries []entryWire `json:"entries"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("graphdrive: decoding list response: %w", err)
	}

	out := make([]backend.Entry, 0, len(wire.Entries))
	for _, e := range wire.Entries {
		out = append(out, e.toEntry())
	}

	return out, nil
}

func (c *Client) Metadata(ctx context.Context, token string) (backend.Metadata, error) {
	resp, err := c.do(ctx, http.MethodGet, "/items/"+url.PathEscape(token), nil)
	if err != nil {
		return backend.Metadata{}, err
	}
	defer resp.Body.Close()

	var wire struct {
		Size     int64  `json:"size"`
		Mtime    string `json:"mtime"`
		Checksum string `json:"checksum"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return backend.Metadata{}, fmt.Errorf("graphdrive: decoding metadata response: %w", err)
	}

	mtime, _ := time.Parse(time.RFC3339, wire.Mtime)

	return backend.Metadata{Size: wire.Size, Mtime: mtime, Checksum: wire.Checksum, LatestModifyTime: mtime}, nil
}
