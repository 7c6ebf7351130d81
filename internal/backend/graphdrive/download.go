package graphdrive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/disconnec/FeiSync/internal/ferr"
)

// DownloadRange opens a byte-range read over an item's content, mirroring
// the teacher's downloadFromURL/doPreAuthRetry streaming shape but against a
// Range request rather than a whole-file pre-authenticated URL, since
// backend.DriveBackend's contract is resumable ranged reads
// (architecture.md §4.4.2).
func (c *Client) DownloadRange(ctx context.Context, token string, offset, length int64) (io.ReadCloser, error) {
	path := "/items/" + url.PathEscape(token) + "/content"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("graphdrive: building download request: %w", err)
	}

	if length > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
	} else {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	tok, err := c.token.Token()
	if err != nil {
		return nil, fmt.Errorf("graphdrive: obtaining token: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, ferr.Newf(ferr.ErrUpstreamTransient, "download %s failed: %v", token, err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
		return resp.Body, nil
	case http.StatusNotFound:
		resp.Body.Close()

		return nil, ferr.New(ferr.ErrNotFound, "item not found: "+token)
	case http.StatusRequestedRangeNotSatisfiable:
		resp.Body.Close()

		return nil, ferr.New(ferr.ErrInvalidArgument, "requested range not satisfiable")
	default:
		resp.Body.Close()

		return nil, classify(resp.StatusCode, "download failed")
	}
}
