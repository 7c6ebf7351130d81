package graphdrive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/disconnec/FeiSync/internal/backend"
)

// UploadInit creates a resumable upload session. Mirrors the teacher's
// Client.CreateUploadSession, generalized behind the backend.DriveBackend
// block-alignment contract (architecture.md §4.2).
func (c *Client) UploadInit(ctx context.Context, parentToken, fileName string, size int64) (backend.UploadSession, error) {
	body, _ := json.Marshal(map[string]any{
		"parent_token": parentToken,
		"name":         fileName,
		"size":         size,
	})

	resp, err := c.do(ctx, http.MethodPost, "/uploads", bytes.NewReader(body))
	if err != nil {
		return backend.UploadSession{}, err
	}
	defer resp.Body.Close()

	var wire struct {
		UploadID  string `json:"upload_id"`
		BlockSize int64  `json:"block_size"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return backend.UploadSession{}, fmt.Errorf("graphdrive: decoding upload-init response: %w", err)
	}

	return backend.UploadSession{UploadID: wire.UploadID, BlockSize: wire.BlockSize}, nil
}

// UploadBlock uploads one chunk with a PUT to the session's
// /uploads/<id>/blocks/<seq> path. Idempotent on (upload_id, seq) per the
// backend contract.
func (c *Client) UploadBlock(ctx context.Context, uploadID string, seq int64, data []byte) error {
	path := fmt.Sprintf("/uploads/%s/blocks/%d", url.PathEscape(uploadID), seq)

	resp, err := c.do(ctx, http.MethodPut, path, bytes.NewReader(data))
	if err != nil {
		return err
	}

	resp.Body.Close()

	return nil
}

func (c *Client) UploadFinish(ctx context.Context, uploadID string) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/uploads/"+url.PathEscape(uploadID)+"/finish", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var wire struct {
		Token string `json:"token"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return "", fmt.Errorf("graphdrive: decoding upload-finish response: %w", err)
	}

	return wire.Token, nil
}

// UploadAbort cancels an in-progress upload session, best-effort — mirrors
// the teacher's Client.CancelUploadSession.
func (c *Client) UploadAbort(ctx context.Context, uploadID string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/uploads/"+url.PathEscape(uploadID), nil)
	if err != nil {
		return err
	}

	resp.Body.Close()

	return nil
}
