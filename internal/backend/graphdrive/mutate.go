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

func (c *Client) CreateFolder(ctx context.Context, parentToken, name string) (string, error) {
	body, _ := json.Marshal(map[string]string{"parent_token": parentToken, "name": name})

	resp, err := c.do(ctx, http.MethodPost, "/folders", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var wire struct {
		Token string `json:"token"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return "", fmt.Errorf("graphdrive: decoding create-folder response: %w", err)
	}

	return wire.Token, nil
}

func (c *Client) Move(ctx context.Context, token, newParentToken string) error {
	body, _ := json.Marshal(map[string]string{"new_parent_token": newParentToken})

	resp, err := c.do(ctx, http.MethodPost, "/items/"+url.PathEscape(token)+"/move", bytes.NewReader(body))
	if err != nil {
		return err
	}

	resp.Body.Close()

	return nil
}

func (c *Client) Copy(ctx context.Context, token, newParentToken, newName string) (string, error) {
	body, _ := json.Marshal(map[string]string{"new_parent_token": newParentToken, "new_name": newName})

	resp, err := c.do(ctx, http.MethodPost, "/items/"+url.PathEscape(token)+"/copy", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var wire struct {
		Token string `json:"token"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return "", fmt.Errorf("graphdrive: decoding copy response: %w", err)
	}

	return wire.Token, nil
}

func (c *Client) Delete(ctx context.Context, token string, _ backend.DeleteType) error {
	resp, err := c.do(ctx, http.MethodDelete, "/items/"+url.PathEscape(token), nil)
	if err != nil {
		return err
	}

	resp.Body.Close()

	return nil
}

func (c *Client) Quota(ctx context.Context) (backend.Quota, error) {
	resp, err := c.do(ctx, http.MethodGet, "/quota", nil)
	if err != nil {
		return backend.Quota{}, err
	}
	defer resp.Body.Close()

	var wire struct {
		Used  int64 `json:"used"`
		Total int64 `json:"total"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return backend.Quota{}, fmt.Errorf("graphdrive: decoding quota response: %w", err)
	}

	return backend.Quota{Used: wire.Used, Total: wire.Total}, nil
}
