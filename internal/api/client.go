package api

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
)

// Client consumes the sync HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates an API client for the given server base URL.
// If httpClient is nil, a default client with a 30s timeout is used.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// Status fetches the change delta since the given version.
func (c *Client) Status(ctx context.Context, since int64) (*StatusResponse, error) {
	u := c.baseURL + "/api/sync/status?since=" + strconv.FormatInt(since, 10)

	var status StatusResponse
	if err := c.getJSON(ctx, u, &status); err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	return &status, nil
}

// Chapters fetches hydrated payloads for one batch of chapter keys.
// Missing keys are omitted from the result.
func (c *Client) Chapters(ctx context.Context, keys []string, translation string) (map[string]json.RawMessage, error) {
	body, err := json.Marshal(ChapterBatchRequest{Keys: keys, Translation: translation})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/chapters/batch", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build batch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("batch request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("batch request failed: %s", responseError(resp))
	}

	var batch ChapterBatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		return nil, fmt.Errorf("failed to decode batch response: %w", err)
	}
	if batch.Chapters == nil {
		batch.Chapters = map[string]json.RawMessage{}
	}
	return batch.Chapters, nil
}

// Timeline fetches the singleton timeline aggregate.
func (c *Client) Timeline(ctx context.Context) (json.RawMessage, error) {
	return c.getRaw(ctx, c.baseURL+"/api/timeline")
}

// Prophecies fetches the singleton prophecies aggregate.
func (c *Client) Prophecies(ctx context.Context) (json.RawMessage, error) {
	return c.getRaw(ctx, c.baseURL+"/api/prophecies")
}

// Person fetches one person record by id.
func (c *Client) Person(ctx context.Context, id string) (json.RawMessage, error) {
	return c.getRaw(ctx, c.baseURL+"/api/persons/"+url.PathEscape(id))
}

// Plan fetches one reading plan record by id.
func (c *Client) Plan(ctx context.Context, id string) (json.RawMessage, error) {
	return c.getRaw(ctx, c.baseURL+"/api/plans/"+url.PathEscape(id))
}

// Meta fetches the metadata probe.
func (c *Client) Meta(ctx context.Context) (*MetaResponse, error) {
	var meta MetaResponse
	if err := c.getJSON(ctx, c.baseURL+"/api/meta", &meta); err != nil {
		return nil, fmt.Errorf("meta request failed: %w", err)
	}
	return &meta, nil
}

// getJSON performs a GET and decodes the JSON body into v.
func (c *Client) getJSON(ctx context.Context, u string, v interface{}) error {
	raw, err := c.getRaw(ctx, u)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// getRaw performs a GET and returns the raw body for a 200 response.
func (c *Client) getRaw(ctx context.Context, u string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request failed: %s", responseError(resp))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return json.RawMessage(body), nil
}

// responseError summarizes a non-200 response for error messages.
func responseError(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		return fmt.Sprintf("%s: %s", resp.Status, payload.Error)
	}
	return resp.Status
}
