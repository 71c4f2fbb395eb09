// Package cms is the gateway to the headless CMS that owns the media documents being migrated.
//
// The HTTP implementation talks to a Sanity-style content API: GROQ queries over GET, mutations over POST,
// and binary uploads to the dataset's asset store. Every request carries the configured bearer token.
package cms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"

	"github.com/desertthunder/mvx/internal/models"
	"github.com/desertthunder/mvx/internal/shared"
)

// Gateway is the CMS surface the pipeline depends on.
type Gateway interface {
	// FetchDocuments runs a read-only query and returns its result rows.
	FetchDocuments(ctx context.Context, query string, params map[string]any) ([]models.Document, error)

	// PatchDocument sets a single field on a document.
	PatchDocument(ctx context.Context, id, field string, value any) error

	// UploadBinaryAsset stores r in the CMS asset store.
	UploadBinaryAsset(ctx context.Context, r io.Reader, filename, contentType string) (models.UploadedAsset, error)

	// DeleteDocument removes a document.
	DeleteDocument(ctx context.Context, id string) error

	// FindReferencingDocuments lists documents that reference assetID.
	FindReferencingDocuments(ctx context.Context, assetID string) ([]models.Reference, error)
}

// Client implements [Gateway] over HTTP.
type Client struct {
	baseURL    string
	dataset    string
	httpClient *http.Client
	logger     *log.Logger
}

// New creates a Client authenticated with the configured API token.
func New(cfg shared.CMSConfig, logger *log.Logger) *Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"})
	return NewWithHTTPClient(cfg, oauth2.NewClient(context.Background(), ts), logger)
}

// NewWithHTTPClient creates a Client that sends requests through httpClient as-is.
func NewWithHTTPClient(cfg shared.CMSConfig, httpClient *http.Client, logger *log.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	version := strings.TrimPrefix(cfg.APIVersion, "v")
	return &Client{
		baseURL:    strings.TrimRight(cfg.Endpoint(), "/") + "/v" + version,
		dataset:    cfg.Dataset,
		httpClient: httpClient,
		logger:     shared.WithLogger(logger, "component", "cms"),
	}
}

type queryResponse struct {
	Result json.RawMessage `json:"result"`
}

// FetchDocuments runs query with "$name" parameters encoded as JSON.
//
// Queries that yield a single object are returned as a one-element slice; null yields an empty slice.
func (c *Client) FetchDocuments(ctx context.Context, query string, params map[string]any) ([]models.Document, error) {
	values := url.Values{}
	values.Set("query", query)
	for k, v := range params {
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: param %s: %w", shared.ErrInvalidInput, k, err)
		}
		values.Set("$"+k, string(encoded))
	}

	endpoint := fmt.Sprintf("%s/data/query/%s?%s", c.baseURL, c.dataset, values.Encode())

	var resp queryResponse
	if err := c.do(ctx, http.MethodGet, endpoint, "", nil, &resp); err != nil {
		return nil, err
	}

	raw := bytes.TrimSpace(resp.Result)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
		return []models.Document{}, nil
	case raw[0] == '{':
		var doc models.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode query result: %w", err)
		}
		return []models.Document{doc}, nil
	}

	var docs []models.Document
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode query result: %w", err)
	}
	return docs, nil
}

type mutation map[string]any

// PatchDocument sets field to value on document id.
func (c *Client) PatchDocument(ctx context.Context, id, field string, value any) error {
	if id == "" || field == "" {
		return fmt.Errorf("%w: document id and field are required", shared.ErrMissingArgument)
	}
	err := c.mutate(ctx, mutation{"patch": map[string]any{
		"id":  id,
		"set": map[string]any{field: value},
	}})
	if err == nil {
		c.logger.Debug("document patched", "id", id, "field", field)
	}
	return err
}

// DeleteDocument deletes document id.
func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: document id is required", shared.ErrMissingArgument)
	}
	return c.mutate(ctx, mutation{"delete": map[string]any{"id": id}})
}

func (c *Client) mutate(ctx context.Context, mutations ...mutation) error {
	body, err := json.Marshal(map[string]any{"mutations": mutations})
	if err != nil {
		return fmt.Errorf("failed to encode mutations: %w", err)
	}

	endpoint := fmt.Sprintf("%s/data/mutate/%s?returnIds=true", c.baseURL, c.dataset)
	return c.do(ctx, http.MethodPost, endpoint, "application/json", bytes.NewReader(body), nil)
}

type assetResponse struct {
	Document struct {
		ID  string `json:"_id"`
		URL string `json:"url"`
	} `json:"document"`
}

// UploadBinaryAsset streams r to the dataset's file asset store.
func (c *Client) UploadBinaryAsset(ctx context.Context, r io.Reader, filename, contentType string) (models.UploadedAsset, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	endpoint := fmt.Sprintf("%s/assets/files/%s?filename=%s", c.baseURL, c.dataset, url.QueryEscape(filename))

	var resp assetResponse
	if err := c.do(ctx, http.MethodPost, endpoint, contentType, r, &resp); err != nil {
		return models.UploadedAsset{}, err
	}
	if resp.Document.ID == "" {
		return models.UploadedAsset{}, fmt.Errorf("%w: asset upload returned no document", shared.ErrAPIRequest)
	}

	return models.UploadedAsset{ID: resp.Document.ID, URL: resp.Document.URL}, nil
}

// FindReferencingDocuments lists documents holding a reference to assetID.
//
// FieldRef names the top-level field holding the reference when it is one of the
// known media fields, and is empty otherwise.
func (c *Client) FindReferencingDocuments(ctx context.Context, assetID string) ([]models.Reference, error) {
	docs, err := c.FetchDocuments(ctx, referencesQuery, map[string]any{"id": assetID})
	if err != nil {
		return nil, err
	}

	refs := make([]models.Reference, 0, len(docs))
	for _, doc := range docs {
		id, _ := doc["_id"].(string)
		if id == "" {
			continue
		}
		docType, _ := doc["_type"].(string)
		fieldRef, _ := doc["fieldRef"].(string)
		refs = append(refs, models.Reference{ID: id, Type: docType, FieldRef: fieldRef})
	}
	return refs, nil
}

// do sends a request and decodes a JSON response into result when result is non-nil.
func (c *Client) do(ctx context.Context, method, endpoint, contentType string, body io.Reader, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", shared.ErrAPIRequest, method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("cms request failed", "method", method, "path", req.URL.Path, "status", resp.StatusCode)
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %w: %s", shared.ErrAPIRequest, shared.ErrNotFound, strings.TrimSpace(string(msg)))
		}
		return fmt.Errorf("%w: status %d: %s", shared.ErrAPIRequest, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
