// Package ai wraps the Generative Language file-search API: store lifecycle,
// file staging, document import, and retrieval-grounded generation. It is
// the only package that talks to the vendor.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"strings"
	"time"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com"

// DefaultModel is the generation model attached to file-search queries.
const DefaultModel = "gemini-3-flash-preview"

// Client calls the vendor API with typed requests and responses.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client

	pollInterval time.Duration
	pollTimeout  time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL points the client at a different endpoint (tests).
func WithBaseURL(base string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(base, "/") }
}

// WithModel overrides the generation model.
func WithModel(model string) Option {
	return func(c *Client) {
		if strings.TrimSpace(model) != "" {
			c.model = model
		}
	}
}

// WithHTTPClient substitutes the underlying transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithPolling adjusts the operation polling cadence (tests).
func WithPolling(interval, timeout time.Duration) Option {
	return func(c *Client) {
		c.pollInterval = interval
		c.pollTimeout = timeout
	}
}

// NewClient constructs a client with the provided API key.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key required")
	}
	c := &Client{
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		model:        DefaultModel,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		pollInterval: 2 * time.Second,
		pollTimeout:  2 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CreateStore creates a file-search store and returns its resource name
// ("fileSearchStores/...").
func (c *Client) CreateStore(ctx context.Context, displayName string) (string, error) {
	slog.Info("creating file search store", "display_name", displayName)
	var store StoreMetadata
	err := c.doJSON(ctx, http.MethodPost, "/v1beta/fileSearchStores", createStoreRequest{DisplayName: displayName}, &store)
	if err != nil {
		return "", fmt.Errorf("create store: %w", err)
	}
	return store.Name, nil
}

// GetStoreMetadata fetches size/document-count metadata for a store.
func (c *Client) GetStoreMetadata(ctx context.Context, storeName string) (*StoreMetadata, error) {
	var store StoreMetadata
	if err := c.doJSON(ctx, http.MethodGet, "/v1beta/"+storeName, nil, &store); err != nil {
		return nil, fmt.Errorf("get store metadata: %w", err)
	}
	return &store, nil
}

// UploadFile stages a local file with the vendor and returns its handle.
func (c *Client) UploadFile(ctx context.Context, path, displayName, mimeType string) (*UploadedFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat upload: %w", err)
	}
	slog.Info("uploading file", "display_name", displayName, "mime_type", mimeType, "size_bytes", info.Size())

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Type", "application/json; charset=UTF-8")
	metaPart, err := writer.CreatePart(metaHeader)
	if err != nil {
		return nil, fmt.Errorf("build upload metadata: %w", err)
	}
	meta := map[string]any{"file": map[string]string{"displayName": displayName}}
	if err := json.NewEncoder(metaPart).Encode(meta); err != nil {
		return nil, fmt.Errorf("encode upload metadata: %w", err)
	}

	mediaHeader := textproto.MIMEHeader{}
	mediaHeader.Set("Content-Type", mimeType)
	mediaPart, err := writer.CreatePart(mediaHeader)
	if err != nil {
		return nil, fmt.Errorf("build upload media: %w", err)
	}
	if _, err := io.Copy(mediaPart, f); err != nil {
		return nil, fmt.Errorf("read upload media: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finish upload body: %w", err)
	}

	endpoint := c.baseURL + "/upload/v1beta/files?uploadType=multipart&key=" + url.QueryEscape(c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "multipart/related; boundary="+writer.Boundary())

	var uploaded uploadResponse
	if err := c.do(req, &uploaded); err != nil {
		return nil, fmt.Errorf("upload file: %w", err)
	}
	slog.Info("upload complete", "name", uploaded.File.Name, "uri", uploaded.File.URI)
	return &UploadedFile{Name: uploaded.File.Name, URI: uploaded.File.URI}, nil
}

// ImportMetadata tags an imported document for scoped retrieval.
type ImportMetadata struct {
	LibraryID string
	FileID    string
}

// ImportFile ingests an uploaded file into a store with retrieval metadata
// and returns the operation name for polling.
func (c *Client) ImportFile(ctx context.Context, storeName, fileName string, meta ImportMetadata) (string, error) {
	slog.Info("importing file into store", "file", fileName, "store", storeName,
		"library_id", meta.LibraryID, "file_id", meta.FileID)
	req := importFileRequest{
		FileName: fileName,
		CustomMetadata: []customMetadataEntry{
			{Key: "library_id", StringValue: meta.LibraryID},
			{Key: "db_file_id", StringValue: meta.FileID},
		},
	}
	var op Operation
	if err := c.doJSON(ctx, http.MethodPost, "/v1beta/"+storeName+":importFile", req, &op); err != nil {
		return "", fmt.Errorf("import file: %w", err)
	}
	return op.Name, nil
}

// GetOperation fetches the current state of a long-running operation.
func (c *Client) GetOperation(ctx context.Context, operationName string) (*Operation, error) {
	var op Operation
	if err := c.doJSON(ctx, http.MethodGet, "/v1beta/"+operationName, nil, &op); err != nil {
		return nil, fmt.Errorf("get operation: %w", err)
	}
	return &op, nil
}

// WaitForOperation polls until the operation completes or the poll timeout
// elapses. A failed operation is returned as an error.
func (c *Client) WaitForOperation(ctx context.Context, operationName string) (*Operation, error) {
	ctx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()
	for {
		op, err := c.GetOperation(ctx, operationName)
		if err != nil {
			return nil, err
		}
		if op.Done {
			if op.Error != nil {
				return nil, fmt.Errorf("operation %s failed: %s", operationName, op.Error.Message)
			}
			return op, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for operation %s: %w", operationName, ctx.Err())
		case <-time.After(c.pollInterval):
		}
	}
}

// DeleteFile removes a staged file. Missing or expired files (404/403) are
// treated as already gone: the call reports false without an error, making
// deletion idempotent.
func (c *Client) DeleteFile(ctx context.Context, fileName string) (bool, error) {
	err := c.doJSON(ctx, http.MethodDelete, "/v1beta/"+fileName, nil, nil)
	if err == nil {
		return true, nil
	}
	switch Classify(err) {
	case KindStoreExpired, KindStoreNotFound:
		slog.Info("remote file already gone", "file", fileName)
		return false, nil
	}
	return false, fmt.Errorf("delete file: %w", err)
}

// GetFile fetches staging metadata for a file, or nil if the lookup fails.
func (c *Client) GetFile(ctx context.Context, fileName string) (*FileMetadata, error) {
	var file FileMetadata
	if err := c.doJSON(ctx, http.MethodGet, "/v1beta/"+fileName, nil, &file); err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	return &file, nil
}

// DeleteDocument removes the store document derived from a staged file.
// The document ID is not recorded anywhere, so this lists the store's
// documents and matches on the cleaned file ID. O(n) in documents per
// store, acceptable at per-user document counts.
func (c *Client) DeleteDocument(ctx context.Context, storeName, fileName string) (bool, error) {
	var list documentListResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1beta/"+storeName+"/documents", nil, &list); err != nil {
		return false, fmt.Errorf("list documents: %w", err)
	}
	match := findMatchingDocument(list.Documents, fileName)
	if match == "" {
		slog.Info("no matching store document", "file", fileName, "store", storeName)
		return false, nil
	}
	if err := c.doJSON(ctx, http.MethodDelete, "/v1beta/"+match+"?force=true", nil, nil); err != nil {
		return false, fmt.Errorf("delete document: %w", err)
	}
	return true, nil
}

// DeleteStore force-deletes a store together with every document it still
// holds. A store that is already gone is not an error.
func (c *Client) DeleteStore(ctx context.Context, storeName string) (bool, error) {
	err := c.doJSON(ctx, http.MethodDelete, "/v1beta/"+storeName+"?force=true", nil, nil)
	if err == nil {
		return true, nil
	}
	switch Classify(err) {
	case KindStoreExpired, KindStoreNotFound:
		slog.Info("remote store already gone", "store", storeName)
		return false, nil
	}
	return false, fmt.Errorf("delete store: %w", err)
}

// findMatchingDocument locates a document derived from the given staged
// file by display name or resource name.
func findMatchingDocument(docs []Document, fileName string) string {
	cleanID := strings.TrimPrefix(fileName, "files/")
	for _, doc := range docs {
		if doc.DisplayName == cleanID || strings.Contains(doc.Name, cleanID) {
			return doc.Name
		}
	}
	return ""
}

// PurgeAll deletes every store and staged file owned by this API key.
// Each deletion is independently best-effort.
func (c *Client) PurgeAll(ctx context.Context) error {
	slog.Warn("purging all remote data")

	var stores storeListResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1beta/fileSearchStores", nil, &stores); err != nil {
		slog.Warn("list stores during purge failed", "err", err)
	} else {
		for _, store := range stores.FileSearchStores {
			if err := c.doJSON(ctx, http.MethodDelete, "/v1beta/"+store.Name+"?force=true", nil, nil); err != nil {
				slog.Warn("delete store during purge failed", "store", store.Name, "err", err)
				continue
			}
			slog.Info("purged store", "store", store.Name)
		}
	}

	var files fileListResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1beta/files", nil, &files); err != nil {
		slog.Warn("list files during purge failed", "err", err)
	} else {
		for _, file := range files.Files {
			if _, err := c.DeleteFile(ctx, file.Name); err != nil {
				slog.Warn("delete file during purge failed", "file", file.Name, "err", err)
				continue
			}
			slog.Info("purged file", "file", file.Name)
		}
	}

	slog.Warn("remote purge complete")
	return nil
}

// doJSON sends a JSON request to path (which may carry its own query
// string) and decodes the response into out.
func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	endpoint := c.baseURL + path + sep + "key=" + url.QueryEscape(c.apiKey)
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp apiErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error.Message
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{StatusCode: resp.StatusCode, Status: errResp.Error.Status, Message: msg}
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	return decoder.Decode(out)
}
