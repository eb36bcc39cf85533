// Package app implements the service's use cases: document ingestion,
// scoped chat, library management, billing, and account lifecycle. HTTP
// handlers call into App; App talks to the store, the vendor client, and
// preview storage.
package app

import (
	"context"
	"time"

	"docchat/internal/util"
	"docchat/pkg/ai"
	"docchat/pkg/storage"
	"docchat/pkg/store"
)

// SearchClient is the slice of the vendor API the app depends on.
type SearchClient interface {
	CreateStore(ctx context.Context, displayName string) (string, error)
	GetStoreMetadata(ctx context.Context, storeName string) (*ai.StoreMetadata, error)
	UploadFile(ctx context.Context, path, displayName, mimeType string) (*ai.UploadedFile, error)
	ImportFile(ctx context.Context, storeName, fileName string, meta ai.ImportMetadata) (string, error)
	WaitForOperation(ctx context.Context, operationName string) (*ai.Operation, error)
	GetOperation(ctx context.Context, operationName string) (*ai.Operation, error)
	Search(ctx context.Context, storeName, query, instruction string, scope ai.SearchScope) (*ai.SearchResult, error)
	DeleteFile(ctx context.Context, fileName string) (bool, error)
	GetFile(ctx context.Context, fileName string) (*ai.FileMetadata, error)
	DeleteDocument(ctx context.Context, storeName, fileName string) (bool, error)
	DeleteStore(ctx context.Context, storeName string) (bool, error)
	PurgeAll(ctx context.Context) error
}

// App wires the use cases together.
type App struct {
	store    store.Store
	search   SearchClient
	stager   *storage.FileStore
	previews storage.PreviewStore
	model    string

	now   func() time.Time
	newID func() string
}

// Options configures an App.
type Options struct {
	Store    store.Store
	Search   SearchClient
	Stager   *storage.FileStore
	Previews storage.PreviewStore
	// Model is the generation model name used for cost accounting.
	Model string
}

// New builds an App. Previews default to the stager's local disk.
func New(opts Options) *App {
	previews := opts.Previews
	if previews == nil {
		previews = opts.Stager
	}
	model := opts.Model
	if model == "" {
		model = ai.DefaultModel
	}
	return &App{
		store:    opts.Store,
		search:   opts.Search,
		stager:   opts.Stager,
		previews: previews,
		model:    model,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    util.NewID,
	}
}
