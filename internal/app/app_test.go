package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"docchat/pkg/ai"
	"docchat/pkg/domain"
	"docchat/pkg/storage"
	"docchat/pkg/store"
)

// fakeSearch implements SearchClient in-process and counts remote calls so
// tests can assert which vendor operations actually happened.
type fakeSearch struct {
	mu sync.Mutex

	createStoreCalls int
	uploadCalls      int
	importCalls      int
	deleteFileCalls  int
	deleteStoreCalls int
	searchCalls      int

	importErrOnce error
	uploadErr     error
	searchErr     error
	searchResult  *ai.SearchResult
	opTokens      int64
	opErr         *string
	opDone        bool
	storeMeta     *ai.StoreMetadata

	lastImportStore  string
	lastDeletedStore string
	lastScope        ai.SearchScope
	lastInstruction  string
}

func newFakeSearch() *fakeSearch {
	return &fakeSearch{opDone: true, opTokens: 1_000_000}
}

func (f *fakeSearch) CreateStore(_ context.Context, displayName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createStoreCalls++
	return fmt.Sprintf("fileSearchStores/store-%d", f.createStoreCalls), nil
}

func (f *fakeSearch) GetStoreMetadata(context.Context, string) (*ai.StoreMetadata, error) {
	if f.storeMeta == nil {
		return &ai.StoreMetadata{}, nil
	}
	return f.storeMeta, nil
}

func (f *fakeSearch) UploadFile(_ context.Context, _, displayName, _ string) (*ai.UploadedFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadCalls++
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	return &ai.UploadedFile{
		Name: fmt.Sprintf("files/remote-%d", f.uploadCalls),
		URI:  "https://example.com/" + displayName,
	}, nil
}

func (f *fakeSearch) ImportFile(_ context.Context, storeName, _ string, _ ai.ImportMetadata) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.importCalls++
	f.lastImportStore = storeName
	if f.importErrOnce != nil {
		err := f.importErrOnce
		f.importErrOnce = nil
		return "", err
	}
	return fmt.Sprintf("operations/op-%d", f.importCalls), nil
}

func (f *fakeSearch) operation(name string) *ai.Operation {
	raw := fmt.Sprintf(`{"name":%q,"done":%t,"metadata":{"totalTokens":"%d"}}`,
		name, f.opDone, f.opTokens)
	if f.opErr != nil {
		raw = fmt.Sprintf(`{"name":%q,"done":true,"error":{"code":13,"message":%q}}`, name, *f.opErr)
	}
	var op ai.Operation
	if err := json.Unmarshal([]byte(raw), &op); err != nil {
		panic(err)
	}
	return &op
}

func (f *fakeSearch) WaitForOperation(_ context.Context, name string) (*ai.Operation, error) {
	if f.opErr != nil {
		return nil, fmt.Errorf("operation failed: %s", *f.opErr)
	}
	return f.operation(name), nil
}

func (f *fakeSearch) GetOperation(_ context.Context, name string) (*ai.Operation, error) {
	return f.operation(name), nil
}

func (f *fakeSearch) Search(_ context.Context, _, _, instruction string, scope ai.SearchScope) (*ai.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	f.lastScope = scope
	f.lastInstruction = instruction
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if f.searchResult != nil {
		return f.searchResult, nil
	}
	return &ai.SearchResult{
		Text:  "grounded answer",
		Model: ai.DefaultModel,
		Usage: ai.UsageMetadata{PromptTokenCount: 1000, CandidatesTokenCount: 200, TotalTokenCount: 1200},
	}, nil
}

func (f *fakeSearch) DeleteFile(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteFileCalls++
	return true, nil
}

func (f *fakeSearch) GetFile(context.Context, string) (*ai.FileMetadata, error) {
	return &ai.FileMetadata{Name: "files/remote-1", State: "ACTIVE"}, nil
}

func (f *fakeSearch) DeleteDocument(context.Context, string, string) (bool, error) {
	return true, nil
}

func (f *fakeSearch) DeleteStore(_ context.Context, storeName string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteStoreCalls++
	f.lastDeletedStore = storeName
	return true, nil
}

func (f *fakeSearch) PurgeAll(context.Context) error { return nil }

func newTestApp(t *testing.T) (*App, *store.MemoryStore, *fakeSearch) {
	t.Helper()
	mem := store.NewMemoryStore()
	stager, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	search := newFakeSearch()
	a := New(Options{Store: mem, Search: search, Stager: stager})
	var seq int
	a.newID = func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	return a, mem, search
}

func seedUser(t *testing.T, mem *store.MemoryStore, id string) domain.User {
	t.Helper()
	user := domain.User{
		ID:       id,
		Email:    id + "@example.com",
		Tier:     domain.DefaultTier,
		Settings: domain.DefaultChatSettings(),
	}
	if err := mem.SaveUser(user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}
