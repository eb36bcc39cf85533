package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"docchat/pkg/ai"
	"docchat/pkg/domain"
	"docchat/pkg/pricing"
	"docchat/pkg/storage"
)

// UploadRequest describes an incoming document.
type UploadRequest struct {
	UserID    string
	LibraryID string // empty means the default library
	Filename  string
	MimeType  string
	Body      io.Reader
}

// UploadFile runs the full ingestion pipeline: stage, dedupe, quota check,
// remote upload, import, poll, bill, preview. On any failure after the file
// record exists, the orphan record and the staged bytes are cleaned up.
func (a *App) UploadFile(ctx context.Context, req UploadRequest) (domain.File, error) {
	user, found, err := a.store.GetUserByID(req.UserID)
	if err != nil {
		return domain.File{}, fmt.Errorf("load user: %w", err)
	}
	if !found {
		return domain.File{}, ErrNotFound
	}
	if strings.TrimSpace(req.Filename) == "" {
		return domain.File{}, fmt.Errorf("%w: filename required", ErrInvalidInput)
	}

	staged, err := a.stager.Stage(req.Body)
	if err != nil {
		return domain.File{}, fmt.Errorf("stage upload: %w", err)
	}
	defer a.stager.Discard(staged)

	limits := user.Tier.Limits()
	if staged.SizeBytes > limits.MaxFileBytes {
		return domain.File{}, ErrFileTooLarge
	}

	library, err := a.resolveLibrary(user.ID, req.LibraryID)
	if err != nil {
		return domain.File{}, err
	}

	// Duplicate detection happens before any remote call so a re-upload of
	// the same bytes costs nothing.
	if dup, found, err := a.store.FindDuplicate(user.ID, library.ID, staged.SHA256); err != nil {
		return domain.File{}, fmt.Errorf("duplicate check: %w", err)
	} else if found {
		slog.Info("duplicate upload rejected", "user_id", user.ID, "existing_file_id", dup.ID)
		return domain.File{}, ErrDuplicateFile
	}

	userStore, err := a.ensureUserStore(ctx, &user)
	if err != nil {
		return domain.File{}, err
	}
	if userStore.SizeBytes+staged.SizeBytes > limits.MaxStoreBytes {
		return domain.File{}, ErrStorageQuota
	}

	now := a.now()
	file := domain.File{
		ID:          a.newID(),
		UserID:      user.ID,
		LibraryID:   library.ID,
		DisplayName: req.Filename,
		MimeType:    req.MimeType,
		SizeBytes:   staged.SizeBytes,
		Status:      domain.StatusUploading,
		ContentHash: staged.SHA256,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.SaveFile(file); err != nil {
		return domain.File{}, fmt.Errorf("save file record: %w", err)
	}

	fail := func(cause error) (domain.File, error) {
		a.cleanupFailedUpload(ctx, file)
		return domain.File{}, cause
	}

	uploaded, err := a.search.UploadFile(ctx, staged.Path, req.Filename, req.MimeType)
	if err != nil {
		return fail(fmt.Errorf("remote upload: %w", translateVendorError(err)))
	}
	file.RemoteFileName = uploaded.Name
	file.RemoteURI = uploaded.URI
	if err := a.store.SaveFile(file); err != nil {
		return fail(fmt.Errorf("save file record: %w", err))
	}

	opName, _, err := a.importWithRetry(ctx, &user, userStore.RemoteName, uploaded.Name, ai.ImportMetadata{
		LibraryID: library.ID,
		FileID:    file.ID,
	})
	if err != nil {
		return fail(fmt.Errorf("import file: %w", translateVendorError(err)))
	}
	file.OperationName = opName
	file.Status = domain.StatusIngesting
	if err := a.store.SaveFile(file); err != nil {
		return fail(fmt.Errorf("save file record: %w", err))
	}

	// Polling is best-effort: a poll hiccup must not strand a file the
	// vendor will finish indexing anyway. CheckFileStatus reconciles later.
	if op, err := a.search.WaitForOperation(ctx, opName); err != nil {
		slog.Warn("ingestion poll failed, leaving file ingesting", "file_id", file.ID, "err", err)
	} else {
		file.IndexingTokens = op.TotalTokens()
		file.IndexingCost = pricing.IndexingCost(file.IndexingTokens)
		file.Status = domain.StatusActive
		a.logIndexingUsage(user.ID, file)
	}

	a.savePreview(ctx, &file, staged)

	if err := a.store.SaveFile(file); err != nil {
		return fail(fmt.Errorf("save file record: %w", err))
	}
	if err := a.store.AddStoreUsage(userStore.ID, file.SizeBytes, 1); err != nil {
		slog.Warn("store counter update failed", "store_id", userStore.ID, "err", err)
	}

	slog.Info("file ingested", "file_id", file.ID, "user_id", user.ID,
		"size_bytes", file.SizeBytes, "status", file.Status)
	return file, nil
}

// resolveLibrary validates an explicit library or falls back to the user's
// default one, creating it on first use.
func (a *App) resolveLibrary(userID, libraryID string) (domain.Library, error) {
	if libraryID != "" {
		library, found, err := a.store.GetLibrary(libraryID)
		if err != nil {
			return domain.Library{}, fmt.Errorf("load library: %w", err)
		}
		if !found {
			return domain.Library{}, ErrNotFound
		}
		if library.UserID != userID {
			return domain.Library{}, ErrForbidden
		}
		return library, nil
	}
	return a.ensureDefaultLibrary(userID)
}

// ensureUserStore returns the user's store record, creating the remote
// store and local record on first upload, and recovering a dangling
// reference when the record went missing.
func (a *App) ensureUserStore(ctx context.Context, user *domain.User) (domain.Store, error) {
	if user.PrimaryStoreID != "" {
		st, found, err := a.store.GetStore(user.PrimaryStoreID)
		if err != nil {
			return domain.Store{}, fmt.Errorf("load store: %w", err)
		}
		if found {
			return st, nil
		}
		slog.Warn("dangling store reference, creating a fresh store",
			"user_id", user.ID, "store_id", user.PrimaryStoreID)
	}
	return a.createUserStore(ctx, user)
}

func (a *App) createUserStore(ctx context.Context, user *domain.User) (domain.Store, error) {
	remoteName, err := a.search.CreateStore(ctx, "docchat-"+user.ID)
	if err != nil {
		return domain.Store{}, fmt.Errorf("create remote store: %w", translateVendorError(err))
	}
	now := a.now()
	st := domain.Store{
		ID:          a.newID(),
		UserID:      user.ID,
		RemoteName:  remoteName,
		DisplayName: "docchat-" + user.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.SaveStore(st); err != nil {
		return domain.Store{}, fmt.Errorf("save store record: %w", err)
	}
	user.PrimaryStoreID = st.ID
	user.UpdatedAt = now
	if err := a.store.SaveUser(*user); err != nil {
		return domain.Store{}, fmt.Errorf("bind store to user: %w", err)
	}
	slog.Info("created store", "user_id", user.ID, "store_id", st.ID, "remote", remoteName)
	return st, nil
}

// importWithRetry imports the uploaded file, recreating the store once if
// the vendor reports it gone (retention expiry). The new store name is
// persisted before the retry.
func (a *App) importWithRetry(ctx context.Context, user *domain.User, storeName, fileName string, meta ai.ImportMetadata) (opName, usedStore string, err error) {
	opName, err = a.search.ImportFile(ctx, storeName, fileName, meta)
	if err == nil {
		return opName, storeName, nil
	}
	switch ai.Classify(err) {
	case ai.KindStoreExpired, ai.KindStoreNotFound:
	default:
		return "", "", err
	}

	slog.Warn("store gone during import, recreating", "user_id", user.ID, "store", storeName, "err", err)
	remoteName, cerr := a.search.CreateStore(ctx, "docchat-"+user.ID)
	if cerr != nil {
		return "", "", fmt.Errorf("recreate store: %w", cerr)
	}
	st, found, gerr := a.store.GetStoreByUser(user.ID)
	if gerr != nil || !found {
		return "", "", fmt.Errorf("load store for recreate: %w", gerr)
	}
	st.RemoteName = remoteName
	st.SizeBytes = 0
	st.FileCount = 0
	st.UpdatedAt = a.now()
	if serr := a.store.SaveStore(st); serr != nil {
		return "", "", fmt.Errorf("persist recreated store: %w", serr)
	}

	opName, err = a.search.ImportFile(ctx, remoteName, fileName, meta)
	if err != nil {
		return "", "", err
	}
	return opName, remoteName, nil
}

// savePreview copies the staged bytes for later rendering and probes PDFs
// for a page count. Both are best-effort.
func (a *App) savePreview(ctx context.Context, file *domain.File, staged *storage.StagedUpload) {
	key := storage.PreviewKey(file.UserID, file.ID, file.DisplayName)
	f, err := os.Open(staged.Path)
	if err != nil {
		slog.Warn("preview copy failed", "file_id", file.ID, "err", err)
		return
	}
	defer f.Close()
	if err := a.previews.Save(ctx, key, f, staged.SizeBytes, file.MimeType); err != nil {
		slog.Warn("preview copy failed", "file_id", file.ID, "err", err)
		return
	}
	file.LocalPath = key
	if strings.EqualFold(file.MimeType, "application/pdf") ||
		strings.HasSuffix(strings.ToLower(file.DisplayName), ".pdf") {
		file.PageCount = storage.PDFPageCount(staged.Path)
	}
}

// cleanupFailedUpload rolls back after a mid-pipeline failure: the record
// goes away and remote leftovers are deleted best-effort.
func (a *App) cleanupFailedUpload(ctx context.Context, file domain.File) {
	if file.RemoteFileName != "" {
		if _, err := a.search.DeleteFile(ctx, file.RemoteFileName); err != nil {
			slog.Warn("orphan remote file cleanup failed", "file_id", file.ID, "err", err)
		}
	}
	if err := a.store.DeleteFile(file.ID); err != nil {
		slog.Warn("orphan record cleanup failed", "file_id", file.ID, "err", err)
	}
}

func (a *App) logIndexingUsage(userID string, file domain.File) {
	log := domain.UsageLog{
		ID:        a.newID(),
		UserID:    userID,
		Type:      domain.UsageIndexing,
		TotalCost: file.IndexingCost,
		Currency:  "USD",
		ModelName: pricing.EmbeddingModel,
		Tokens:    domain.TokenCounts{Total: file.IndexingTokens},
		Details:   domain.UsageDetails{TokenCost: file.IndexingCost},
		Meta: domain.UsageMeta{
			OperationName: file.OperationName,
			FileName:      file.DisplayName,
			FileSizeBytes: file.SizeBytes,
		},
		ContextID: file.ID,
		CreatedAt: a.now(),
	}
	if err := a.store.SaveUsageLog(log); err != nil {
		slog.Warn("indexing usage log failed", "file_id", file.ID, "err", err)
	}
}

// translateVendorError maps classified vendor failures onto app sentinels.
func translateVendorError(err error) error {
	switch ai.Classify(err) {
	case ai.KindStoreExpired:
		return ErrStoreExpired
	case ai.KindStoreNotFound:
		return ErrStoreNotFound
	case ai.KindQuotaExceeded:
		return ErrQuotaExceeded
	}
	return err
}
