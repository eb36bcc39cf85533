package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"docchat/pkg/ai"
	"docchat/pkg/domain"
	"docchat/pkg/pricing"
	"docchat/pkg/store"
)

// storeSyncInterval bounds how often the local counters get reconciled
// against remote store metadata.
const storeSyncInterval = 10 * time.Minute

// ListFiles returns the user's files, optionally narrowed to one library.
func (a *App) ListFiles(userID, libraryID string) ([]domain.File, error) {
	if libraryID != "" {
		if _, err := a.ownedLibrary(userID, libraryID); err != nil {
			return nil, err
		}
		return a.store.ListFilesByLibrary(libraryID)
	}
	return a.store.ListFilesByUser(userID)
}

// GetFile returns one owned file.
func (a *App) GetFile(userID, fileID string) (domain.File, error) {
	return a.ownedFile(userID, fileID)
}

// CheckDuplicate reports whether identical bytes already exist in the given
// library, so clients can skip an upload before sending any bytes. An empty
// library means the default one; a missing default means no duplicate.
func (a *App) CheckDuplicate(userID, libraryID, hash string) (domain.File, bool, error) {
	if hash == "" {
		return domain.File{}, false, fmt.Errorf("%w: content hash required", ErrInvalidInput)
	}
	if libraryID == "" {
		library, found, err := a.store.GetLibraryByName(userID, domain.DefaultLibraryName)
		if err != nil {
			return domain.File{}, false, fmt.Errorf("load default library: %w", err)
		}
		if !found {
			return domain.File{}, false, nil
		}
		libraryID = library.ID
	} else if _, err := a.ownedLibrary(userID, libraryID); err != nil {
		return domain.File{}, false, err
	}
	dup, found, err := a.store.FindDuplicate(userID, libraryID, hash)
	if err != nil {
		return domain.File{}, false, fmt.Errorf("duplicate check: %w", err)
	}
	return dup, found, nil
}

// OpenFileContent streams the stored preview copy of a file.
func (a *App) OpenFileContent(ctx context.Context, userID, fileID string) (domain.File, io.ReadCloser, int64, error) {
	file, err := a.ownedFile(userID, fileID)
	if err != nil {
		return domain.File{}, nil, 0, err
	}
	if file.LocalPath == "" {
		return domain.File{}, nil, 0, ErrNotFound
	}
	rc, size, err := a.previews.Open(ctx, file.LocalPath)
	if err != nil {
		return domain.File{}, nil, 0, fmt.Errorf("open preview: %w", err)
	}
	return file, rc, size, nil
}

// DeleteSummary reports what a file deletion managed to remove. Remote
// cleanup is best-effort; the local record always goes.
type DeleteSummary struct {
	FileID          string `json:"fileId"`
	DocumentRemoved bool   `json:"documentRemoved"`
	RemoteRemoved   bool   `json:"remoteRemoved"`
	PreviewRemoved  bool   `json:"previewRemoved"`
}

// Describe renders the summary for logs and API responses.
func (s DeleteSummary) Describe() string {
	return fmt.Sprintf("document removed: %t, remote file removed: %t, preview removed: %t",
		s.DocumentRemoved, s.RemoteRemoved, s.PreviewRemoved)
}

// DeleteFile cascades a single file: store document, staged remote file,
// preview copy, chat history, counters, record.
func (a *App) DeleteFile(ctx context.Context, userID, fileID string) (DeleteSummary, error) {
	file, err := a.ownedFile(userID, fileID)
	if err != nil {
		return DeleteSummary{}, err
	}
	summary := DeleteSummary{FileID: file.ID}

	if file.RemoteFileName != "" {
		if userStore, found, err := a.store.GetStoreByUser(userID); err == nil && found {
			removed, err := a.search.DeleteDocument(ctx, userStore.RemoteName, file.RemoteFileName)
			if err != nil {
				slog.Warn("store document cleanup failed", "file_id", file.ID, "err", err)
			}
			summary.DocumentRemoved = removed
		}
		removed, err := a.search.DeleteFile(ctx, file.RemoteFileName)
		if err != nil {
			slog.Warn("remote file cleanup failed", "file_id", file.ID, "err", err)
		}
		summary.RemoteRemoved = removed
	}
	if file.LocalPath != "" {
		if err := a.previews.Delete(ctx, file.LocalPath); err != nil {
			slog.Warn("preview cleanup failed", "file_id", file.ID, "err", err)
		} else {
			summary.PreviewRemoved = true
		}
	}
	if _, err := a.store.DeleteMessages(store.MessageQuery{UserID: userID, FileID: file.ID}); err != nil {
		slog.Warn("file history cleanup failed", "file_id", file.ID, "err", err)
	}
	if userStore, found, err := a.store.GetStoreByUser(userID); err == nil && found {
		if err := a.store.AddStoreUsage(userStore.ID, -file.SizeBytes, -1); err != nil {
			slog.Warn("store counter update failed", "store_id", userStore.ID, "err", err)
		}
	}
	if err := a.store.DeleteFile(file.ID); err != nil {
		return summary, fmt.Errorf("delete file record: %w", err)
	}
	slog.Info("file deleted", "file_id", file.ID, "user_id", userID, "summary", summary.Describe())
	return summary, nil
}

// CheckFileStatus reconciles a file stuck in INGESTING with its vendor
// operation: completed operations promote the file, failed ones mark it
// FAILED, pending ones leave it alone.
func (a *App) CheckFileStatus(ctx context.Context, userID, fileID string) (domain.File, error) {
	file, err := a.ownedFile(userID, fileID)
	if err != nil {
		return domain.File{}, err
	}
	if file.Status != domain.StatusIngesting || file.OperationName == "" {
		return file, nil
	}
	op, err := a.search.GetOperation(ctx, file.OperationName)
	if err != nil {
		return file, fmt.Errorf("poll operation: %w", translateVendorError(err))
	}
	if !op.Done {
		return file, nil
	}
	if op.Error != nil {
		if err := a.store.SetFileStatus(file.ID, domain.StatusFailed); err != nil {
			return file, fmt.Errorf("mark failed: %w", err)
		}
		file.Status = domain.StatusFailed
		slog.Warn("ingestion failed", "file_id", file.ID, "reason", op.Error.Message)
		return file, nil
	}
	file.IndexingTokens = op.TotalTokens()
	file.IndexingCost = pricing.IndexingCost(file.IndexingTokens)
	file.Status = domain.StatusActive
	file.UpdatedAt = a.now()
	if err := a.store.SaveFile(file); err != nil {
		return file, fmt.Errorf("save file record: %w", err)
	}
	a.logIndexingUsage(userID, file)
	slog.Info("ingestion reconciled", "file_id", file.ID, "tokens", file.IndexingTokens)
	return file, nil
}

// RecoverFileStatus is the explicit escape hatch out of a terminal status,
// for support tooling. It re-queues a FAILED file as INGESTING.
func (a *App) RecoverFileStatus(userID, fileID string) (domain.File, error) {
	file, err := a.ownedFile(userID, fileID)
	if err != nil {
		return domain.File{}, err
	}
	if file.Status != domain.StatusFailed {
		return domain.File{}, fmt.Errorf("%w: only failed files can be recovered", ErrInvalidInput)
	}
	if err := a.store.RecoverFile(file.ID, domain.StatusIngesting); err != nil {
		return domain.File{}, fmt.Errorf("recover file: %w", err)
	}
	file.Status = domain.StatusIngesting
	slog.Info("file recovered", "file_id", file.ID, "user_id", userID)
	return file, nil
}

// RemoteFileInfo fetches the vendor's view of a staged file, for debugging
// ingestion issues.
func (a *App) RemoteFileInfo(ctx context.Context, userID, fileID string) (*ai.FileMetadata, error) {
	file, err := a.ownedFile(userID, fileID)
	if err != nil {
		return nil, err
	}
	if file.RemoteFileName == "" {
		return nil, ErrNotFound
	}
	meta, err := a.search.GetFile(ctx, file.RemoteFileName)
	if err != nil {
		return nil, translateVendorError(err)
	}
	return meta, nil
}

// StoreStatus returns the user's store, resyncing counters from remote
// metadata when the local view is older than the sync interval.
func (a *App) StoreStatus(ctx context.Context, userID string) (domain.Store, error) {
	userStore, found, err := a.store.GetStoreByUser(userID)
	if err != nil {
		return domain.Store{}, fmt.Errorf("load store: %w", err)
	}
	if !found {
		return domain.Store{}, ErrNoStore
	}
	if a.now().Sub(userStore.LastSyncedAt) < storeSyncInterval {
		return userStore, nil
	}
	meta, err := a.search.GetStoreMetadata(ctx, userStore.RemoteName)
	if err != nil {
		translated := translateVendorError(err)
		if translated == ErrStoreExpired || translated == ErrStoreNotFound {
			return domain.Store{}, translated
		}
		// Transient remote trouble: serve the stale local view.
		slog.Warn("store resync failed", "store_id", userStore.ID, "err", err)
		return userStore, nil
	}
	userStore.FileCount = meta.FileCount()
	if size, err := meta.SizeBytes.Int64(); err == nil && size > 0 {
		userStore.SizeBytes = size
	}
	userStore.LastSyncedAt = a.now()
	userStore.UpdatedAt = userStore.LastSyncedAt
	if err := a.store.SaveStore(userStore); err != nil {
		return domain.Store{}, fmt.Errorf("save store record: %w", err)
	}
	return userStore, nil
}

// UserStats aggregates the account view: files, storage, and quota.
type UserStats struct {
	TotalFiles    int         `json:"totalFiles"`
	ActiveFiles   int         `json:"activeFiles"`
	TotalBytes    int64       `json:"totalBytes"`
	StoreBytes    int64       `json:"storeBytes"`
	MaxStoreBytes int64       `json:"maxStoreBytes"`
	Tier          domain.Tier `json:"tier"`
	Libraries     int         `json:"libraries"`
}

// Stats computes the account dashboard numbers.
func (a *App) Stats(userID string) (UserStats, error) {
	user, found, err := a.store.GetUserByID(userID)
	if err != nil {
		return UserStats{}, fmt.Errorf("load user: %w", err)
	}
	if !found {
		return UserStats{}, ErrNotFound
	}
	stats := UserStats{
		Tier:          user.Tier,
		MaxStoreBytes: user.Tier.Limits().MaxStoreBytes,
	}
	files, err := a.store.ListFilesByUser(userID)
	if err != nil {
		return UserStats{}, fmt.Errorf("list files: %w", err)
	}
	for _, f := range files {
		stats.TotalFiles++
		stats.TotalBytes += f.SizeBytes
		if f.Status == domain.StatusActive {
			stats.ActiveFiles++
		}
	}
	libraries, err := a.store.ListLibraries(userID)
	if err != nil {
		return UserStats{}, fmt.Errorf("list libraries: %w", err)
	}
	stats.Libraries = len(libraries)
	if userStore, found, err := a.store.GetStoreByUser(userID); err == nil && found {
		stats.StoreBytes = userStore.SizeBytes
	}
	return stats, nil
}

func (a *App) ownedFile(userID, fileID string) (domain.File, error) {
	file, found, err := a.store.GetFile(fileID)
	if err != nil {
		return domain.File{}, fmt.Errorf("load file: %w", err)
	}
	if !found {
		return domain.File{}, ErrNotFound
	}
	if file.UserID != userID {
		return domain.File{}, ErrForbidden
	}
	return file, nil
}
