package app

import (
	"context"
	"fmt"
	"log/slog"

	"docchat/pkg/domain"
)

// PurgeAccount wipes a user's data everywhere: remote documents and store,
// previews, then local records. The user row survives with reset fields so
// sign-in keeps working.
func (a *App) PurgeAccount(ctx context.Context, userID string) error {
	user, found, err := a.store.GetUserByID(userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if !found {
		return ErrNotFound
	}

	files, err := a.store.ListFilesByUser(userID)
	if err != nil {
		return fmt.Errorf("list files: %w", err)
	}
	for _, file := range files {
		if file.RemoteFileName == "" {
			continue
		}
		if _, err := a.search.DeleteFile(ctx, file.RemoteFileName); err != nil {
			slog.Warn("purge: remote file cleanup failed", "file_id", file.ID, "err", err)
		}
	}
	// The store record is the only place the remote name lives, so the
	// remote store has to go before PurgeUser drops the record.
	if userStore, found, err := a.store.GetStoreByUser(userID); err == nil && found && userStore.RemoteName != "" {
		if _, err := a.search.DeleteStore(ctx, userStore.RemoteName); err != nil {
			slog.Warn("purge: remote store cleanup failed", "store", userStore.RemoteName, "err", err)
		}
	}
	if err := a.previews.DeletePrefix(ctx, userID); err != nil {
		slog.Warn("purge: preview cleanup failed", "user_id", userID, "err", err)
	}
	if err := a.store.PurgeUser(userID); err != nil {
		return fmt.Errorf("purge records: %w", err)
	}

	user.PrimaryStoreID = ""
	user.Settings = domain.DefaultChatSettings()
	user.UpdatedAt = a.now()
	if err := a.store.SaveUser(user); err != nil {
		return fmt.Errorf("reset user: %w", err)
	}
	slog.Info("account purged", "user_id", userID, "files", len(files))
	return nil
}

// PurgeEverything removes all remote stores and staged files owned by this
// API key, then wipes every local account. Operator tooling only.
func (a *App) PurgeEverything(ctx context.Context) error {
	if err := a.search.PurgeAll(ctx); err != nil {
		slog.Warn("remote purge failed", "err", err)
	}
	users, err := a.store.ListUsers()
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	for _, user := range users {
		if err := a.previews.DeletePrefix(ctx, user.ID); err != nil {
			slog.Warn("purge: preview cleanup failed", "user_id", user.ID, "err", err)
		}
		if err := a.store.PurgeUser(user.ID); err != nil {
			return fmt.Errorf("purge user %s: %w", user.ID, err)
		}
		user.PrimaryStoreID = ""
		user.Settings = domain.DefaultChatSettings()
		user.UpdatedAt = a.now()
		if err := a.store.SaveUser(user); err != nil {
			return fmt.Errorf("reset user %s: %w", user.ID, err)
		}
	}
	slog.Warn("all accounts purged", "users", len(users))
	return nil
}
