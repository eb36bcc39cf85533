package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"docchat/pkg/domain"
	"docchat/pkg/store"
)

// LibraryInput carries create/update fields for a library.
type LibraryInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Color       string `json:"color"`
}

// LibraryView is a library plus its aggregate file stats.
type LibraryView struct {
	domain.Library
	FileCount int   `json:"fileCount"`
	SizeBytes int64 `json:"sizeBytes"`
}

// CreateLibrary adds a library for the user. Names are unique per user.
func (a *App) CreateLibrary(userID string, input LibraryInput) (domain.Library, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return domain.Library{}, fmt.Errorf("%w: library name required", ErrInvalidInput)
	}
	if len(name) > 120 {
		return domain.Library{}, fmt.Errorf("%w: library name too long", ErrInvalidInput)
	}
	if _, exists, err := a.store.GetLibraryByName(userID, name); err != nil {
		return domain.Library{}, fmt.Errorf("check library name: %w", err)
	} else if exists {
		return domain.Library{}, fmt.Errorf("%w: a library named %q already exists", ErrInvalidInput, name)
	}
	now := a.now()
	library := domain.Library{
		ID:          a.newID(),
		UserID:      userID,
		Name:        name,
		Description: strings.TrimSpace(input.Description),
		Icon:        input.Icon,
		Color:       input.Color,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if library.Icon == "" {
		library.Icon = domain.DefaultLibraryIcon
	}
	if library.Color == "" {
		library.Color = domain.DefaultLibraryColor
	}
	if err := a.store.SaveLibrary(library); err != nil {
		return domain.Library{}, fmt.Errorf("save library: %w", err)
	}
	return library, nil
}

// UpdateLibrary changes name/description/appearance of an owned library.
func (a *App) UpdateLibrary(userID, libraryID string, input LibraryInput) (domain.Library, error) {
	library, err := a.ownedLibrary(userID, libraryID)
	if err != nil {
		return domain.Library{}, err
	}
	if name := strings.TrimSpace(input.Name); name != "" && name != library.Name {
		if _, exists, err := a.store.GetLibraryByName(userID, name); err != nil {
			return domain.Library{}, fmt.Errorf("check library name: %w", err)
		} else if exists {
			return domain.Library{}, fmt.Errorf("%w: a library named %q already exists", ErrInvalidInput, name)
		}
		library.Name = name
	}
	if input.Description != "" {
		library.Description = strings.TrimSpace(input.Description)
	}
	if input.Icon != "" {
		library.Icon = input.Icon
	}
	if input.Color != "" {
		library.Color = input.Color
	}
	library.UpdatedAt = a.now()
	if err := a.store.SaveLibrary(library); err != nil {
		return domain.Library{}, fmt.Errorf("save library: %w", err)
	}
	return library, nil
}

// ListLibraries returns the user's libraries with file stats.
func (a *App) ListLibraries(userID string) ([]LibraryView, error) {
	libraries, err := a.store.ListLibraries(userID)
	if err != nil {
		return nil, fmt.Errorf("list libraries: %w", err)
	}
	views := make([]LibraryView, 0, len(libraries))
	for _, library := range libraries {
		files, err := a.store.ListFilesByLibrary(library.ID)
		if err != nil {
			return nil, fmt.Errorf("list library files: %w", err)
		}
		view := LibraryView{Library: library}
		for _, f := range files {
			view.FileCount++
			view.SizeBytes += f.SizeBytes
		}
		views = append(views, view)
	}
	return views, nil
}

// GetLibrary returns one owned library with stats.
func (a *App) GetLibrary(userID, libraryID string) (LibraryView, error) {
	library, err := a.ownedLibrary(userID, libraryID)
	if err != nil {
		return LibraryView{}, err
	}
	files, err := a.store.ListFilesByLibrary(library.ID)
	if err != nil {
		return LibraryView{}, fmt.Errorf("list library files: %w", err)
	}
	view := LibraryView{Library: library}
	for _, f := range files {
		view.FileCount++
		view.SizeBytes += f.SizeBytes
	}
	return view, nil
}

// DeleteLibrary cascades: every contained file is deleted (remote document,
// staged file, preview, record, counters), then the library's chat history,
// then the library itself. If any file deletion fails the library record
// survives, so retrying is always possible.
func (a *App) DeleteLibrary(ctx context.Context, userID, libraryID string) error {
	library, err := a.ownedLibrary(userID, libraryID)
	if err != nil {
		return err
	}
	files, err := a.store.ListFilesByLibrary(library.ID)
	if err != nil {
		return fmt.Errorf("list library files: %w", err)
	}
	for _, file := range files {
		if _, err := a.DeleteFile(ctx, userID, file.ID); err != nil {
			return fmt.Errorf("delete file %s: %w", file.ID, err)
		}
	}
	if _, err := a.store.DeleteMessages(store.MessageQuery{
		UserID: userID, LibraryID: library.ID,
	}); err != nil {
		slog.Warn("library history cleanup failed", "library_id", library.ID, "err", err)
	}
	if err := a.store.DeleteLibrary(library.ID); err != nil {
		return fmt.Errorf("delete library: %w", err)
	}
	slog.Info("library deleted", "library_id", library.ID, "user_id", userID, "files", len(files))
	return nil
}

// ensureDefaultLibrary returns the user's default library, creating it on
// first use.
func (a *App) ensureDefaultLibrary(userID string) (domain.Library, error) {
	library, found, err := a.store.GetLibraryByName(userID, domain.DefaultLibraryName)
	if err != nil {
		return domain.Library{}, fmt.Errorf("load default library: %w", err)
	}
	if found {
		return library, nil
	}
	now := a.now()
	library = domain.Library{
		ID:          a.newID(),
		UserID:      userID,
		Name:        domain.DefaultLibraryName,
		Description: domain.DefaultLibraryDescription,
		Icon:        domain.DefaultLibraryIcon,
		Color:       domain.DefaultLibraryColor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.SaveLibrary(library); err != nil {
		return domain.Library{}, fmt.Errorf("save default library: %w", err)
	}
	slog.Info("created default library", "user_id", userID, "library_id", library.ID)
	return library, nil
}

func (a *App) ownedLibrary(userID, libraryID string) (domain.Library, error) {
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
