// Package store persists users, stores, libraries, files, chat history,
// and the usage ledger. Two implementations exist: GormStore on Postgres
// and MemoryStore for tests.
package store

import (
	"errors"
	"time"

	"docchat/pkg/domain"
)

// ErrTerminalStatus is returned when a status update would move a file out
// of a terminal state. Terminal states only change through RecoverFile.
var ErrTerminalStatus = errors.New("file is in a terminal status")

// MessageQuery selects a slice of chat history. UserID is mandatory; the
// scope fields narrow the conversation. Before/After are exclusive cursor
// bounds for pagination; From/To are inclusive endpoints for date ranges.
type MessageQuery struct {
	UserID    string
	Scope     domain.ChatScope
	FileID    string
	LibraryID string
	Before    *time.Time
	After     *time.Time
	From      *time.Time
	To        *time.Time
	Limit     int
	Ascending bool
}

// Store defines persistence operations for the document-chat service.
type Store interface {
	// users
	SaveUser(domain.User) error
	GetUserByID(id string) (domain.User, bool, error)
	GetUserByOAuthSubject(subject string) (domain.User, bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	ListUsers() ([]domain.User, error)

	// stores
	SaveStore(domain.Store) error
	GetStore(id string) (domain.Store, bool, error)
	GetStoreByUser(userID string) (domain.Store, bool, error)
	// AddStoreUsage adjusts the local size/count counters by the given
	// deltas, clamping both at zero.
	AddStoreUsage(id string, deltaBytes int64, deltaFiles int) error
	DeleteStore(id string) error

	// libraries
	SaveLibrary(domain.Library) error
	GetLibrary(id string) (domain.Library, bool, error)
	GetLibraryByName(userID, name string) (domain.Library, bool, error)
	ListLibraries(userID string) ([]domain.Library, error)
	DeleteLibrary(id string) error

	// files
	SaveFile(domain.File) error
	GetFile(id string) (domain.File, bool, error)
	ListFilesByUser(userID string) ([]domain.File, error)
	ListFilesByLibrary(libraryID string) ([]domain.File, error)
	// FindDuplicate looks for a non-failed file with the same content hash
	// in the same library.
	FindDuplicate(userID, libraryID, contentHash string) (domain.File, bool, error)
	// SetFileStatus moves a file along the pipeline. Transitions out of a
	// terminal status return ErrTerminalStatus.
	SetFileStatus(id string, status domain.FileStatus) error
	// RecoverFile force-sets a status, bypassing the terminal guard.
	RecoverFile(id string, status domain.FileStatus) error
	DeleteFile(id string) error

	// messages
	SaveMessage(domain.Message) error
	ListMessages(q MessageQuery) ([]domain.Message, error)
	DeleteMessages(q MessageQuery) (int64, error)

	// usage ledger
	SaveUsageLog(domain.UsageLog) error
	ListUsageLogs(userID string, limit int) ([]domain.UsageLog, error)
	UsageTotals(userID string) (domain.UsageTotals, error)

	// PurgeUser removes every record owned by the user except the user row
	// itself.
	PurgeUser(userID string) error
}
