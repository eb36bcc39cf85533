package app

import "errors"

// Sentinel errors the HTTP layer maps onto status codes and client-facing
// error codes.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrForbidden    = errors.New("resource belongs to another user")
	ErrInvalidInput = errors.New("invalid input")

	// ingestion
	ErrDuplicateFile = errors.New("an identical file already exists in this library")
	ErrFileTooLarge  = errors.New("file exceeds the maximum allowed size")
	ErrStorageQuota  = errors.New("storage quota exceeded for current tier")

	// chat
	ErrNoStore       = errors.New("no document store exists yet, upload a file first")
	ErrInvalidStore  = errors.New("document store record is missing or corrupted")
	ErrStoreExpired  = errors.New("the document store has expired, re-upload your files")
	ErrStoreNotFound = errors.New("the document store no longer exists remotely")
	ErrQuotaExceeded = errors.New("provider quota exceeded, try again later")
)
