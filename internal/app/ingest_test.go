package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"docchat/pkg/ai"
	"docchat/pkg/domain"
)

func uploadReq(userID, content string) UploadRequest {
	return UploadRequest{
		UserID:   userID,
		Filename: "doc.txt",
		MimeType: "text/plain",
		Body:     strings.NewReader(content),
	}
}

func TestUploadFileHappyPath(t *testing.T) {
	a, mem, search := newTestApp(t)
	seedUser(t, mem, "u1")

	file, err := a.UploadFile(context.Background(), uploadReq("u1", "hello world"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if file.Status != domain.StatusActive {
		t.Fatalf("status=%s, want ACTIVE", file.Status)
	}
	if file.SizeBytes != 11 || file.ContentHash == "" {
		t.Fatalf("size=%d hash=%q", file.SizeBytes, file.ContentHash)
	}
	if file.IndexingTokens != 1_000_000 {
		t.Fatalf("tokens=%d", file.IndexingTokens)
	}
	// $0.15 per 1M embedding tokens.
	if file.IndexingCost != 0.15 {
		t.Fatalf("cost=%v", file.IndexingCost)
	}
	if file.LocalPath == "" {
		t.Fatalf("preview copy missing")
	}

	// First upload creates the store and binds it to the user.
	user, _, _ := mem.GetUserByID("u1")
	if user.PrimaryStoreID == "" {
		t.Fatalf("store not bound to user")
	}
	st, _, _ := mem.GetStore(user.PrimaryStoreID)
	if st.SizeBytes != 11 || st.FileCount != 1 {
		t.Fatalf("store counters size=%d count=%d", st.SizeBytes, st.FileCount)
	}

	// A default library was created for the uncategorized upload.
	lib, found, _ := mem.GetLibraryByName("u1", domain.DefaultLibraryName)
	if !found || file.LibraryID != lib.ID {
		t.Fatalf("default library not used: %+v", file)
	}

	// Indexing cost landed in the ledger.
	logs, _ := mem.ListUsageLogs("u1", 10)
	if len(logs) != 1 || logs[0].Type != domain.UsageIndexing || logs[0].TotalCost != 0.15 {
		t.Fatalf("usage logs=%+v", logs)
	}

	if search.createStoreCalls != 1 || search.uploadCalls != 1 || search.importCalls != 1 {
		t.Fatalf("vendor calls create=%d upload=%d import=%d",
			search.createStoreCalls, search.uploadCalls, search.importCalls)
	}
}

func TestUploadDuplicateRejectedBeforeRemoteCalls(t *testing.T) {
	a, mem, search := newTestApp(t)
	seedUser(t, mem, "u1")

	if _, err := a.UploadFile(context.Background(), uploadReq("u1", "same bytes")); err != nil {
		t.Fatalf("first upload: %v", err)
	}
	uploadsBefore := search.uploadCalls

	_, err := a.UploadFile(context.Background(), uploadReq("u1", "same bytes"))
	if !errors.Is(err, ErrDuplicateFile) {
		t.Fatalf("err=%v, want ErrDuplicateFile", err)
	}
	if search.uploadCalls != uploadsBefore {
		t.Fatalf("duplicate upload still hit the vendor")
	}

	// The same bytes in a different library are allowed.
	lib, err := a.CreateLibrary("u1", LibraryInput{Name: "Research"})
	if err != nil {
		t.Fatalf("create library: %v", err)
	}
	req := uploadReq("u1", "same bytes")
	req.LibraryID = lib.ID
	if _, err := a.UploadFile(context.Background(), req); err != nil {
		t.Fatalf("cross-library upload: %v", err)
	}
}

func TestUploadQuotaExceeded(t *testing.T) {
	a, mem, _ := newTestApp(t)
	user := seedUser(t, mem, "u1")

	// Fill the store to the tier cap so any upload overflows.
	st := domain.Store{ID: "s1", UserID: "u1", RemoteName: "fileSearchStores/s1",
		SizeBytes: user.Tier.Limits().MaxStoreBytes}
	mem.SaveStore(st)
	user.PrimaryStoreID = "s1"
	mem.SaveUser(user)

	_, err := a.UploadFile(context.Background(), uploadReq("u1", "one more byte"))
	if !errors.Is(err, ErrStorageQuota) {
		t.Fatalf("err=%v, want ErrStorageQuota", err)
	}
	// The rejected upload must not leave a record behind.
	files, _ := mem.ListFilesByUser("u1")
	if len(files) != 0 {
		t.Fatalf("orphan records: %+v", files)
	}
}

func TestUploadImportRetryRecreatesStore(t *testing.T) {
	a, mem, search := newTestApp(t)
	seedUser(t, mem, "u1")

	// Seed an expired upload so the user already has a bound store.
	if _, err := a.UploadFile(context.Background(), uploadReq("u1", "first")); err != nil {
		t.Fatalf("seed upload: %v", err)
	}
	st, _, _ := mem.GetStoreByUser("u1")
	oldRemote := st.RemoteName

	search.importErrOnce = &ai.APIError{StatusCode: 404, Message: "store not found"}
	req := uploadReq("u1", "second")
	if _, err := a.UploadFile(context.Background(), req); err != nil {
		t.Fatalf("upload with expired store: %v", err)
	}

	st, _, _ = mem.GetStoreByUser("u1")
	if st.RemoteName == oldRemote {
		t.Fatalf("store remote name not refreshed after recreate")
	}
	if search.lastImportStore != st.RemoteName {
		t.Fatalf("retry used store %q, persisted %q", search.lastImportStore, st.RemoteName)
	}
	if search.createStoreCalls != 2 {
		t.Fatalf("createStoreCalls=%d, want 2", search.createStoreCalls)
	}
}

func TestUploadRemoteFailureCleansOrphan(t *testing.T) {
	a, mem, search := newTestApp(t)
	seedUser(t, mem, "u1")
	search.uploadErr = errors.New("network down")

	_, err := a.UploadFile(context.Background(), uploadReq("u1", "content"))
	if err == nil {
		t.Fatalf("expected upload error")
	}
	files, _ := mem.ListFilesByUser("u1")
	if len(files) != 0 {
		t.Fatalf("orphan records left: %+v", files)
	}
}

func TestUploadPollFailureLeavesFileIngesting(t *testing.T) {
	a, mem, search := newTestApp(t)
	seedUser(t, mem, "u1")
	msg := "transient poll error"
	search.opErr = &msg

	file, err := a.UploadFile(context.Background(), uploadReq("u1", "content"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if file.Status != domain.StatusIngesting {
		t.Fatalf("status=%s, want INGESTING", file.Status)
	}
	// No indexing charge was recorded for an unconfirmed operation.
	logs, _ := mem.ListUsageLogs("u1", 10)
	if len(logs) != 0 {
		t.Fatalf("unexpected usage logs: %+v", logs)
	}
	// Reconciliation later promotes it.
	search.opErr = nil
	reconciled, err := a.CheckFileStatus(context.Background(), "u1", file.ID)
	if err != nil {
		t.Fatalf("check status: %v", err)
	}
	if reconciled.Status != domain.StatusActive || reconciled.IndexingTokens != 1_000_000 {
		t.Fatalf("reconciled=%+v", reconciled)
	}
}

func TestUploadToForeignLibraryForbidden(t *testing.T) {
	a, mem, _ := newTestApp(t)
	seedUser(t, mem, "u1")
	seedUser(t, mem, "u2")
	lib, err := a.CreateLibrary("u2", LibraryInput{Name: "Private"})
	if err != nil {
		t.Fatalf("create library: %v", err)
	}
	req := uploadReq("u1", "content")
	req.LibraryID = lib.ID
	if _, err := a.UploadFile(context.Background(), req); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err=%v, want ErrForbidden", err)
	}
}
