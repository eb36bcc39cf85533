package app

import (
	"context"
	"errors"
	"testing"

	"docchat/pkg/domain"
	"docchat/pkg/store"
)

func TestCreateLibraryDefaultsAndUniqueness(t *testing.T) {
	a, mem, _ := newTestApp(t)
	seedUser(t, mem, "u1")

	lib, err := a.CreateLibrary("u1", LibraryInput{Name: "  Research  "})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if lib.Name != "Research" {
		t.Fatalf("name=%q", lib.Name)
	}
	if lib.Icon != domain.DefaultLibraryIcon || lib.Color != domain.DefaultLibraryColor {
		t.Fatalf("defaults not applied: %+v", lib)
	}

	if _, err := a.CreateLibrary("u1", LibraryInput{Name: "Research"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("duplicate name err=%v", err)
	}
	// Another user can reuse the name.
	seedUser(t, mem, "u2")
	if _, err := a.CreateLibrary("u2", LibraryInput{Name: "Research"}); err != nil {
		t.Fatalf("cross-user name: %v", err)
	}

	if _, err := a.CreateLibrary("u1", LibraryInput{Name: "   "}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank name err=%v", err)
	}
}

func TestUpdateLibraryOwnership(t *testing.T) {
	a, mem, _ := newTestApp(t)
	seedUser(t, mem, "u1")
	seedUser(t, mem, "u2")
	lib, _ := a.CreateLibrary("u1", LibraryInput{Name: "Mine"})

	if _, err := a.UpdateLibrary("u2", lib.ID, LibraryInput{Name: "Stolen"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err=%v, want ErrForbidden", err)
	}
	updated, err := a.UpdateLibrary("u1", lib.ID, LibraryInput{Name: "Renamed", Color: "text-red-500"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "Renamed" || updated.Color != "text-red-500" {
		t.Fatalf("updated=%+v", updated)
	}
}

func TestListLibrariesIncludesStats(t *testing.T) {
	a, mem, _ := newTestApp(t)
	seedUser(t, mem, "u1")
	lib, _ := a.CreateLibrary("u1", LibraryInput{Name: "Docs"})
	req := uploadReq("u1", "some document text")
	req.LibraryID = lib.ID
	if _, err := a.UploadFile(context.Background(), req); err != nil {
		t.Fatalf("upload: %v", err)
	}

	views, err := a.ListLibraries("u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("libraries=%d", len(views))
	}
	if views[0].FileCount != 1 || views[0].SizeBytes != 18 {
		t.Fatalf("stats=%+v", views[0])
	}
}

func TestDeleteLibraryCascades(t *testing.T) {
	a, mem, search := newTestApp(t)
	seedUser(t, mem, "u1")
	lib, _ := a.CreateLibrary("u1", LibraryInput{Name: "Doomed"})
	req := uploadReq("u1", "cascade target")
	req.LibraryID = lib.ID
	file, err := a.UploadFile(context.Background(), req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	mem.SaveMessage(domain.Message{ID: "m1", UserID: "u1", LibraryID: lib.ID, Scope: domain.ScopeLibrary})

	if err := a.DeleteLibrary(context.Background(), "u1", lib.ID); err != nil {
		t.Fatalf("delete library: %v", err)
	}
	if _, found, _ := mem.GetLibrary(lib.ID); found {
		t.Fatalf("library record survived")
	}
	if _, found, _ := mem.GetFile(file.ID); found {
		t.Fatalf("file record survived")
	}
	msgs, _ := mem.ListMessages(store.MessageQuery{UserID: "u1", LibraryID: lib.ID})
	if len(msgs) != 0 {
		t.Fatalf("library history survived")
	}
	if search.deleteFileCalls == 0 {
		t.Fatalf("remote file was never deleted")
	}
	// Counters were decremented back to zero.
	st, _, _ := mem.GetStoreByUser("u1")
	if st.SizeBytes != 0 || st.FileCount != 0 {
		t.Fatalf("counters size=%d count=%d", st.SizeBytes, st.FileCount)
	}
}

func TestDeleteLibraryForeignForbidden(t *testing.T) {
	a, mem, _ := newTestApp(t)
	seedUser(t, mem, "u1")
	seedUser(t, mem, "u2")
	lib, _ := a.CreateLibrary("u1", LibraryInput{Name: "Mine"})
	if err := a.DeleteLibrary(context.Background(), "u2", lib.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err=%v, want ErrForbidden", err)
	}
}
