package app

import (
	"context"
	"errors"
	"testing"

	"docchat/pkg/domain"
)

func TestEnsureUserCreatesThenRefreshes(t *testing.T) {
	a, mem, _ := newTestApp(t)

	user, err := a.EnsureUser(OAuthProfile{
		Subject: "google-sub-1", Email: "a@example.com", Name: "Ada", EmailVerified: true,
	})
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if user.Tier != domain.DefaultTier {
		t.Fatalf("tier=%s", user.Tier)
	}
	if user.Settings.DefaultMode != domain.ModeLimited {
		t.Fatalf("settings=%+v", user.Settings)
	}

	// Second sign-in reuses the account and refreshes profile fields.
	again, err := a.EnsureUser(OAuthProfile{
		Subject: "google-sub-1", Email: "a@example.com", Name: "Ada L.", Picture: "https://p",
	})
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if again.ID != user.ID {
		t.Fatalf("new account created on re-login")
	}
	if again.Name != "Ada L." || again.Picture != "https://p" {
		t.Fatalf("profile not refreshed: %+v", again)
	}
	users, _ := mem.ListUsers()
	if len(users) != 1 {
		t.Fatalf("users=%d", len(users))
	}
}

func TestEnsureUserRequiresSubjectAndEmail(t *testing.T) {
	a, _, _ := newTestApp(t)
	if _, err := a.EnsureUser(OAuthProfile{Email: "x@example.com"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing subject err=%v", err)
	}
	if _, err := a.EnsureUser(OAuthProfile{Subject: "sub"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing email err=%v", err)
	}
}

func TestUpdateChatSettingsValidation(t *testing.T) {
	a, mem, _ := newTestApp(t)
	seedUser(t, mem, "u1")

	valid := domain.DefaultChatSettings()
	valid.Limited.Instruction = "Stick to the documents."
	saved, err := a.UpdateChatSettings("u1", valid)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if saved.Limited.Instruction != "Stick to the documents." {
		t.Fatalf("saved=%+v", saved)
	}

	bad := domain.DefaultChatSettings()
	bad.DefaultMode = "creative"
	if _, err := a.UpdateChatSettings("u1", bad); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bad mode err=%v", err)
	}

	bad = domain.DefaultChatSettings()
	bad.Limited.Enabled = false
	bad.Auxiliary.Enabled = false
	if _, err := a.UpdateChatSettings("u1", bad); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("all modes disabled err=%v", err)
	}
}

func TestUpdateProfileName(t *testing.T) {
	a, mem, _ := newTestApp(t)
	seedUser(t, mem, "u1")
	user, err := a.UpdateProfileName("u1", "  New Name  ")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if user.Name != "New Name" {
		t.Fatalf("name=%q", user.Name)
	}
	if _, err := a.UpdateProfileName("u1", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank name err=%v", err)
	}
}

func TestBillingSummary(t *testing.T) {
	a, mem, _ := newTestApp(t)
	seedUser(t, mem, "u1")
	if _, err := a.UploadFile(context.Background(), uploadReq("u1", "billable")); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if _, err := a.SendMessage(context.Background(), ChatRequest{UserID: "u1", Content: "q"}); err != nil {
		t.Fatalf("chat: %v", err)
	}
	summary, err := a.Billing("u1", 10)
	if err != nil {
		t.Fatalf("billing: %v", err)
	}
	if summary.Totals.IndexingCost <= 0 || summary.Totals.ChatCost <= 0 {
		t.Fatalf("totals=%+v", summary.Totals)
	}
	if len(summary.Recent) != 2 {
		t.Fatalf("recent=%d", len(summary.Recent))
	}
}

func TestPurgeAccountResetsButKeepsUser(t *testing.T) {
	a, mem, search := newTestApp(t)
	seedUser(t, mem, "u1")
	if _, err := a.UploadFile(context.Background(), uploadReq("u1", "purge me")); err != nil {
		t.Fatalf("upload: %v", err)
	}
	custom := domain.DefaultChatSettings()
	custom.Limited.Instruction = "custom"
	if _, err := a.UpdateChatSettings("u1", custom); err != nil {
		t.Fatalf("settings: %v", err)
	}
	userStore, found, _ := mem.GetStoreByUser("u1")
	if !found {
		t.Fatalf("fixture has no store")
	}

	if err := a.PurgeAccount(context.Background(), "u1"); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if search.deleteStoreCalls != 1 || search.lastDeletedStore != userStore.RemoteName {
		t.Fatalf("remote store not deleted: calls=%d store=%q", search.deleteStoreCalls, search.lastDeletedStore)
	}
	user, found, _ := mem.GetUserByID("u1")
	if !found {
		t.Fatalf("user row must survive a purge")
	}
	if user.PrimaryStoreID != "" {
		t.Fatalf("store binding not reset")
	}
	if user.Settings.Limited.Instruction != domain.DefaultLimitedInstruction {
		t.Fatalf("settings not reset: %+v", user.Settings)
	}
	files, _ := mem.ListFilesByUser("u1")
	if len(files) != 0 {
		t.Fatalf("files survived purge")
	}
	// A fresh upload after purge rebuilds the store from scratch.
	file, err := a.UploadFile(context.Background(), uploadReq("u1", "fresh start"))
	if err != nil {
		t.Fatalf("post-purge upload: %v", err)
	}
	if file.Status != domain.StatusActive {
		t.Fatalf("post-purge status=%s", file.Status)
	}
}
