package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"docchat/pkg/ai"
	"docchat/pkg/domain"
	"docchat/pkg/store"
)

func seedChatFixture(t *testing.T, a *App, mem *store.MemoryStore) domain.File {
	t.Helper()
	seedUser(t, mem, "u1")
	file, err := a.UploadFile(context.Background(), uploadReq("u1", "chat fixture"))
	if err != nil {
		t.Fatalf("seed upload: %v", err)
	}
	return file
}

func TestSendMessageRequiresStore(t *testing.T) {
	a, mem, _ := newTestApp(t)
	user := seedUser(t, mem, "u1")

	_, err := a.SendMessage(context.Background(), ChatRequest{UserID: "u1", Content: "hi"})
	if !errors.Is(err, ErrNoStore) {
		t.Fatalf("err=%v, want ErrNoStore", err)
	}

	// A bound but missing store record is a different failure.
	user.PrimaryStoreID = "ghost"
	mem.SaveUser(user)
	_, err = a.SendMessage(context.Background(), ChatRequest{UserID: "u1", Content: "hi"})
	if !errors.Is(err, ErrInvalidStore) {
		t.Fatalf("err=%v, want ErrInvalidStore", err)
	}
}

func TestSendMessageFileScope(t *testing.T) {
	a, mem, search := newTestApp(t)
	file := seedChatFixture(t, a, mem)

	res, err := a.SendMessage(context.Background(), ChatRequest{
		UserID: "u1", Scope: domain.ScopeFile, FileID: file.ID, Content: "what is this?",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if search.lastScope.FileID != file.ID || search.lastScope.LibraryID != "" {
		t.Fatalf("scope=%+v", search.lastScope)
	}
	if res.UserMessage.Role != domain.RoleUser || res.AssistantMessage.Role != domain.RoleAssistant {
		t.Fatalf("roles=%s/%s", res.UserMessage.Role, res.AssistantMessage.Role)
	}
	if res.AssistantMessage.Content != "grounded answer" {
		t.Fatalf("content=%q", res.AssistantMessage.Content)
	}
	if res.AssistantMessage.Cost <= 0 {
		t.Fatalf("cost=%v, want > 0", res.AssistantMessage.Cost)
	}
	if res.AssistantMessage.InputTokens != 1000 || res.AssistantMessage.OutputTokens != 200 {
		t.Fatalf("tokens=%d/%d", res.AssistantMessage.InputTokens, res.AssistantMessage.OutputTokens)
	}

	// Chat cost was logged with a single billed search.
	logs, _ := mem.ListUsageLogs("u1", 10)
	var chatLog *domain.UsageLog
	for i := range logs {
		if logs[i].Type == domain.UsageChat {
			chatLog = &logs[i]
		}
	}
	if chatLog == nil || chatLog.Meta.SearchCount != 1 {
		t.Fatalf("chat usage log=%+v", chatLog)
	}
}

func TestSendMessageGlobalScopeHasNoFilter(t *testing.T) {
	a, mem, search := newTestApp(t)
	seedChatFixture(t, a, mem)

	if _, err := a.SendMessage(context.Background(), ChatRequest{UserID: "u1", Content: "anything"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if search.lastScope != (ai.SearchScope{}) {
		t.Fatalf("global scope should carry no filter, got %+v", search.lastScope)
	}
}

func TestSendMessagePersistsQuestionBeforeSearchFails(t *testing.T) {
	a, mem, search := newTestApp(t)
	seedChatFixture(t, a, mem)
	search.searchErr = &ai.APIError{StatusCode: 429, Message: "slow down"}

	_, err := a.SendMessage(context.Background(), ChatRequest{UserID: "u1", Content: "doomed question"})
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("err=%v, want ErrQuotaExceeded", err)
	}
	msgs, _ := mem.ListMessages(store.MessageQuery{UserID: "u1", Scope: domain.ScopeGlobal})
	if len(msgs) != 1 || msgs[0].Content != "doomed question" {
		t.Fatalf("user turn not persisted: %+v", msgs)
	}
}

func TestSendMessageTimeoutPassesThrough(t *testing.T) {
	a, mem, search := newTestApp(t)
	seedChatFixture(t, a, mem)
	search.searchErr = ai.ErrSearchTimeout

	_, err := a.SendMessage(context.Background(), ChatRequest{UserID: "u1", Content: "slow"})
	if !errors.Is(err, ai.ErrSearchTimeout) {
		t.Fatalf("err=%v, want ErrSearchTimeout", err)
	}
}

func TestSendMessageForeignFileForbidden(t *testing.T) {
	a, mem, _ := newTestApp(t)
	file := seedChatFixture(t, a, mem)
	seedUser(t, mem, "u2")
	// u2 needs a store of their own to get past the store check.
	mem.SaveStore(domain.Store{ID: "s2", UserID: "u2", RemoteName: "fileSearchStores/s2"})
	u2, _, _ := mem.GetUserByID("u2")
	u2.PrimaryStoreID = "s2"
	mem.SaveUser(u2)

	_, err := a.SendMessage(context.Background(), ChatRequest{
		UserID: "u2", Scope: domain.ScopeFile, FileID: file.ID, Content: "peek",
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("err=%v, want ErrForbidden", err)
	}
}

func TestCitationEnrichment(t *testing.T) {
	a, mem, search := newTestApp(t)
	file := seedChatFixture(t, a, mem)
	remote := strings.TrimPrefix(file.RemoteFileName, "files/")

	search.searchResult = &ai.SearchResult{
		Text:  "answer",
		Model: ai.DefaultModel,
		Citations: []ai.Citation{
			{Index: 1, URI: file.RemoteFileName, Title: "Source"},
			{Index: 2, Title: remote},
			{Index: 3, Title: file.RemoteFileName},
			{Index: 4, URI: "https://elsewhere", Title: "Unrelated"},
		},
	}
	res, err := a.SendMessage(context.Background(), ChatRequest{UserID: "u1", Content: "q"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	cites := res.AssistantMessage.Citations
	if len(cites) != 4 {
		t.Fatalf("citations=%d", len(cites))
	}
	if cites[0].Title != file.DisplayName {
		t.Fatalf("uri match not enriched: %+v", cites[0])
	}
	if cites[1].Title != file.DisplayName {
		t.Fatalf("bare title match not enriched: %+v", cites[1])
	}
	if cites[2].Title != file.DisplayName {
		t.Fatalf("prefixed title match not enriched: %+v", cites[2])
	}
	if cites[3].Title != "Unrelated" {
		t.Fatalf("unmatched citation mutated: %+v", cites[3])
	}
}

func TestResolveMode(t *testing.T) {
	settings := domain.DefaultChatSettings()

	mode, instruction := resolveMode(settings, "")
	if mode != domain.ModeLimited || instruction != domain.DefaultLimitedInstruction {
		t.Fatalf("default: mode=%s instruction=%q", mode, instruction)
	}

	mode, instruction = resolveMode(settings, domain.ModeAuxiliary)
	if mode != domain.ModeAuxiliary || instruction != domain.DefaultAuxiliaryInstruction {
		t.Fatalf("explicit auxiliary: mode=%s", mode)
	}

	// Custom instruction overrides the built-in when enabled.
	settings.Limited.Instruction = "Answer in French only."
	if _, instruction = resolveMode(settings, domain.ModeLimited); instruction != "Answer in French only." {
		t.Fatalf("custom instruction ignored: %q", instruction)
	}

	// A disabled override falls back to the default text.
	settings.Limited.Enabled = false
	if _, instruction = resolveMode(settings, domain.ModeLimited); instruction != domain.DefaultLimitedInstruction {
		t.Fatalf("disabled override still used: %q", instruction)
	}

	// Garbage defaults collapse to limited.
	settings.DefaultMode = "weird"
	if mode, _ = resolveMode(settings, "bogus"); mode != domain.ModeLimited {
		t.Fatalf("fallback mode=%s", mode)
	}
}

func TestHistoryPagination(t *testing.T) {
	a, mem, _ := newTestApp(t)
	seedUser(t, mem, "u1")
	base := time.Unix(1_700_000_000, 0)
	for i := 0; i < 5; i++ {
		mem.SaveMessage(domain.Message{
			ID: string(rune('a' + i)), UserID: "u1", Scope: domain.ScopeGlobal,
			Role: domain.RoleUser, Content: "m", CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	page, err := a.History(HistoryRequest{UserID: "u1", Scope: domain.ScopeGlobal, Limit: 3})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !page.HasMore || len(page.Messages) != 3 {
		t.Fatalf("hasMore=%v len=%d", page.HasMore, len(page.Messages))
	}
	// Oldest-first within the page, newest messages selected.
	if !page.Messages[0].CreatedAt.Before(page.Messages[2].CreatedAt) {
		t.Fatalf("page not chronological")
	}
	if !page.Messages[2].CreatedAt.Equal(base.Add(4 * time.Minute)) {
		t.Fatalf("latest message missing from first page")
	}

	cursor := page.Messages[0].CreatedAt
	older, err := a.History(HistoryRequest{UserID: "u1", Scope: domain.ScopeGlobal, Limit: 3, Before: &cursor})
	if err != nil {
		t.Fatalf("older page: %v", err)
	}
	if older.HasMore || len(older.Messages) != 2 {
		t.Fatalf("older page hasMore=%v len=%d", older.HasMore, len(older.Messages))
	}
}

func TestHistoryAroundDate(t *testing.T) {
	a, mem, _ := newTestApp(t)
	seedUser(t, mem, "u1")
	base := time.Unix(1_700_000_000, 0)
	for i := 0; i < 10; i++ {
		mem.SaveMessage(domain.Message{
			ID: string(rune('a' + i)), UserID: "u1", Scope: domain.ScopeGlobal,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
	}
	at := base.Add(5 * time.Hour)
	msgs, err := a.HistoryAround(HistoryRequest{UserID: "u1", Scope: domain.ScopeGlobal, Limit: 3}, at)
	if err != nil {
		t.Fatalf("around: %v", err)
	}
	if len(msgs) != 6 {
		t.Fatalf("len=%d, want 6", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
			t.Fatalf("result not chronological")
		}
	}
	// The anchor message itself is included.
	found := false
	for _, m := range msgs {
		if m.CreatedAt.Equal(at) {
			found = true
		}
	}
	if !found {
		t.Fatalf("anchor message missing")
	}
}

func TestDeleteHistoryRange(t *testing.T) {
	a, mem, _ := newTestApp(t)
	seedUser(t, mem, "u1")
	base := time.Unix(1_700_000_000, 0)
	for i := 0; i < 5; i++ {
		mem.SaveMessage(domain.Message{
			ID: string(rune('a' + i)), UserID: "u1", Scope: domain.ScopeGlobal,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
	}
	// Bounds land exactly on message timestamps; both endpoints go away.
	from := base.Add(time.Hour)
	to := base.Add(3 * time.Hour)
	removed, err := a.DeleteHistory(HistoryRequest{UserID: "u1", Scope: domain.ScopeGlobal}, &from, &to)
	if err != nil {
		t.Fatalf("delete range: %v", err)
	}
	if removed != 3 {
		t.Fatalf("removed=%d, want 3", removed)
	}
	left, _ := mem.ListMessages(store.MessageQuery{UserID: "u1", Scope: domain.ScopeGlobal})
	if len(left) != 2 {
		t.Fatalf("left=%d, want 2", len(left))
	}
	for _, m := range left {
		if !m.CreatedAt.Equal(base) && !m.CreatedAt.Equal(base.Add(4*time.Hour)) {
			t.Fatalf("wrong message survived: %v", m.CreatedAt)
		}
	}
}
