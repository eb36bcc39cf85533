package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"docchat/pkg/ai"
	"docchat/pkg/domain"
	"docchat/pkg/pricing"
	"docchat/pkg/store"
)

const defaultHistoryLimit = 50

// ChatRequest is one user turn.
type ChatRequest struct {
	UserID    string
	Scope     domain.ChatScope
	FileID    string
	LibraryID string
	Mode      domain.ChatMode // empty means the user's default mode
	Content   string
}

// ChatResult pairs the persisted user turn with the assistant's reply.
type ChatResult struct {
	UserMessage      domain.Message `json:"userMessage"`
	AssistantMessage domain.Message `json:"assistantMessage"`
}

// SendMessage answers a question grounded in the requested scope. The user
// turn is persisted before the search runs, so a failed search still leaves
// the question in history.
func (a *App) SendMessage(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, fmt.Errorf("%w: message content required", ErrInvalidInput)
	}
	user, found, err := a.store.GetUserByID(req.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !found {
		return nil, ErrNotFound
	}

	userStore, err := a.resolveChatStore(user)
	if err != nil {
		return nil, err
	}
	scope, searchScope, err := a.resolveScope(req)
	if err != nil {
		return nil, err
	}
	mode, instruction := resolveMode(user.Settings, req.Mode)

	now := a.now()
	userMsg := domain.Message{
		ID:        a.newID(),
		UserID:    user.ID,
		FileID:    req.FileID,
		LibraryID: req.LibraryID,
		Scope:     scope,
		Mode:      mode,
		Role:      domain.RoleUser,
		Content:   req.Content,
		CreatedAt: now,
	}
	if err := a.store.SaveMessage(userMsg); err != nil {
		return nil, fmt.Errorf("save user message: %w", err)
	}

	result, err := a.search.Search(ctx, userStore.RemoteName, req.Content, instruction, searchScope)
	if err != nil {
		if err == ai.ErrSearchTimeout {
			return nil, err
		}
		return nil, translateVendorError(err)
	}

	breakdown := pricing.ChatCost(result.Model,
		result.Usage.PromptTokenCount, result.Usage.CandidatesTokenCount, 1)

	assistantMsg := domain.Message{
		ID:           a.newID(),
		UserID:       user.ID,
		FileID:       req.FileID,
		LibraryID:    req.LibraryID,
		Scope:        scope,
		Mode:         mode,
		Role:         domain.RoleAssistant,
		Content:      result.Text,
		Citations:    a.enrichCitations(user.ID, result.Citations),
		Cost:         breakdown.Total,
		InputTokens:  result.Usage.PromptTokenCount,
		OutputTokens: result.Usage.CandidatesTokenCount,
		CreatedAt:    a.now(),
	}
	if err := a.store.SaveMessage(assistantMsg); err != nil {
		return nil, fmt.Errorf("save assistant message: %w", err)
	}

	a.logChatUsage(user.ID, userMsg.ID, result, breakdown)

	return &ChatResult{UserMessage: userMsg, AssistantMessage: assistantMsg}, nil
}

// resolveChatStore maps store state onto the chat error contract: no store
// bound yet vs. a bound-but-missing record.
func (a *App) resolveChatStore(user domain.User) (domain.Store, error) {
	if user.PrimaryStoreID == "" {
		return domain.Store{}, ErrNoStore
	}
	st, found, err := a.store.GetStore(user.PrimaryStoreID)
	if err != nil {
		return domain.Store{}, fmt.Errorf("load store: %w", err)
	}
	if !found || st.RemoteName == "" {
		return domain.Store{}, ErrInvalidStore
	}
	return st, nil
}

// resolveScope validates the requested scope and its target's ownership.
func (a *App) resolveScope(req ChatRequest) (domain.ChatScope, ai.SearchScope, error) {
	switch req.Scope {
	case domain.ScopeFile:
		if req.FileID == "" {
			return "", ai.SearchScope{}, fmt.Errorf("%w: fileId required for file scope", ErrInvalidInput)
		}
		file, found, err := a.store.GetFile(req.FileID)
		if err != nil {
			return "", ai.SearchScope{}, fmt.Errorf("load file: %w", err)
		}
		if !found {
			return "", ai.SearchScope{}, ErrNotFound
		}
		if file.UserID != req.UserID {
			return "", ai.SearchScope{}, ErrForbidden
		}
		return domain.ScopeFile, ai.SearchScope{FileID: file.ID}, nil
	case domain.ScopeLibrary:
		if req.LibraryID == "" {
			return "", ai.SearchScope{}, fmt.Errorf("%w: libraryId required for library scope", ErrInvalidInput)
		}
		library, found, err := a.store.GetLibrary(req.LibraryID)
		if err != nil {
			return "", ai.SearchScope{}, fmt.Errorf("load library: %w", err)
		}
		if !found {
			return "", ai.SearchScope{}, ErrNotFound
		}
		if library.UserID != req.UserID {
			return "", ai.SearchScope{}, ErrForbidden
		}
		return domain.ScopeLibrary, ai.SearchScope{LibraryID: library.ID}, nil
	case domain.ScopeGlobal, "":
		return domain.ScopeGlobal, ai.SearchScope{}, nil
	}
	return "", ai.SearchScope{}, fmt.Errorf("%w: unknown scope %q", ErrInvalidInput, req.Scope)
}

// resolveMode picks the effective chat mode and its system instruction:
// an explicit valid mode wins, then the user's default, then limited.
func resolveMode(settings domain.ChatSettings, requested domain.ChatMode) (domain.ChatMode, string) {
	mode := requested
	if mode != domain.ModeLimited && mode != domain.ModeAuxiliary {
		mode = settings.DefaultMode
	}
	if mode != domain.ModeLimited && mode != domain.ModeAuxiliary {
		mode = domain.ModeLimited
	}
	switch mode {
	case domain.ModeAuxiliary:
		if s := strings.TrimSpace(settings.Auxiliary.Instruction); settings.Auxiliary.Enabled && s != "" {
			return mode, s
		}
		return mode, domain.DefaultAuxiliaryInstruction
	default:
		if s := strings.TrimSpace(settings.Limited.Instruction); settings.Limited.Enabled && s != "" {
			return mode, s
		}
		return mode, domain.DefaultLimitedInstruction
	}
}

// enrichCitations swaps raw vendor source names for the user's own display
// names where a match exists; unmatched citations pass through untouched.
func (a *App) enrichCitations(userID string, citations []ai.Citation) []domain.Citation {
	if len(citations) == 0 {
		return nil
	}
	files, err := a.store.ListFilesByUser(userID)
	if err != nil {
		slog.Warn("citation enrichment skipped", "user_id", userID, "err", err)
		files = nil
	}
	byRemote := make(map[string]domain.File, len(files))
	for _, f := range files {
		if f.RemoteFileName != "" {
			byRemote[f.RemoteFileName] = f
		}
	}
	out := make([]domain.Citation, 0, len(citations))
	for _, c := range citations {
		enriched := domain.Citation{Index: c.Index, URI: c.URI, Title: c.Title}
		if f, ok := byRemote[c.URI]; ok {
			enriched.Title = f.DisplayName
		} else if f, ok := byRemote[c.Title]; ok {
			enriched.Title = f.DisplayName
		} else if f, ok := byRemote["files/"+c.Title]; ok {
			enriched.Title = f.DisplayName
		}
		out = append(out, enriched)
	}
	return out
}

func (a *App) logChatUsage(userID, contextID string, result *ai.SearchResult, breakdown pricing.Breakdown) {
	log := domain.UsageLog{
		ID:        a.newID(),
		UserID:    userID,
		Type:      domain.UsageChat,
		TotalCost: breakdown.Total,
		Currency:  "USD",
		ModelName: result.Model,
		Tokens: domain.TokenCounts{
			Input:  result.Usage.PromptTokenCount,
			Output: result.Usage.CandidatesTokenCount,
			Total:  result.Usage.TotalTokenCount,
		},
		Details: domain.UsageDetails{
			TokenCost:  breakdown.TokenCost,
			SearchCost: breakdown.SearchCost,
			Tier2:      breakdown.Tier2,
		},
		Meta:      domain.UsageMeta{SearchCount: 1},
		ContextID: contextID,
		CreatedAt: a.now(),
	}
	if err := a.store.SaveUsageLog(log); err != nil {
		slog.Warn("chat usage log failed", "user_id", userID, "err", err)
	}
}

// HistoryRequest selects a page of chat history.
type HistoryRequest struct {
	UserID    string
	Scope     domain.ChatScope
	FileID    string
	LibraryID string
	Before    *time.Time
	Limit     int
}

// HistoryPage is a chronological slice of a conversation.
type HistoryPage struct {
	Messages []domain.Message `json:"messages"`
	HasMore  bool             `json:"hasMore"`
}

// History returns messages strictly older than the cursor, oldest first.
func (a *App) History(req HistoryRequest) (*HistoryPage, error) {
	limit := req.Limit
	if limit <= 0 || limit > 200 {
		limit = defaultHistoryLimit
	}
	q := store.MessageQuery{
		UserID:    req.UserID,
		Scope:     req.Scope,
		FileID:    req.FileID,
		LibraryID: req.LibraryID,
		Before:    req.Before,
		Limit:     limit + 1,
	}
	msgs, err := a.store.ListMessages(q)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	reverse(msgs)
	return &HistoryPage{Messages: msgs, HasMore: hasMore}, nil
}

// HistoryAround returns messages surrounding a point in time, for
// jump-to-date navigation.
func (a *App) HistoryAround(req HistoryRequest, at time.Time) ([]domain.Message, error) {
	limit := req.Limit
	if limit <= 0 || limit > 200 {
		limit = defaultHistoryLimit / 2
	}
	older, err := a.store.ListMessages(store.MessageQuery{
		UserID: req.UserID, Scope: req.Scope, FileID: req.FileID, LibraryID: req.LibraryID,
		Before: &at, Limit: limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	cursor := at.Add(-time.Nanosecond)
	newer, err := a.store.ListMessages(store.MessageQuery{
		UserID: req.UserID, Scope: req.Scope, FileID: req.FileID, LibraryID: req.LibraryID,
		After: &cursor, Limit: limit, Ascending: true,
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	merged := append(older, newer...)
	sort.Slice(merged, func(i, j int) bool { return merged[i].CreatedAt.Before(merged[j].CreatedAt) })
	return merged, nil
}

// DeleteHistory removes a conversation, or a time range of it when bounds
// are set. Both endpoints are inclusive, so a message created exactly at
// from or to goes away too. Scoped deletes verify the target belongs to
// the caller.
func (a *App) DeleteHistory(req HistoryRequest, from, to *time.Time) (int64, error) {
	if req.FileID != "" {
		file, found, err := a.store.GetFile(req.FileID)
		if err != nil {
			return 0, fmt.Errorf("load file: %w", err)
		}
		if found && file.UserID != req.UserID {
			return 0, ErrForbidden
		}
	}
	if req.LibraryID != "" {
		library, found, err := a.store.GetLibrary(req.LibraryID)
		if err != nil {
			return 0, fmt.Errorf("load library: %w", err)
		}
		if found && library.UserID != req.UserID {
			return 0, ErrForbidden
		}
	}
	q := store.MessageQuery{
		UserID:    req.UserID,
		Scope:     req.Scope,
		FileID:    req.FileID,
		LibraryID: req.LibraryID,
		From:      from,
		To:        to,
	}
	removed, err := a.store.DeleteMessages(q)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	slog.Info("history deleted", "user_id", req.UserID, "scope", req.Scope, "removed", removed)
	return removed, nil
}

func reverse(msgs []domain.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
