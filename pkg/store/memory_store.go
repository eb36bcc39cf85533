package store

import (
	"sort"
	"sync"
	"time"

	"docchat/pkg/domain"
)

// MemoryStore keeps everything in-process. Used by tests and as a fallback
// when no database is configured.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]domain.User
	stores    map[string]domain.Store
	libraries map[string]domain.Library
	files     map[string]domain.File
	messages  []domain.Message
	usage     []domain.UsageLog
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]domain.User),
		stores:    make(map[string]domain.Store),
		libraries: make(map[string]domain.Library),
		files:     make(map[string]domain.File),
	}
}

func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) GetUserByOAuthSubject(subject string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.OAuthSubject == subject {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

func (m *MemoryStore) ListUsers() ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		res = append(res, u)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (m *MemoryStore) SaveStore(st domain.Store) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stores[st.ID] = st
	return nil
}

func (m *MemoryStore) GetStore(id string) (domain.Store, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.stores[id]
	return st, ok, nil
}

func (m *MemoryStore) GetStoreByUser(userID string) (domain.Store, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, st := range m.stores {
		if st.UserID == userID {
			return st, true, nil
		}
	}
	return domain.Store{}, false, nil
}

func (m *MemoryStore) AddStoreUsage(id string, deltaBytes int64, deltaFiles int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stores[id]
	if !ok {
		return nil
	}
	st.SizeBytes += deltaBytes
	if st.SizeBytes < 0 {
		st.SizeBytes = 0
	}
	st.FileCount += deltaFiles
	if st.FileCount < 0 {
		st.FileCount = 0
	}
	st.UpdatedAt = time.Now().UTC()
	m.stores[id] = st
	return nil
}

func (m *MemoryStore) DeleteStore(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stores, id)
	return nil
}

func (m *MemoryStore) SaveLibrary(l domain.Library) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.libraries[l.ID] = l
	return nil
}

func (m *MemoryStore) GetLibrary(id string) (domain.Library, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.libraries[id]
	return l, ok, nil
}

func (m *MemoryStore) GetLibraryByName(userID, name string) (domain.Library, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.libraries {
		if l.UserID == userID && l.Name == name {
			return l, true, nil
		}
	}
	return domain.Library{}, false, nil
}

func (m *MemoryStore) ListLibraries(userID string) ([]domain.Library, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Library, 0)
	for _, l := range m.libraries {
		if l.UserID == userID {
			res = append(res, l)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (m *MemoryStore) DeleteLibrary(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.libraries, id)
	return nil
}

func (m *MemoryStore) SaveFile(f domain.File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[f.ID] = f
	return nil
}

func (m *MemoryStore) GetFile(id string) (domain.File, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[id]
	return f, ok, nil
}

func (m *MemoryStore) ListFilesByUser(userID string) ([]domain.File, error) {
	return m.listFiles(func(f domain.File) bool { return f.UserID == userID })
}

func (m *MemoryStore) ListFilesByLibrary(libraryID string) ([]domain.File, error) {
	return m.listFiles(func(f domain.File) bool { return f.LibraryID == libraryID })
}

func (m *MemoryStore) listFiles(match func(domain.File) bool) ([]domain.File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.File, 0)
	for _, f := range m.files {
		if match(f) {
			res = append(res, f)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func (m *MemoryStore) FindDuplicate(userID, libraryID, contentHash string) (domain.File, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, f := range m.files {
		if f.UserID == userID && f.LibraryID == libraryID &&
			f.ContentHash == contentHash && f.Status != domain.StatusFailed {
			return f, true, nil
		}
	}
	return domain.File{}, false, nil
}

func (m *MemoryStore) SetFileStatus(id string, status domain.FileStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return nil
	}
	if f.Status.Terminal() {
		if f.Status == status {
			return nil
		}
		return ErrTerminalStatus
	}
	f.Status = status
	f.UpdatedAt = time.Now().UTC()
	m.files[id] = f
	return nil
}

func (m *MemoryStore) RecoverFile(id string, status domain.FileStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return nil
	}
	f.Status = status
	f.UpdatedAt = time.Now().UTC()
	m.files[id] = f
	return nil
}

func (m *MemoryStore) DeleteFile(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, id)
	return nil
}

func (m *MemoryStore) SaveMessage(msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *MemoryStore) ListMessages(q MessageQuery) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Message, 0)
	for _, msg := range m.messages {
		if matchesMessage(msg, q) {
			res = append(res, msg)
		}
	}
	if q.Ascending {
		sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	} else {
		sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	}
	if q.Limit > 0 && len(res) > q.Limit {
		res = res[:q.Limit]
	}
	return res, nil
}

func (m *MemoryStore) DeleteMessages(q MessageQuery) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.messages[:0]
	var removed int64
	for _, msg := range m.messages {
		if matchesMessage(msg, q) {
			removed++
			continue
		}
		kept = append(kept, msg)
	}
	m.messages = kept
	return removed, nil
}

func matchesMessage(msg domain.Message, q MessageQuery) bool {
	if msg.UserID != q.UserID {
		return false
	}
	if q.Scope != "" && msg.Scope != q.Scope {
		return false
	}
	if q.FileID != "" && msg.FileID != q.FileID {
		return false
	}
	if q.LibraryID != "" && msg.LibraryID != q.LibraryID {
		return false
	}
	if q.Before != nil && !msg.CreatedAt.Before(*q.Before) {
		return false
	}
	if q.After != nil && !msg.CreatedAt.After(*q.After) {
		return false
	}
	if q.From != nil && msg.CreatedAt.Before(*q.From) {
		return false
	}
	if q.To != nil && msg.CreatedAt.After(*q.To) {
		return false
	}
	return true
}

func (m *MemoryStore) SaveUsageLog(l domain.UsageLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = append(m.usage, l)
	return nil
}

func (m *MemoryStore) ListUsageLogs(userID string, limit int) ([]domain.UsageLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.UsageLog, 0)
	for _, l := range m.usage {
		if l.UserID == userID {
			res = append(res, l)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (m *MemoryStore) UsageTotals(userID string) (domain.UsageTotals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var totals domain.UsageTotals
	for _, l := range m.usage {
		if l.UserID != userID {
			continue
		}
		totals.TotalCost += l.TotalCost
		totals.TotalTokens += l.Tokens.Total
		switch l.Type {
		case domain.UsageIndexing:
			totals.IndexingCost += l.TotalCost
		case domain.UsageChat:
			totals.ChatCost += l.TotalCost
		}
	}
	return totals, nil
}

func (m *MemoryStore) PurgeUser(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, st := range m.stores {
		if st.UserID == userID {
			delete(m.stores, id)
		}
	}
	for id, l := range m.libraries {
		if l.UserID == userID {
			delete(m.libraries, id)
		}
	}
	for id, f := range m.files {
		if f.UserID == userID {
			delete(m.files, id)
		}
	}
	keptMsgs := m.messages[:0]
	for _, msg := range m.messages {
		if msg.UserID != userID {
			keptMsgs = append(keptMsgs, msg)
		}
	}
	m.messages = keptMsgs
	keptUsage := m.usage[:0]
	for _, l := range m.usage {
		if l.UserID != userID {
			keptUsage = append(keptUsage, l)
		}
	}
	m.usage = keptUsage
	return nil
}

var _ Store = (*MemoryStore)(nil)
