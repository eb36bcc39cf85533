package store

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"docchat/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return NewGormStoreWithDB(db)
}

// NewGormStoreWithDB wraps an already-open connection (tests, shared pools).
func NewGormStoreWithDB(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(
		&UserModel{}, &StoreModel{}, &LibraryModel{},
		&FileModel{}, &MessageModel{}, &UsageLogModel{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// DB exposes the underlying connection for components sharing the pool.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model, err := userToModel(u)
	if err != nil {
		return err
	}
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"email", "name", "picture", "oauth_subject", "email_verified",
			"last_login_at", "primary_store_id", "tier", "settings", "updated_at",
		}),
	}).Create(&model).Error
}

func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	return s.getUser("id = ?", id)
}

func (s *GormStore) GetUserByOAuthSubject(subject string) (domain.User, bool, error) {
	return s.getUser("oauth_subject = ?", subject)
}

func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	return s.getUser("email = ?", email)
}

func (s *GormStore) getUser(cond string, arg any) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, cond, arg).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	u, err := userFromModel(model)
	return u, err == nil, err
}

// ListUsers returns all users ordered by created_at.
func (s *GormStore) ListUsers() ([]domain.User, error) {
	var models []UserModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		u, err := userFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, nil
}

// SaveStore stores or updates a store record.
func (s *GormStore) SaveStore(st domain.Store) error {
	model := storeToModel(st)
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"remote_name", "display_name", "size_bytes", "file_count",
			"last_synced_at", "updated_at",
		}),
	}).Create(&model).Error
}

func (s *GormStore) GetStore(id string) (domain.Store, bool, error) {
	var model StoreModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Store{}, false, nil
		}
		return domain.Store{}, false, err
	}
	return storeFromModel(model), true, nil
}

func (s *GormStore) GetStoreByUser(userID string) (domain.Store, bool, error) {
	var model StoreModel
	if err := s.db.First(&model, "user_id = ?", userID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Store{}, false, nil
		}
		return domain.Store{}, false, err
	}
	return storeFromModel(model), true, nil
}

// AddStoreUsage adjusts size/count counters, clamping both at zero.
func (s *GormStore) AddStoreUsage(id string, deltaBytes int64, deltaFiles int) error {
	return s.db.Model(&StoreModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"size_bytes": gorm.Expr("GREATEST(size_bytes + ?, 0)", deltaBytes),
			"file_count": gorm.Expr("GREATEST(file_count + ?, 0)", deltaFiles),
			"updated_at": time.Now().UTC(),
		}).Error
}

func (s *GormStore) DeleteStore(id string) error {
	return s.db.Delete(&StoreModel{}, "id = ?", id).Error
}

// SaveLibrary stores or updates a library.
func (s *GormStore) SaveLibrary(l domain.Library) error {
	model := libraryToModel(l)
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "description", "icon", "color", "updated_at",
		}),
	}).Create(&model).Error
}

func (s *GormStore) GetLibrary(id string) (domain.Library, bool, error) {
	var model LibraryModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Library{}, false, nil
		}
		return domain.Library{}, false, err
	}
	return libraryFromModel(model), true, nil
}

func (s *GormStore) GetLibraryByName(userID, name string) (domain.Library, bool, error) {
	var model LibraryModel
	if err := s.db.First(&model, "user_id = ? AND name = ?", userID, name).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Library{}, false, nil
		}
		return domain.Library{}, false, err
	}
	return libraryFromModel(model), true, nil
}

func (s *GormStore) ListLibraries(userID string) ([]domain.Library, error) {
	var models []LibraryModel
	if err := s.db.Where("user_id = ?", userID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Library, 0, len(models))
	for _, m := range models {
		res = append(res, libraryFromModel(m))
	}
	return res, nil
}

func (s *GormStore) DeleteLibrary(id string) error {
	return s.db.Delete(&LibraryModel{}, "id = ?", id).Error
}

// SaveFile stores or updates a file record.
func (s *GormStore) SaveFile(f domain.File) error {
	model := fileToModel(f)
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"library_id", "display_name", "mime_type", "size_bytes", "status",
			"remote_file_name", "remote_uri", "operation_name", "local_path",
			"content_hash", "page_count", "indexing_tokens", "indexing_cost",
			"updated_at",
		}),
	}).Create(&model).Error
}

func (s *GormStore) GetFile(id string) (domain.File, bool, error) {
	var model FileModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.File{}, false, nil
		}
		return domain.File{}, false, err
	}
	return fileFromModel(model), true, nil
}

func (s *GormStore) ListFilesByUser(userID string) ([]domain.File, error) {
	return s.listFiles("user_id = ?", userID)
}

func (s *GormStore) ListFilesByLibrary(libraryID string) ([]domain.File, error) {
	return s.listFiles("library_id = ?", libraryID)
}

func (s *GormStore) listFiles(cond string, arg any) ([]domain.File, error) {
	var models []FileModel
	if err := s.db.Where(cond, arg).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.File, 0, len(models))
	for _, m := range models {
		res = append(res, fileFromModel(m))
	}
	return res, nil
}

// FindDuplicate looks for a non-failed file with the same content hash in
// the same library.
func (s *GormStore) FindDuplicate(userID, libraryID, contentHash string) (domain.File, bool, error) {
	var model FileModel
	err := s.db.
		Where("user_id = ? AND library_id = ? AND content_hash = ? AND status <> ?",
			userID, libraryID, contentHash, string(domain.StatusFailed)).
		First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.File{}, false, nil
		}
		return domain.File{}, false, err
	}
	return fileFromModel(model), true, nil
}

// SetFileStatus moves a file along the pipeline, refusing to leave a
// terminal status.
func (s *GormStore) SetFileStatus(id string, status domain.FileStatus) error {
	res := s.db.Model(&FileModel{}).
		Where("id = ? AND status NOT IN ?", id, []string{
			string(domain.StatusActive), string(domain.StatusFailed),
		}).
		Updates(map[string]any{
			"status":     string(status),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var model FileModel
		if err := s.db.Select("status").First(&model, "id = ?", id).Error; err != nil {
			return err
		}
		if domain.FileStatus(model.Status) != status {
			return ErrTerminalStatus
		}
	}
	return nil
}

// RecoverFile force-sets a status, bypassing the terminal guard.
func (s *GormStore) RecoverFile(id string, status domain.FileStatus) error {
	return s.db.Model(&FileModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     string(status),
			"updated_at": time.Now().UTC(),
		}).Error
}

func (s *GormStore) DeleteFile(id string) error {
	return s.db.Delete(&FileModel{}, "id = ?", id).Error
}

// SaveMessage records a chat turn.
func (s *GormStore) SaveMessage(m domain.Message) error {
	model, err := messageToModel(m)
	if err != nil {
		return err
	}
	return s.db.Create(&model).Error
}

// ListMessages returns a page of chat history matching the query.
func (s *GormStore) ListMessages(q MessageQuery) ([]domain.Message, error) {
	tx := applyMessageQuery(s.db.Model(&MessageModel{}), q)
	order := "created_at DESC"
	if q.Ascending {
		order = "created_at ASC"
	}
	tx = tx.Order(order)
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	var models []MessageModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Message, 0, len(models))
	for _, m := range models {
		msg, err := messageFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, msg)
	}
	return res, nil
}

// DeleteMessages removes history matching the query and reports how many
// rows went away.
func (s *GormStore) DeleteMessages(q MessageQuery) (int64, error) {
	tx := applyMessageQuery(s.db, q).Delete(&MessageModel{})
	return tx.RowsAffected, tx.Error
}

func applyMessageQuery(tx *gorm.DB, q MessageQuery) *gorm.DB {
	tx = tx.Where("user_id = ?", q.UserID)
	if q.Scope != "" {
		tx = tx.Where("scope = ?", string(q.Scope))
	}
	if q.FileID != "" {
		tx = tx.Where("file_id = ?", q.FileID)
	}
	if q.LibraryID != "" {
		tx = tx.Where("library_id = ?", q.LibraryID)
	}
	if q.Before != nil {
		tx = tx.Where("created_at < ?", *q.Before)
	}
	if q.After != nil {
		tx = tx.Where("created_at > ?", *q.After)
	}
	if q.From != nil {
		tx = tx.Where("created_at >= ?", *q.From)
	}
	if q.To != nil {
		tx = tx.Where("created_at <= ?", *q.To)
	}
	return tx
}

// SaveUsageLog appends a ledger entry.
func (s *GormStore) SaveUsageLog(l domain.UsageLog) error {
	model, err := usageToModel(l)
	if err != nil {
		return err
	}
	return s.db.Create(&model).Error
}

func (s *GormStore) ListUsageLogs(userID string, limit int) ([]domain.UsageLog, error) {
	tx := s.db.Where("user_id = ?", userID).Order("created_at DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var models []UsageLogModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.UsageLog, 0, len(models))
	for _, m := range models {
		l, err := usageFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, nil
}

// UsageTotals aggregates the ledger for the billing view.
func (s *GormStore) UsageTotals(userID string) (domain.UsageTotals, error) {
	var totals domain.UsageTotals
	row := s.db.Model(&UsageLogModel{}).
		Select(
			"COALESCE(SUM(total_cost), 0)",
			"COALESCE(SUM((tokens->>'total')::bigint), 0)",
			"COALESCE(SUM(total_cost) FILTER (WHERE type = ?), 0)",
			"COALESCE(SUM(total_cost) FILTER (WHERE type = ?), 0)",
		).
		Where("user_id = ?", userID).
		Row()
	if err := row.Scan(&totals.TotalCost, &totals.TotalTokens, &totals.IndexingCost, &totals.ChatCost); err != nil {
		return domain.UsageTotals{}, err
	}
	return totals, nil
}

// PurgeUser removes every record owned by the user except the user row.
func (s *GormStore) PurgeUser(userID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{
			&MessageModel{}, &UsageLogModel{}, &FileModel{},
			&LibraryModel{}, &StoreModel{},
		} {
			if err := tx.Delete(model, "user_id = ?", userID).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func userToModel(u domain.User) (UserModel, error) {
	settings, err := json.Marshal(u.Settings)
	if err != nil {
		return UserModel{}, fmt.Errorf("encode settings: %w", err)
	}
	return UserModel{
		ID:             u.ID,
		Email:          u.Email,
		Name:           u.Name,
		Picture:        u.Picture,
		OAuthSubject:   u.OAuthSubject,
		EmailVerified:  u.EmailVerified,
		LastLoginAt:    u.LastLoginAt,
		PrimaryStoreID: u.PrimaryStoreID,
		Tier:           string(u.Tier),
		Settings:       datatypes.JSON(settings),
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	}, nil
}

func userFromModel(m UserModel) (domain.User, error) {
	u := domain.User{
		ID:             m.ID,
		Email:          m.Email,
		Name:           m.Name,
		Picture:        m.Picture,
		OAuthSubject:   m.OAuthSubject,
		EmailVerified:  m.EmailVerified,
		LastLoginAt:    m.LastLoginAt,
		PrimaryStoreID: m.PrimaryStoreID,
		Tier:           domain.Tier(m.Tier),
		Settings:       domain.DefaultChatSettings(),
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	if len(m.Settings) > 0 {
		if err := json.Unmarshal(m.Settings, &u.Settings); err != nil {
			return domain.User{}, fmt.Errorf("decode settings: %w", err)
		}
	}
	return u, nil
}

func storeToModel(st domain.Store) StoreModel {
	return StoreModel{
		ID:           st.ID,
		UserID:       st.UserID,
		RemoteName:   st.RemoteName,
		DisplayName:  st.DisplayName,
		SizeBytes:    st.SizeBytes,
		FileCount:    st.FileCount,
		LastSyncedAt: st.LastSyncedAt,
		CreatedAt:    st.CreatedAt,
		UpdatedAt:    st.UpdatedAt,
	}
}

func storeFromModel(m StoreModel) domain.Store {
	return domain.Store{
		ID:           m.ID,
		UserID:       m.UserID,
		RemoteName:   m.RemoteName,
		DisplayName:  m.DisplayName,
		SizeBytes:    m.SizeBytes,
		FileCount:    m.FileCount,
		LastSyncedAt: m.LastSyncedAt,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func libraryToModel(l domain.Library) LibraryModel {
	return LibraryModel{
		ID:          l.ID,
		UserID:      l.UserID,
		Name:        l.Name,
		Description: l.Description,
		Icon:        l.Icon,
		Color:       l.Color,
		CreatedAt:   l.CreatedAt,
		UpdatedAt:   l.UpdatedAt,
	}
}

func libraryFromModel(m LibraryModel) domain.Library {
	return domain.Library{
		ID:          m.ID,
		UserID:      m.UserID,
		Name:        m.Name,
		Description: m.Description,
		Icon:        m.Icon,
		Color:       m.Color,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func fileToModel(f domain.File) FileModel {
	return FileModel{
		ID:             f.ID,
		UserID:         f.UserID,
		LibraryID:      f.LibraryID,
		DisplayName:    f.DisplayName,
		MimeType:       f.MimeType,
		SizeBytes:      f.SizeBytes,
		Status:         string(f.Status),
		RemoteFileName: f.RemoteFileName,
		RemoteURI:      f.RemoteURI,
		OperationName:  f.OperationName,
		LocalPath:      f.LocalPath,
		ContentHash:    f.ContentHash,
		PageCount:      f.PageCount,
		IndexingTokens: f.IndexingTokens,
		IndexingCost:   f.IndexingCost,
		CreatedAt:      f.CreatedAt,
		UpdatedAt:      f.UpdatedAt,
	}
}

func fileFromModel(m FileModel) domain.File {
	return domain.File{
		ID:             m.ID,
		UserID:         m.UserID,
		LibraryID:      m.LibraryID,
		DisplayName:    m.DisplayName,
		MimeType:       m.MimeType,
		SizeBytes:      m.SizeBytes,
		Status:         domain.FileStatus(m.Status),
		RemoteFileName: m.RemoteFileName,
		RemoteURI:      m.RemoteURI,
		OperationName:  m.OperationName,
		LocalPath:      m.LocalPath,
		ContentHash:    m.ContentHash,
		PageCount:      m.PageCount,
		IndexingTokens: m.IndexingTokens,
		IndexingCost:   m.IndexingCost,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func messageToModel(msg domain.Message) (MessageModel, error) {
	var citations datatypes.JSON
	if len(msg.Citations) > 0 {
		encoded, err := json.Marshal(msg.Citations)
		if err != nil {
			return MessageModel{}, fmt.Errorf("encode citations: %w", err)
		}
		citations = datatypes.JSON(encoded)
	}
	return MessageModel{
		ID:           msg.ID,
		UserID:       msg.UserID,
		FileID:       msg.FileID,
		LibraryID:    msg.LibraryID,
		Scope:        string(msg.Scope),
		Mode:         string(msg.Mode),
		Role:         string(msg.Role),
		Content:      msg.Content,
		Citations:    citations,
		Cost:         msg.Cost,
		InputTokens:  msg.InputTokens,
		OutputTokens: msg.OutputTokens,
		CreatedAt:    msg.CreatedAt,
	}, nil
}

func messageFromModel(m MessageModel) (domain.Message, error) {
	msg := domain.Message{
		ID:           m.ID,
		UserID:       m.UserID,
		FileID:       m.FileID,
		LibraryID:    m.LibraryID,
		Scope:        domain.ChatScope(m.Scope),
		Mode:         domain.ChatMode(m.Mode),
		Role:         domain.ChatRole(m.Role),
		Content:      m.Content,
		Cost:         m.Cost,
		InputTokens:  m.InputTokens,
		OutputTokens: m.OutputTokens,
		CreatedAt:    m.CreatedAt,
	}
	if len(m.Citations) > 0 {
		if err := json.Unmarshal(m.Citations, &msg.Citations); err != nil {
			return domain.Message{}, fmt.Errorf("decode citations: %w", err)
		}
	}
	return msg, nil
}

func usageToModel(l domain.UsageLog) (UsageLogModel, error) {
	tokens, err := json.Marshal(l.Tokens)
	if err != nil {
		return UsageLogModel{}, fmt.Errorf("encode tokens: %w", err)
	}
	details, err := json.Marshal(l.Details)
	if err != nil {
		return UsageLogModel{}, fmt.Errorf("encode details: %w", err)
	}
	meta, err := json.Marshal(l.Meta)
	if err != nil {
		return UsageLogModel{}, fmt.Errorf("encode meta: %w", err)
	}
	return UsageLogModel{
		ID:        l.ID,
		UserID:    l.UserID,
		Type:      string(l.Type),
		TotalCost: l.TotalCost,
		Currency:  l.Currency,
		ModelName: l.ModelName,
		Tokens:    datatypes.JSON(tokens),
		Details:   datatypes.JSON(details),
		Meta:      datatypes.JSON(meta),
		ContextID: l.ContextID,
		CreatedAt: l.CreatedAt,
	}, nil
}

func usageFromModel(m UsageLogModel) (domain.UsageLog, error) {
	l := domain.UsageLog{
		ID:        m.ID,
		UserID:    m.UserID,
		Type:      domain.UsageType(m.Type),
		TotalCost: m.TotalCost,
		Currency:  m.Currency,
		ModelName: m.ModelName,
		ContextID: m.ContextID,
		CreatedAt: m.CreatedAt,
	}
	if len(m.Tokens) > 0 {
		if err := json.Unmarshal(m.Tokens, &l.Tokens); err != nil {
			return domain.UsageLog{}, fmt.Errorf("decode tokens: %w", err)
		}
	}
	if len(m.Details) > 0 {
		if err := json.Unmarshal(m.Details, &l.Details); err != nil {
			return domain.UsageLog{}, fmt.Errorf("decode details: %w", err)
		}
	}
	if len(m.Meta) > 0 {
		if err := json.Unmarshal(m.Meta, &l.Meta); err != nil {
			return domain.UsageLog{}, fmt.Errorf("decode meta: %w", err)
		}
	}
	return l, nil
}
