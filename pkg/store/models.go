package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence. Structured sub-objects (settings,
// citations, usage breakdowns) live in jsonb columns.

type UserModel struct {
	ID             string `gorm:"primaryKey"`
	Email          string `gorm:"uniqueIndex;not null"`
	Name           string
	Picture        string
	OAuthSubject   string `gorm:"uniqueIndex"`
	EmailVerified  bool
	LastLoginAt    time.Time
	PrimaryStoreID string
	Tier           string         `gorm:"not null"`
	Settings       datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt      time.Time      `gorm:"not null"`
	UpdatedAt      time.Time      `gorm:"not null"`
}

type StoreModel struct {
	ID           string `gorm:"primaryKey"`
	UserID       string `gorm:"not null;index"`
	RemoteName   string `gorm:"not null"`
	DisplayName  string
	SizeBytes    int64 `gorm:"not null"`
	FileCount    int   `gorm:"not null"`
	LastSyncedAt time.Time
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

type LibraryModel struct {
	ID          string `gorm:"primaryKey"`
	UserID      string `gorm:"not null;index"`
	Name        string `gorm:"not null"`
	Description string
	Icon        string
	Color       string
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

type FileModel struct {
	ID             string `gorm:"primaryKey"`
	UserID         string `gorm:"not null;index"`
	LibraryID      string `gorm:"index"`
	DisplayName    string `gorm:"not null"`
	MimeType       string
	SizeBytes      int64  `gorm:"not null"`
	Status         string `gorm:"not null;index"`
	RemoteFileName string
	RemoteURI      string
	OperationName  string
	LocalPath      string
	ContentHash    string `gorm:"index"`
	PageCount      int
	IndexingTokens int64
	IndexingCost   float64
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

type MessageModel struct {
	ID           string `gorm:"primaryKey"`
	UserID       string `gorm:"not null;index"`
	FileID       string `gorm:"index"`
	LibraryID    string `gorm:"index"`
	Scope        string `gorm:"not null"`
	Mode         string
	Role         string `gorm:"not null"`
	Content      string `gorm:"not null"`
	Citations    datatypes.JSON `gorm:"type:jsonb"`
	Cost         float64
	InputTokens  int64
	OutputTokens int64
	CreatedAt    time.Time `gorm:"not null;index"`
}

type UsageLogModel struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"not null;index"`
	Type      string `gorm:"not null"`
	TotalCost float64
	Currency  string
	ModelName string
	Tokens    datatypes.JSON `gorm:"type:jsonb"`
	Details   datatypes.JSON `gorm:"type:jsonb"`
	Meta      datatypes.JSON `gorm:"type:jsonb"`
	ContextID string         `gorm:"index"`
	CreatedAt time.Time      `gorm:"not null;index"`
}
