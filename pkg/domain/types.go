package domain

import "time"

// FileStatus tracks a document through the ingestion pipeline.
type FileStatus string

const (
	StatusUploading FileStatus = "UPLOADING"
	StatusIngesting FileStatus = "INGESTING"
	StatusActive    FileStatus = "ACTIVE"
	StatusFailed    FileStatus = "FAILED"
)

// Terminal reports whether the status is an end state. Files never leave a
// terminal state except through explicit recovery.
func (s FileStatus) Terminal() bool {
	return s == StatusActive || s == StatusFailed
}

type ChatScope string

const (
	ScopeFile    ChatScope = "file"
	ScopeLibrary ChatScope = "library"
	ScopeGlobal  ChatScope = "global"
)

type ChatMode string

const (
	ModeLimited   ChatMode = "limited"
	ModeAuxiliary ChatMode = "auxiliary"
)

type ChatRole string

const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

// Default system instructions per chat mode. User settings may override these.
const (
	DefaultLimitedInstruction   = "Answer ONLY using the provided context. Do not use outside knowledge. If the answer is not found, say so."
	DefaultAuxiliaryInstruction = "Use the provided context as a primary source, but feel free to expand with your general knowledge to provide a helpful answer."
)

// Tier is a subscription level controlling storage quotas.
type Tier string

const (
	TierFree Tier = "FREE"
	Tier1    Tier = "TIER_1"
	Tier2    Tier = "TIER_2"
	Tier3    Tier = "TIER_3"
)

const DefaultTier = Tier1

// MaxFileSizeBytes caps individual uploads across all tiers.
const MaxFileSizeBytes = 100 * 1024 * 1024

// TierLimits holds the quota configuration for a tier.
type TierLimits struct {
	Name          string
	MaxStoreBytes int64
	MaxFileBytes  int64
}

var tierLimits = map[Tier]TierLimits{
	TierFree: {Name: "Free", MaxStoreBytes: 1 << 30, MaxFileBytes: MaxFileSizeBytes},
	Tier1:    {Name: "Tier 1", MaxStoreBytes: 10 << 30, MaxFileBytes: MaxFileSizeBytes},
	Tier2:    {Name: "Tier 2", MaxStoreBytes: 100 << 30, MaxFileBytes: MaxFileSizeBytes},
	Tier3:    {Name: "Tier 3", MaxStoreBytes: 1000 << 30, MaxFileBytes: MaxFileSizeBytes},
}

// Limits returns the quota configuration for the tier, falling back to the
// default tier for unknown values.
func (t Tier) Limits() TierLimits {
	if l, ok := tierLimits[t]; ok {
		return l
	}
	return tierLimits[DefaultTier]
}

// ChatModeSetting is a per-mode instruction override.
type ChatModeSetting struct {
	Instruction string `json:"instruction"`
	Enabled     bool   `json:"enabled"`
}

// ChatSettings holds the user's chat-mode configuration.
type ChatSettings struct {
	Limited     ChatModeSetting `json:"limited"`
	Auxiliary   ChatModeSetting `json:"auxiliary"`
	DefaultMode ChatMode        `json:"defaultMode"`
}

// DefaultChatSettings returns the built-in mode configuration for new users.
func DefaultChatSettings() ChatSettings {
	return ChatSettings{
		Limited:     ChatModeSetting{Instruction: DefaultLimitedInstruction, Enabled: true},
		Auxiliary:   ChatModeSetting{Instruction: DefaultAuxiliaryInstruction, Enabled: true},
		DefaultMode: ModeLimited,
	}
}

// User is created on first OAuth sign-in and never hard-deleted; a purge
// resets its fields instead.
type User struct {
	ID             string       `json:"id"`
	Email          string       `json:"email"`
	Name           string       `json:"name"`
	Picture        string       `json:"picture,omitempty"`
	OAuthSubject   string       `json:"-"`
	EmailVerified  bool         `json:"emailVerified"`
	LastLoginAt    time.Time    `json:"lastLoginAt"`
	PrimaryStoreID string       `json:"primaryStoreId,omitempty"`
	Tier           Tier         `json:"tier"`
	Settings       ChatSettings `json:"settings"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// Store mirrors one vendor-side vector index, bound 1:1 to a user.
// SizeBytes and FileCount are local increments reconciled by periodic cloud
// resync; LastSyncedAt marks staleness.
type Store struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	RemoteName   string    `json:"remoteName"` // "fileSearchStores/..."
	DisplayName  string    `json:"displayName"`
	SizeBytes    int64     `json:"sizeBytes"`
	FileCount    int       `json:"fileCount"`
	LastSyncedAt time.Time `json:"lastSyncedAt"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Library groups files folder-style. The "Default" library is auto-created
// for uncategorized uploads.
type Library struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Icon        string    `json:"icon,omitempty"`
	Color       string    `json:"color,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

const (
	DefaultLibraryName        = "Default"
	DefaultLibraryDescription = "Auto-created default library"
	DefaultLibraryIcon        = "📁"
	DefaultLibraryColor       = "text-slate-500"
)

// File is one uploaded document and its vendor-side references.
type File struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId"`
	LibraryID      string     `json:"libraryId,omitempty"`
	DisplayName    string     `json:"displayName"`
	MimeType       string     `json:"mimeType"`
	SizeBytes      int64      `json:"sizeBytes"`
	Status         FileStatus `json:"status"`
	RemoteFileName string     `json:"remoteFileName,omitempty"` // "files/..."
	RemoteURI      string     `json:"remoteUri,omitempty"`
	OperationName  string     `json:"operationName,omitempty"` // ingestion polling handle
	LocalPath      string     `json:"-"`                       // preview copy, relative to data dir
	ContentHash    string     `json:"contentHash,omitempty"`
	PageCount      int        `json:"pageCount,omitempty"`
	IndexingTokens int64      `json:"indexingTokens,omitempty"`
	IndexingCost   float64    `json:"indexingCost,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Citation points an answer at a source document.
type Citation struct {
	Index int    `json:"id"`
	URI   string `json:"uri,omitempty"`
	Title string `json:"title,omitempty"`
}

// Message is one chat turn. Messages are immutable once written.
type Message struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	FileID       string     `json:"fileId,omitempty"`
	LibraryID    string     `json:"libraryId,omitempty"`
	Scope        ChatScope  `json:"scope"`
	Mode         ChatMode   `json:"mode,omitempty"`
	Role         ChatRole   `json:"role"`
	Content      string     `json:"content"`
	Citations    []Citation `json:"citations,omitempty"`
	Cost         float64    `json:"cost,omitempty"`
	InputTokens  int64      `json:"inputTokens,omitempty"`
	OutputTokens int64      `json:"outputTokens,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// UsageType distinguishes ledger entries.
type UsageType string

const (
	UsageIndexing UsageType = "indexing"
	UsageChat     UsageType = "chat"
)

// TokenCounts is the token breakdown for a usage event.
type TokenCounts struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
	Total  int64 `json:"total"`
}

// UsageDetails splits a cost into its components.
type UsageDetails struct {
	TokenCost  float64 `json:"tokenCost"`
	SearchCost float64 `json:"searchCost"`
	Tier2      bool    `json:"isTier2"`
}

// UsageMeta carries free-form context for a ledger entry.
type UsageMeta struct {
	SearchCount   int    `json:"searchCount,omitempty"`
	OperationName string `json:"operationName,omitempty"`
	FileName      string `json:"fileName,omitempty"`
	FileSizeBytes int64  `json:"fileSizeBytes,omitempty"`
}

// UsageLog is an append-only billing ledger entry.
type UsageLog struct {
	ID        string       `json:"id"`
	UserID    string       `json:"userId"`
	Type      UsageType    `json:"type"`
	TotalCost float64      `json:"totalCost"`
	Currency  string       `json:"currency"`
	ModelName string       `json:"modelName"`
	Tokens    TokenCounts  `json:"tokens"`
	Details   UsageDetails `json:"details"`
	Meta      UsageMeta    `json:"meta"`
	ContextID string       `json:"contextId,omitempty"` // file ID or chat context
	CreatedAt time.Time    `json:"createdAt"`
}

// UsageTotals aggregates the ledger for the billing view.
type UsageTotals struct {
	TotalCost    float64 `json:"totalCost"`
	TotalTokens  int64   `json:"totalTokens"`
	IndexingCost float64 `json:"indexingCost"`
	ChatCost     float64 `json:"chatCost"`
}
