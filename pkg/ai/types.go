package ai

import "encoding/json"

// Wire types for the Generative Language API (v1beta). Responses are modeled
// as tagged structs instead of loose maps; fields the service omits decode to
// zero values.

type part struct {
	Text string `json:"text,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts,omitempty"`
}

type fileSearchTool struct {
	FileSearchStoreNames []string `json:"fileSearchStoreNames"`
	MetadataFilter       string   `json:"metadataFilter,omitempty"`
}

type tool struct {
	FileSearch *fileSearchTool `json:"fileSearch,omitempty"`
}

type generateRequest struct {
	Contents          []content `json:"contents"`
	SystemInstruction *content  `json:"systemInstruction,omitempty"`
	Tools             []tool    `json:"tools,omitempty"`
}

type generateResponse struct {
	Candidates    []candidate    `json:"candidates"`
	UsageMetadata *UsageMetadata `json:"usageMetadata"`
}

type candidate struct {
	Content           content            `json:"content"`
	GroundingMetadata *groundingMetadata `json:"groundingMetadata"`
}

type groundingMetadata struct {
	GroundingChunks []groundingChunk `json:"groundingChunks"`
}

type groundingChunk struct {
	Web              *groundingSource `json:"web"`
	RetrievedContext *groundingSource `json:"retrievedContext"`
}

type groundingSource struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// UsageMetadata is the token accounting returned with a generation.
type UsageMetadata struct {
	PromptTokenCount     int64 `json:"promptTokenCount"`
	CandidatesTokenCount int64 `json:"candidatesTokenCount"`
	TotalTokenCount      int64 `json:"totalTokenCount"`
}

type createStoreRequest struct {
	DisplayName string `json:"displayName"`
}

// StoreMetadata describes a remote file-search store.
type StoreMetadata struct {
	Name                 string      `json:"name"` // "fileSearchStores/..."
	DisplayName          string      `json:"displayName"`
	ActiveDocumentsCount json.Number `json:"activeDocumentsCount"`
	SizeBytes            json.Number `json:"sizeBytes"`
}

// FileCount returns the active document count, tolerating the proto-JSON
// habit of encoding 64-bit integers as strings.
func (s *StoreMetadata) FileCount() int {
	n, err := s.ActiveDocumentsCount.Int64()
	if err != nil {
		return 0
	}
	return int(n)
}

type storeListResponse struct {
	FileSearchStores []StoreMetadata `json:"fileSearchStores"`
	NextPageToken    string          `json:"nextPageToken"`
}

// FileMetadata describes a file in the vendor staging area.
type FileMetadata struct {
	Name        string      `json:"name"` // "files/..."
	DisplayName string      `json:"displayName"`
	MimeType    string      `json:"mimeType"`
	SizeBytes   json.Number `json:"sizeBytes"`
	URI         string      `json:"uri"`
	State       string      `json:"state"`
	SHA256Hash  string      `json:"sha256Hash,omitempty"`
	CreateTime  string      `json:"createTime,omitempty"`
	UpdateTime  string      `json:"updateTime,omitempty"`
}

type fileListResponse struct {
	Files         []FileMetadata `json:"files"`
	NextPageToken string         `json:"nextPageToken"`
}

type uploadResponse struct {
	File FileMetadata `json:"file"`
}

// UploadedFile is the handle returned by UploadFile.
type UploadedFile struct {
	Name string // "files/..."
	URI  string
}

type customMetadataEntry struct {
	Key         string `json:"key"`
	StringValue string `json:"stringValue"`
}

type importFileRequest struct {
	FileName       string                `json:"fileName"`
	CustomMetadata []customMetadataEntry `json:"customMetadata,omitempty"`
}

// Operation is a long-running vendor operation handle.
type Operation struct {
	Name     string            `json:"name"` // "operations/..."
	Done     bool              `json:"done"`
	Metadata operationMetadata `json:"metadata"`
	Error    *operationError   `json:"error"`
}

type operationMetadata struct {
	TotalTokens json.Number `json:"totalTokens"`
}

type operationError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// TotalTokens returns the billed embedding tokens recorded on a completed
// ingestion operation, or zero when absent.
func (o *Operation) TotalTokens() int64 {
	if o == nil {
		return 0
	}
	n, err := o.Metadata.TotalTokens.Int64()
	if err != nil {
		return 0
	}
	return n
}

// Document is one indexed document inside a store.
type Document struct {
	Name        string `json:"name"` // ".../documents/..."
	DisplayName string `json:"displayName"`
}

type documentListResponse struct {
	Documents     []Document `json:"documents"`
	NextPageToken string     `json:"nextPageToken"`
}

type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}
