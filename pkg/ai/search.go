package ai

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// SearchScope restricts retrieval to a slice of the store. An empty scope
// searches every document the store holds.
type SearchScope struct {
	LibraryID string
	FileID    string
}

// metadataFilter renders the scope as a custom-metadata filter expression.
// File scope wins over library scope when both are set.
func (s SearchScope) metadataFilter() string {
	if s.FileID != "" {
		return fmt.Sprintf("db_file_id = %q", s.FileID)
	}
	if s.LibraryID != "" {
		return fmt.Sprintf("library_id = %q", s.LibraryID)
	}
	return ""
}

// Citation is one grounded source behind an answer.
type Citation struct {
	Index int    `json:"id"`
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// SearchResult is a grounded answer with its sources and token accounting.
type SearchResult struct {
	Text      string
	Citations []Citation
	Usage     UsageMetadata
	Model     string
}

// Search asks the model a question grounded in the given store, optionally
// scoped to one library or one file via the metadata filter.
func (c *Client) Search(ctx context.Context, storeName, query, instruction string, scope SearchScope) (*SearchResult, error) {
	filter := scope.metadataFilter()
	slog.Info("file search query", "store", storeName, "filter", filter, "model", c.model)

	req := generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: query}}}},
		Tools: []tool{{FileSearch: &fileSearchTool{
			FileSearchStoreNames: []string{storeName},
			MetadataFilter:       filter,
		}}},
	}
	if strings.TrimSpace(instruction) != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: instruction}}}
	}

	var resp generateResponse
	path := "/v1beta/models/" + c.model + ":generateContent"
	if err := c.doJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, translateSearchError(err)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("search returned no candidates")
	}

	cand := resp.Candidates[0]
	var text strings.Builder
	for _, p := range cand.Content.Parts {
		text.WriteString(p.Text)
	}

	result := &SearchResult{
		Text:      text.String(),
		Citations: parseCitations(cand.GroundingMetadata),
		Model:     c.model,
	}
	if resp.UsageMetadata != nil {
		result.Usage = *resp.UsageMetadata
	}
	return result, nil
}

// parseCitations flattens grounding chunks into citations indexed by chunk
// position. Web fields win; retrieved context fills whichever of uri and
// title the web source leaves empty.
func parseCitations(meta *groundingMetadata) []Citation {
	if meta == nil {
		return nil
	}
	citations := make([]Citation, 0, len(meta.GroundingChunks))
	for i, chunk := range meta.GroundingChunks {
		if chunk.Web == nil && chunk.RetrievedContext == nil {
			continue
		}
		var uri, title string
		if chunk.Web != nil {
			uri, title = chunk.Web.URI, chunk.Web.Title
		}
		if chunk.RetrievedContext != nil {
			if uri == "" {
				uri = chunk.RetrievedContext.URI
			}
			if title == "" {
				title = chunk.RetrievedContext.Title
			}
		}
		if title == "" {
			title = "Source"
		}
		citations = append(citations, Citation{Index: i, URI: uri, Title: title})
	}
	return citations
}
