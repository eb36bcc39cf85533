// Package server exposes the JSON API over the app use cases.
package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"docchat/internal/app"
	"docchat/internal/ratelimit"
	"docchat/internal/util"
	"docchat/pkg/ai"
	"docchat/pkg/auth"
	"docchat/pkg/domain"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App      *app.App
	Sessions *auth.Sessions
	// Limiter backs the persistent per-user action limits.
	Limiter *ratelimit.Limiter
	// IPShield is the coarse per-IP gate applied to every request. Nil
	// disables it.
	IPShield ratelimit.Allower
	// TrustedProxies controls forwarded-header trust for client IPs.
	TrustedProxies *util.TrustedProxies
	AllowedOrigins []string
	// AdminKey guards the operator purge endpoint. Empty disables it.
	AdminKey string

	MaxUploadBytes           int64
	ChatRateLimitPerMinute   int
	UploadRateLimitPerHour   int
	LibraryRateLimitPer10Min int
}

// Server exposes HTTP endpoints for the backend.
type Server struct {
	app      *app.App
	sessions *auth.Sessions
	limiter  *ratelimit.Limiter
	ipShield ratelimit.Allower
	proxies  *util.TrustedProxies
	origins  []string
	adminKey string
	mux      *http.ServeMux

	maxUploadBytes int64
	chatLimit      int
	uploadLimit    int
	libraryLimit   int
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("server: sessions are required")
	}
	chatLimit := cfg.ChatRateLimitPerMinute
	if chatLimit <= 0 {
		chatLimit = 15
	}
	uploadLimit := cfg.UploadRateLimitPerHour
	if uploadLimit <= 0 {
		uploadLimit = 20
	}
	libraryLimit := cfg.LibraryRateLimitPer10Min
	if libraryLimit <= 0 {
		libraryLimit = 10
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = domain.MaxFileSizeBytes
	}
	s := &Server{
		app:            cfg.App,
		sessions:       cfg.Sessions,
		limiter:        cfg.Limiter,
		ipShield:       cfg.IPShield,
		proxies:        cfg.TrustedProxies,
		origins:        cfg.AllowedOrigins,
		adminKey:       cfg.AdminKey,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
		chatLimit:      chatLimit,
		uploadLimit:    uploadLimit,
		libraryLimit:   libraryLimit,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with middleware applied.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.mux
	h = s.shielded(h)
	h = util.WithCORS(s.origins, h)
	h = util.WithSecurityHeaders(h)
	h = util.WithRequestLog("docchat", h)
	return util.WithRequestID(h)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth & account
	s.mux.HandleFunc("/api/auth/callback", s.handleAuthCallback)
	s.mux.Handle("/api/users/me", s.authenticated(s.handleMe))
	s.mux.Handle("/api/users/me/settings", s.authenticated(s.handleSettings))
	s.mux.Handle("/api/users/me/stats", s.authenticated(s.handleStats))
	s.mux.Handle("/api/users/me/data", s.authenticated(s.handlePurgeData))
	s.mux.Handle("/api/billing", s.authenticated(s.handleBilling))

	// documents
	s.mux.Handle("/api/files", s.authenticated(s.handleFiles))
	s.mux.Handle("/api/files/", s.authenticated(s.handleFileByID))
	s.mux.Handle("/api/store/status", s.authenticated(s.handleStoreStatus))

	// libraries
	s.mux.Handle("/api/libraries", s.authenticated(s.handleLibraries))
	s.mux.Handle("/api/libraries/", s.authenticated(s.handleLibraryByID))

	// chat
	s.mux.Handle("/api/chat", s.authenticated(s.handleChat))
	s.mux.Handle("/api/chat/history", s.authenticated(s.handleChatHistory))

	// admin
	s.mux.Handle("/api/admin/purge", s.adminOnly(s.handleAdminPurge))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// shielded applies the global per-IP gate before any routing happens.
func (s *Server) shielded(next http.Handler) http.Handler {
	if s.ipShield == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ipShield.Allow(s.clientIP(r)) {
			s.audit(r, "api.ip_shield", "rate_limited")
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, string)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.audit(r, "api.authorize", "fail", "reason", "missing_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		userID, err := s.sessions.Verify(token)
		if err != nil {
			s.audit(r, "api.authorize", "fail", "reason", "invalid_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, userID)
	})
}

func (s *Server) adminOnly(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get("X-Admin-Key"))
		if s.adminKey == "" || key == "" ||
			subtle.ConstantTimeCompare([]byte(key), []byte(s.adminKey)) != 1 {
			s.audit(r, "api.admin.authorize", "fail")
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		s.audit(r, "api.admin.authorize", "success")
		next(w, r)
	})
}

// auth handlers
func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req oauthCallbackRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := s.app.EnsureUser(app.OAuthProfile{
		Subject:       req.Subject,
		Email:         req.Email,
		Name:          req.Name,
		Picture:       req.Picture,
		EmailVerified: req.EmailVerified,
	})
	if err != nil {
		s.audit(r, "api.signin", "fail", "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	token, err := s.sessions.Issue(user.ID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "api.signin", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, sessionResponse{Token: token, User: user})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodGet:
		user, err := s.app.Profile(userID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodPatch:
		var req updateProfileRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		user, err := s.app.UpdateProfileName(userID, req.Name)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodGet:
		settings, err := s.app.ChatSettings(userID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, settings)
	case http.MethodPut:
		var settings domain.ChatSettings
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&settings); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		updated, err := s.app.UpdateChatSettings(userID, settings)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	stats, err := s.app.Stats(userID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handlePurgeData(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.PurgeAccount(r.Context(), userID); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "api.purge_account", "success", "user_id", userID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBilling(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	summary, err := s.app.Billing(userID, limit)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// /api/files
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodPost:
		s.handleUpload(w, r, userID)
	case http.MethodGet:
		files, err := s.app.ListFiles(userID, r.URL.Query().Get("libraryId"))
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": files,
			"count": len(files),
		})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, userID string) {
	if !s.allowAction(w, r, userID, "upload", s.uploadLimit, time.Hour, "too many uploads") {
		return
	}
	// Leave headroom over the file cap for multipart framing.
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	uploaded, err := s.app.UploadFile(r.Context(), app.UploadRequest{
		UserID:    userID,
		LibraryID: r.FormValue("libraryId"),
		Filename:  header.Filename,
		MimeType:  mimeType,
		Body:      file,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, uploaded)
}

// /api/files/{id} plus /content, /status, /recover, /remote subresources.
func (s *Server) handleFileByID(w http.ResponseWriter, r *http.Request, userID string) {
	path := strings.TrimPrefix(r.URL.Path, "/api/files/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}
	if id == "check" && len(parts) == 1 {
		s.handleDuplicateCheck(w, r, userID)
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "content":
			s.handleFileContent(w, r, userID, id)
		case "status":
			s.handleFileStatus(w, r, userID, id)
		case "recover":
			s.handleFileRecover(w, r, userID, id)
		case "remote":
			s.handleFileRemote(w, r, userID, id)
		default:
			http.NotFound(w, r)
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		file, err := s.app.GetFile(userID, id)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, file)
	case http.MethodDelete:
		summary, err := s.app.DeleteFile(r.Context(), userID, id)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "deleted",
			"summary": summary,
		})
	default:
		methodNotAllowed(w)
	}
}

// GET /api/files/check?hash=...&libraryId=...
func (s *Server) handleDuplicateCheck(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	dup, found, err := s.app.CheckDuplicate(userID, q.Get("libraryId"), q.Get("hash"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	resp := map[string]any{"duplicate": found}
	if found {
		resp["file"] = dup
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFileContent(w http.ResponseWriter, r *http.Request, userID, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	file, rc, size, err := s.app.OpenFileContent(r.Context(), userID, id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	defer rc.Close()
	mimeType := file.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", file.DisplayName))
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	if _, err := io.Copy(w, rc); err != nil {
		slog.Warn("preview stream interrupted", "file_id", id, "err", err)
	}
}

func (s *Server) handleFileStatus(w http.ResponseWriter, r *http.Request, userID, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	file, err := s.app.CheckFileStatus(r.Context(), userID, id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

func (s *Server) handleFileRecover(w http.ResponseWriter, r *http.Request, userID, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	file, err := s.app.RecoverFileStatus(userID, id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

func (s *Server) handleFileRemote(w http.ResponseWriter, r *http.Request, userID, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	meta, err := s.app.RemoteFileInfo(r.Context(), userID, id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleStoreStatus(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	st, err := s.app.StoreStatus(r.Context(), userID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// /api/libraries
func (s *Server) handleLibraries(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodPost:
		if !s.allowAction(w, r, userID, "library", s.libraryLimit, 10*time.Minute, "too many library changes") {
			return
		}
		var input app.LibraryInput
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&input); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		library, err := s.app.CreateLibrary(userID, input)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, library)
	case http.MethodGet:
		views, err := s.app.ListLibraries(userID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": views,
			"count": len(views),
		})
	default:
		methodNotAllowed(w)
	}
}

// /api/libraries/{id}
func (s *Server) handleLibraryByID(w http.ResponseWriter, r *http.Request, userID string) {
	id := strings.TrimPrefix(r.URL.Path, "/api/libraries/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		view, err := s.app.GetLibrary(userID, id)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case http.MethodPut:
		if !s.allowAction(w, r, userID, "library", s.libraryLimit, 10*time.Minute, "too many library changes") {
			return
		}
		var input app.LibraryInput
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&input); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		library, err := s.app.UpdateLibrary(userID, id, input)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, library)
	case http.MethodDelete:
		if err := s.app.DeleteLibrary(r.Context(), userID, id); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

// /api/chat
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowAction(w, r, userID, "chat", s.chatLimit, time.Minute, "too many chat messages") {
		return
	}
	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result, err := s.app.SendMessage(r.Context(), app.ChatRequest{
		UserID:    userID,
		Scope:     domain.ChatScope(req.Scope),
		FileID:    req.FileID,
		LibraryID: req.LibraryID,
		Mode:      domain.ChatMode(req.Mode),
		Content:   req.Content,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// /api/chat/history
func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request, userID string) {
	q := r.URL.Query()
	req := app.HistoryRequest{
		UserID:    userID,
		Scope:     domain.ChatScope(q.Get("scope")),
		FileID:    q.Get("fileId"),
		LibraryID: q.Get("libraryId"),
	}
	req.Limit, _ = strconv.Atoi(q.Get("limit"))

	switch r.Method {
	case http.MethodGet:
		if around := q.Get("around"); around != "" {
			at, err := time.Parse(time.RFC3339, around)
			if err != nil {
				writeError(w, http.StatusBadRequest, "around must be RFC 3339")
				return
			}
			msgs, err := s.app.HistoryAround(req, at)
			if err != nil {
				s.writeAppError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
			return
		}
		if before := q.Get("before"); before != "" {
			t, err := time.Parse(time.RFC3339, before)
			if err != nil {
				writeError(w, http.StatusBadRequest, "before must be RFC 3339")
				return
			}
			req.Before = &t
		}
		page, err := s.app.History(req)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	case http.MethodDelete:
		var from, to *time.Time
		if raw := q.Get("from"); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "from must be RFC 3339")
				return
			}
			from = &t
		}
		if raw := q.Get("to"); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "to must be RFC 3339")
				return
			}
			to = &t
		}
		removed, err := s.app.DeleteHistory(req, from, to)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
	default:
		methodNotAllowed(w)
	}
}

// admin handlers
func (s *Server) handleAdminPurge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.app.PurgeEverything(r.Context()); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "purged"})
}

// allowAction enforces a persistent per-user fixed-window limit. Limiter
// failures fail open: availability over strictness for per-user limits.
func (s *Server) allowAction(w http.ResponseWriter, r *http.Request, userID, action string, limit int, window time.Duration, msg string) bool {
	if s.limiter == nil {
		return true
	}
	res, err := s.limiter.Check(r.Context(), userID+":"+action, limit, window)
	if err != nil {
		slog.Warn("rate limit check failed", "action", action, "err", err)
		return true
	}
	if res.Allowed {
		return true
	}
	s.audit(r, "api."+action, "rate_limited", "user_id", userID)
	retry := int(time.Until(res.ResetAt).Seconds())
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":   msg,
		"resetAt": res.ResetAt.UTC().Format(time.RFC3339),
	})
	return false
}

// request/response bodies
type oauthCallbackRequest struct {
	Subject       string `json:"subject"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	EmailVerified bool   `json:"emailVerified"`
}

type sessionResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

type updateProfileRequest struct {
	Name string `json:"name"`
}

type chatRequest struct {
	Scope     string `json:"scope"`
	FileID    string `json:"fileId"`
	LibraryID string `json:"libraryId"`
	Mode      string `json:"mode"`
	Content   string `json:"content"`
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeCodedError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}

// writeAppError maps app sentinels onto HTTP statuses and stable client
// error codes. Ownership failures stay deliberately vague.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, app.ErrForbidden):
		s.audit(r, "api.access", "fail", "reason", "ownership")
		writeError(w, http.StatusForbidden, "access denied")
	case errors.Is(err, app.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrDuplicateFile):
		writeCodedError(w, http.StatusConflict, "DUPLICATE_FILE", err.Error())
	case errors.Is(err, app.ErrFileTooLarge):
		writeCodedError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", err.Error())
	case errors.Is(err, app.ErrStorageQuota):
		writeCodedError(w, http.StatusRequestEntityTooLarge, "STORAGE_QUOTA", err.Error())
	case errors.Is(err, app.ErrNoStore):
		writeCodedError(w, http.StatusConflict, "NO_STORE", err.Error())
	case errors.Is(err, app.ErrInvalidStore):
		writeCodedError(w, http.StatusConflict, "INVALID_STORE", err.Error())
	case errors.Is(err, app.ErrStoreExpired):
		writeCodedError(w, http.StatusGone, "STORE_EXPIRED", err.Error())
	case errors.Is(err, app.ErrStoreNotFound):
		writeCodedError(w, http.StatusNotFound, "STORE_NOT_FOUND", err.Error())
	case errors.Is(err, app.ErrQuotaExceeded):
		w.Header().Set("Retry-After", "60")
		writeCodedError(w, http.StatusTooManyRequests, "QUOTA_EXCEEDED", err.Error())
	case errors.Is(err, ai.ErrSearchTimeout):
		writeCodedError(w, http.StatusGatewayTimeout, "SEARCH_TIMEOUT", err.Error())
	default:
		slog.Error("request failed", "path", r.URL.Path, "method", r.Method, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) clientIP(r *http.Request) string {
	return util.ClientIP(r, s.proxies)
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", s.clientIP(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}
