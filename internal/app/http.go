package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/psinetreject/card-scanner/internal/matcher"
	"github.com/psinetreject/card-scanner/internal/search"
	"github.com/psinetreject/card-scanner/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	throttle   *Throttle
	logger     *slog.Logger
}

// NewHTTPServer wraps service. throttle may be nil.
func NewHTTPServer(service *Service, corsOrigin string, throttle *Throttle) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, throttle: throttle, logger: service.logger}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "version": AppVersion})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{"storage": map[string]any{"status": "ok"}}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["storage"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userName":      session.UserName,
			"userId":        session.UserID,
			"role":          session.Role,
			"deviceId":      session.DeviceID,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/login" {
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
			DeviceID string `json:"deviceId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if strings.TrimSpace(body.Username) == "" || body.Password == "" {
			writeError(w, http.StatusUnprocessableEntity, CodeValidation, "username and password are required", nil)
			return
		}
		session, err := s.service.Login(r.Context(), body.Username, body.Password, deviceID(r, body.DeviceID))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/guest" {
		var body struct {
			DeviceID string `json:"deviceId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Guest(r.Context(), deviceID(r, body.DeviceID))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Refresh token invalid", nil)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		if err := s.service.Logout(r.Context(), body.RefreshToken); err != nil {
			s.logger.Warn("logout failed", "error", err)
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/sync/pull" {
		payload, err := s.service.Pull(r.Context(), session)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/proposals" {
		var body struct {
			Items []store.OutboxProposal `json:"items"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.PushProposals(r.Context(), session, body.Items)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/observations" {
		var body struct {
			Items []store.OutboxObservation `json:"items"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.PushObservations(r.Context(), session, body.Items)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/drafts" {
		var body struct {
			Items []store.OutboxDraft `json:"items"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.PushDrafts(r.Context(), session, body.Items)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/snapshot/latest" {
		envelope, err := s.service.Snapshot(r.Context(), session)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, envelope)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/match" {
		var query matcher.Query
		if err := decodeBody(r, &query); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.Match(r.Context(), session, query)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		limit, err := queryInt(r, "limit", 20)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		offset, err := queryInt(r, "offset", 0)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		result, err := s.service.Search(r.Context(), session, search.Query{
			Text:       strings.TrimSpace(r.URL.Query().Get("q")),
			FilterType: search.ResultType(strings.TrimSpace(r.URL.Query().Get("type"))),
			Limit:      limit,
			Offset:     offset,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "moderation" {
		s.handleModeration(w, r, session, parts)
		return
	}
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "admin" {
		s.handleAdmin(w, r, session, parts)
		return
	}

	writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
}

func (s *HTTPServer) handleModeration(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	ctx := r.Context()
	query := r.URL.Query()

	if len(parts) == 3 && parts[2] == "proposals" && r.Method == http.MethodGet {
		limit, err := queryInt(r, "limit", 0)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		filter := ProposalFilter{
			Status: store.ProposalStatus(strings.TrimSpace(query.Get("status"))),
			Type:   store.ProposalType(strings.TrimSpace(query.Get("type"))),
			UserID: strings.TrimSpace(query.Get("userId")),
			Limit:  limit,
		}
		if raw := strings.TrimSpace(query.Get("minConfidence")); raw != "" {
			parsed, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, CodeValidation, "minConfidence must be a number", nil)
				return
			}
			filter.MinConfidence = &parsed
		}
		proposals, err := s.service.ListProposals(ctx, session, filter)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"proposals": proposals})
		return
	}

	if len(parts) == 5 && parts[2] == "proposals" && r.Method == http.MethodPost {
		notes, ok := decodeNotes(w, r)
		if !ok {
			return
		}
		var (
			proposal store.ModerationProposal
			err      error
		)
		switch parts[4] {
		case "approve":
			proposal, err = s.service.ApproveProposal(ctx, session, parts[3], notes)
		case "reject":
			proposal, err = s.service.RejectProposal(ctx, session, parts[3], notes)
		case "more-info":
			proposal, err = s.service.RequestMoreInfo(ctx, session, parts[3], notes)
		default:
			writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
			return
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"proposal": proposal})
		return
	}

	if len(parts) == 3 && parts[2] == "claims" && r.Method == http.MethodGet {
		limit, err := queryInt(r, "limit", 0)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		claims, err := s.service.ListClaims(ctx, session, ClaimFilter{
			Status: store.ClaimStatus(strings.TrimSpace(query.Get("status"))),
			Limit:  limit,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"claims": claims})
		return
	}

	if len(parts) == 5 && parts[2] == "claims" && parts[4] == "status" && r.Method == http.MethodPost {
		var body struct {
			Status store.ClaimStatus `json:"status"`
			Notes  string            `json:"notes"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		claim, err := s.service.SetClaimStatus(ctx, session, parts[3], body.Status, body.Notes)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"claim": claim})
		return
	}

	if len(parts) == 5 && parts[2] == "claims" && parts[4] == "observations" && r.Method == http.MethodGet {
		observations, err := s.service.ClaimObservations(ctx, session, parts[3])
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"observations": observations})
		return
	}

	if len(parts) == 5 && parts[2] == "observations" && parts[4] == "status" && r.Method == http.MethodPost {
		var body struct {
			Status store.ObservationStatus `json:"status"`
			Notes  string                  `json:"notes"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		observation, err := s.service.SetObservationStatus(ctx, session, parts[3], body.Status, body.Notes)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"observation": observation})
		return
	}

	if len(parts) == 3 && parts[2] == "drafts" && r.Method == http.MethodGet {
		limit, err := queryInt(r, "limit", 0)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		drafts, err := s.service.ListDrafts(ctx, session, DraftFilter{
			Status:    store.DraftStatus(strings.TrimSpace(query.Get("status"))),
			CreatedBy: strings.TrimSpace(query.Get("createdBy")),
			Limit:     limit,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"drafts": drafts})
		return
	}

	if len(parts) == 5 && parts[2] == "drafts" && parts[4] == "reviewing" && r.Method == http.MethodPost {
		draft, err := s.service.MarkDraftReviewing(ctx, session, parts[3])
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"draft": draft})
		return
	}

	if len(parts) == 5 && parts[2] == "drafts" && r.Method == http.MethodPost {
		var body struct {
			Notes         string         `json:"notes"`
			EditedPayload map[string]any `json:"editedPayload"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		notes := strings.TrimSpace(body.Notes)
		var (
			event store.PublishEvent
			err   error
		)
		switch parts[4] {
		case "publish":
			event, err = s.service.PublishDraft(ctx, session, parts[3], body.EditedPayload, notes)
		case "reject":
			event, err = s.service.RejectDraft(ctx, session, parts[3], notes)
		case "request-changes":
			event, err = s.service.RequestDraftChanges(ctx, session, parts[3], notes)
		default:
			writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
			return
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"event": event})
		return
	}

	if len(parts) == 3 && parts[2] == "publish-events" && r.Method == http.MethodGet {
		limit, err := queryInt(r, "limit", 0)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		events, err := s.service.ListPublishEvents(ctx, session, strings.TrimSpace(query.Get("draftId")), limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": events})
		return
	}

	if len(parts) == 3 && parts[2] == "audit" && r.Method == http.MethodGet {
		limit, err := queryInt(r, "limit", 50)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		entries, err := s.service.ListAudit(ctx, session, store.AuditFilter{
			Entity:   store.Entity(strings.TrimSpace(query.Get("entity"))),
			EntityID: strings.TrimSpace(query.Get("entityId")),
			Limit:    limit,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
		return
	}

	if len(parts) == 5 && parts[2] == "cards" && parts[4] == "history" && r.Method == http.MethodGet {
		history, err := s.service.CardHistory(ctx, session, parts[3])
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, history)
		return
	}

	if len(parts) == 3 && parts[2] == "trust" && r.Method == http.MethodGet {
		stats, err := s.service.TrustStats(ctx, session)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": stats})
		return
	}

	writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
}

func (s *HTTPServer) handleAdmin(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	ctx := r.Context()

	if len(parts) == 4 && parts[2] == "cards" && r.Method == http.MethodPut {
		var body struct {
			store.Card
			Notes string `json:"notes"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		card, err := s.service.AdminEditCard(ctx, session, parts[3], body.Card, body.Notes)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"card": card})
		return
	}

	if len(parts) == 4 && parts[2] == "prints" && r.Method == http.MethodPut {
		var body struct {
			store.Print
			Notes string `json:"notes"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		pr, err := s.service.AdminEditPrint(ctx, session, parts[3], body.Print, body.Notes)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"print": pr})
		return
	}

	if len(parts) == 5 && parts[4] == "rollback" && r.Method == http.MethodPost {
		var body struct {
			Version int    `json:"version"`
			Notes   string `json:"notes"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		switch parts[2] {
		case "cards":
			card, err := s.service.RollbackCard(ctx, session, parts[3], body.Version, body.Notes)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"card": card})
		case "prints":
			pr, err := s.service.RollbackPrint(ctx, session, parts[3], body.Version, body.Notes)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"print": pr})
		default:
			writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
		}
		return
	}

	if len(parts) == 3 && parts[2] == "recompute" && r.Method == http.MethodPost {
		summary, err := s.service.RecomputeAll(ctx, session)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
		return
	}

	if len(parts) == 5 && parts[2] == "feature-packs" && r.Method == http.MethodPost {
		var status store.PackStatus
		switch parts[4] {
		case "install":
			status = store.PackInstalled
		case "remove":
			status = store.PackAvailable
		default:
			writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
			return
		}
		pack, err := s.service.SetFeaturePackStatus(ctx, session, parts[3], status)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"pack": pack})
		return
	}

	writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeServiceError(w, err)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if s.throttle != nil && r.URL.Path != "/api/health" && !s.throttle.Allow(clientKey(r)) {
			writeError(writer, http.StatusTooManyRequests, CodeRateLimited, "Too many requests", nil)
		} else {
			next.ServeHTTP(writer, r)
		}

		s.logger.Info("http request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Device-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeServiceError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// decodeNotes reads an optional {"notes": "..."} body.
func decodeNotes(w http.ResponseWriter, r *http.Request) (string, bool) {
	var body struct {
		Notes string `json:"notes"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return "", false
	}
	return strings.TrimSpace(body.Notes), true
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func deviceID(r *http.Request, fromBody string) string {
	return firstNonBlank(strings.TrimSpace(fromBody), strings.TrimSpace(r.Header.Get("X-Device-ID")))
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return 0, validationError(fmt.Sprintf("%s must be a non-negative integer", key), nil)
	}
	return parsed, nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(asDomain(err), &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	return http.StatusInternalServerError, CodeServer, "Server error", nil
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"userName":     session.UserName,
		"userId":       session.UserID,
		"role":         session.Role,
		"deviceId":     session.DeviceID,
		"expiresAt":    session.ExpiresAt,
	}
}
