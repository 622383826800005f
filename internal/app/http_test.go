package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/psinetreject/card-scanner/internal/store"
)

func newTestServer(t *testing.T, throttle *Throttle) (*Service, http.Handler) {
	t.Helper()
	svc, _ := newTestService(t)
	return svc, NewHTTPServer(svc, "*", throttle).Handler()
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), target); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func login(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/session/login", "", map[string]string{
		"username": username, "password": password, "deviceId": username + "-phone",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status %d body %s", username, rec.Code, rec.Body.String())
	}
	var body struct {
		Token string `json:"token"`
	}
	decodeInto(t, rec, &body)
	return body.Token
}

func expectErrorCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d body %s", status, rec.Code, rec.Body.String())
	}
	var body struct {
		Code string `json:"code"`
	}
	decodeInto(t, rec, &body)
	if body.Code != code {
		t.Fatalf("expected code %s, got %s", code, body.Code)
	}
}

func TestHealthAndRequestID(t *testing.T) {
	_, handler := newTestServer(t, nil)

	rec := doJSON(t, handler, http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected generated request id")
	}
	var body struct {
		OK      bool   `json:"ok"`
		Version string `json:"version"`
	}
	decodeInto(t, rec, &body)
	if !body.OK || body.Version != AppVersion {
		t.Fatalf("unexpected health body %+v", body)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/ready", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ready status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestSessionRequiredForSync(t *testing.T) {
	_, handler := newTestServer(t, nil)

	expectErrorCode(t, doJSON(t, handler, http.MethodGet, "/api/sync/pull", "", nil), http.StatusUnauthorized, CodeUnauthorized)
	expectErrorCode(t, doJSON(t, handler, http.MethodGet, "/api/sync/pull", "garbage", nil), http.StatusUnauthorized, CodeUnauthorized)
	expectErrorCode(t, doJSON(t, handler, http.MethodPost, "/api/session/login", "", map[string]string{
		"username": "contributor", "password": "nope",
	}), http.StatusUnauthorized, CodeUnauthorized)
}

func TestGuestCannotPull(t *testing.T) {
	_, handler := newTestServer(t, nil)

	rec := doJSON(t, handler, http.MethodPost, "/api/session/guest", "", map[string]string{"deviceId": "kiosk"})
	if rec.Code != http.StatusOK {
		t.Fatalf("guest status %d", rec.Code)
	}
	var body struct {
		Token string `json:"token"`
		Role  string `json:"role"`
	}
	decodeInto(t, rec, &body)
	if body.Role != "guest" {
		t.Fatalf("expected guest role, got %s", body.Role)
	}
	expectErrorCode(t, doJSON(t, handler, http.MethodGet, "/api/sync/pull", body.Token, nil), http.StatusForbidden, CodeForbidden)
}

func TestContributorPushAndPull(t *testing.T) {
	_, handler := newTestServer(t, nil)
	token := login(t, handler, "contributor", "change-me-contributor")

	rec := doJSON(t, handler, http.MethodPost, "/api/observations", token, map[string]any{
		"items": []store.OutboxObservation{
			nameObservation("o1", "Dark Magician", 0.9, 0.9),
			{LocalObservationID: "o2", TargetType: store.TargetCard, TargetID: "c1", FieldPath: "cards.nope", Value: "x"},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("push status %d body %s", rec.Code, rec.Body.String())
	}
	var result store.PushResult
	decodeInto(t, rec, &result)
	if len(result.AcceptedIDs) != 1 || len(result.Failed) != 1 || result.Failed[0].Code != CodeValidation {
		t.Fatalf("unexpected push result %+v", result)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/sync/pull", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pull status %d", rec.Code)
	}
	var pulled store.PullResponse
	decodeInto(t, rec, &pulled)
	if len(pulled.Cards) != 4 || len(pulled.Claims) != 1 || pulled.SyncState.LastCardsVersion != 1 {
		t.Fatalf("unexpected pull: cards=%d claims=%d state=%+v", len(pulled.Cards), len(pulled.Claims), pulled.SyncState)
	}

	expectErrorCode(t, doJSON(t, handler, http.MethodGet, "/api/moderation/claims", token, nil), http.StatusForbidden, CodeForbidden)
}

func TestModeratorApprovesOverHTTP(t *testing.T) {
	svc, handler := newTestServer(t, nil)
	contributor := login(t, handler, "contributor", "change-me-contributor")
	moderatorToken := login(t, handler, "moderator", "change-me-moderator")

	rec := doJSON(t, handler, http.MethodPost, "/api/proposals", contributor, map[string]any{
		"items": []store.OutboxProposal{editProposal("p1", map[string]any{"archetype": "Dark Magician"})},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("push status %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/moderation/proposals?status=new", moderatorToken, nil)
	var listed struct {
		Proposals []store.ModerationProposal `json:"proposals"`
	}
	decodeInto(t, rec, &listed)
	if len(listed.Proposals) != 1 {
		t.Fatalf("expected one proposal, got %s", rec.Body.String())
	}
	id := listed.Proposals[0].ProposalID

	rec = doJSON(t, handler, http.MethodPost, "/api/moderation/proposals/"+id+"/approve", moderatorToken, map[string]string{"notes": "ok"})
	if rec.Code != http.StatusOK {
		t.Fatalf("approve status %d body %s", rec.Code, rec.Body.String())
	}
	if svc.cards["c1"].Archetype != "Dark Magician" {
		t.Fatalf("expected archetype applied, got %+v", svc.cards["c1"])
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/moderation/proposals/"+id+"/reject", moderatorToken, nil)
	expectErrorCode(t, rec, http.StatusConflict, CodeConflict)

	rec = doJSON(t, handler, http.MethodPost, "/api/admin/cards/c1/rollback", moderatorToken, map[string]int{"version": 1})
	expectErrorCode(t, rec, http.StatusForbidden, CodeForbidden)
}

func TestModeratorPublishesEditedDraftOverHTTP(t *testing.T) {
	svc, handler := newTestServer(t, nil)
	contributor := login(t, handler, "contributor", "change-me-contributor")
	moderatorToken := login(t, handler, "moderator", "change-me-moderator")

	rec := doJSON(t, handler, http.MethodPost, "/api/drafts", contributor, map[string]any{
		"items": []store.OutboxDraft{{LocalDraftID: "d1", TargetType: store.TargetCard, TargetID: "c2", ProposedPayload: map[string]any{"atk": 2500}}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("push status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/moderation/drafts", moderatorToken, nil)
	var listed struct {
		Drafts []store.Draft `json:"drafts"`
	}
	decodeInto(t, rec, &listed)
	if len(listed.Drafts) != 1 {
		t.Fatalf("expected one draft, got %s", rec.Body.String())
	}
	path := "/api/moderation/drafts/" + listed.Drafts[0].DraftID + "/publish"

	rec = doJSON(t, handler, http.MethodPost, path, moderatorToken, map[string]any{"editedPayload": map[string]any{"atk": 12000}})
	expectErrorCode(t, rec, http.StatusUnprocessableEntity, CodeValidation)

	rec = doJSON(t, handler, http.MethodPost, path, moderatorToken, map[string]any{"notes": "checked", "editedPayload": map[string]any{"atk": 3000}})
	if rec.Code != http.StatusOK {
		t.Fatalf("publish status %d body %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Event store.PublishEvent `json:"event"`
	}
	decodeInto(t, rec, &body)
	if body.Event.DiffApplied["atk"] != float64(3000) {
		t.Fatalf("expected edited diff in event, got %v", body.Event.DiffApplied)
	}
	if atk := svc.cards["c2"].ATK; atk == nil || *atk != 3000 {
		t.Fatalf("expected edited atk applied, got %+v", svc.cards["c2"])
	}
}

func TestAdminRollbackOverHTTP(t *testing.T) {
	_, handler := newTestServer(t, nil)
	token := login(t, handler, "admin", "change-me-admin")

	rec := doJSON(t, handler, http.MethodPost, "/api/admin/cards/c2/rollback", token, map[string]int{"version": 7})
	expectErrorCode(t, rec, http.StatusConflict, CodeConflict)

	rec = doJSON(t, handler, http.MethodPut, "/api/admin/cards/c2", token, map[string]any{
		"name": "Blue-Eyes White Dragon", "type": "Monster", "atk": 3000, "def": 2500, "text": "Legendary.", "notes": "text fix",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("edit status %d body %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, handler, http.MethodPost, "/api/admin/cards/c2/rollback", token, map[string]int{"version": 1})
	if rec.Code != http.StatusOK {
		t.Fatalf("rollback status %d body %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Card store.Card `json:"card"`
	}
	decodeInto(t, rec, &body)
	if body.Card.Version != 3 {
		t.Fatalf("expected version 3, got %d", body.Card.Version)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/moderation/audit?entity=card&entityId=c2", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit status %d", rec.Code)
	}
}

func TestThrottleAnswersTooManyRequests(t *testing.T) {
	_, handler := newTestServer(t, NewThrottle(0.001, 1))

	first := doJSON(t, handler, http.MethodGet, "/api/ready", "", nil)
	if first.Code != http.StatusOK {
		t.Fatalf("first request status %d", first.Code)
	}
	expectErrorCode(t, doJSON(t, handler, http.MethodGet, "/api/ready", "", nil), http.StatusTooManyRequests, CodeRateLimited)

	if rec := doJSON(t, handler, http.MethodGet, "/api/health", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("health must bypass throttling, got %d", rec.Code)
	}
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	_, handler := newTestServer(t, nil)
	token := login(t, handler, "contributor", "change-me-contributor")
	expectErrorCode(t, doJSON(t, handler, http.MethodGet, "/api/nowhere", token, nil), http.StatusNotFound, CodeNotFound)
}
