package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/psinetreject/card-scanner/internal/localstore"
	"github.com/psinetreject/card-scanner/internal/store"
)

// Transport is the client's view of the authority.
type Transport interface {
	Login(ctx context.Context, username, password, deviceID string) (localstore.Session, error)
	Guest(ctx context.Context, deviceID string) (localstore.Session, error)
	Refresh(ctx context.Context, refreshToken string) (localstore.Session, error)
	Pull(ctx context.Context, token string) (store.PullResponse, error)
	PushProposals(ctx context.Context, token string, items []store.OutboxProposal) (store.PushResult, error)
	PushObservations(ctx context.Context, token string, items []store.OutboxObservation) (store.PushResult, error)
	PushDrafts(ctx context.Context, token string, items []store.OutboxDraft) (store.PushResult, error)
	Snapshot(ctx context.Context, token string) (store.SnapshotEnvelope, error)
}

// APIError is a non-2xx answer from the authority.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("authority returned %d %s: %s", e.Status, e.Code, e.Message)
}

// HTTPTransport speaks the authority's JSON API.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

func NewHTTPTransport(baseURL string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPTransport{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type sessionResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	UserID       string `json:"userId"`
	UserName     string `json:"userName"`
	Role         string `json:"role"`
	DeviceID     string `json:"deviceId"`
}

func (r sessionResponse) session() localstore.Session {
	return localstore.Session{
		Token:        r.Token,
		RefreshToken: r.RefreshToken,
		UserID:       r.UserID,
		UserName:     r.UserName,
		Role:         r.Role,
		DeviceID:     r.DeviceID,
	}
}

func (t *HTTPTransport) Login(ctx context.Context, username, password, deviceID string) (localstore.Session, error) {
	var out sessionResponse
	err := t.do(ctx, http.MethodPost, "/api/session/login", "", map[string]string{
		"username": username, "password": password, "deviceId": deviceID,
	}, &out)
	return out.session(), err
}

func (t *HTTPTransport) Guest(ctx context.Context, deviceID string) (localstore.Session, error) {
	var out sessionResponse
	err := t.do(ctx, http.MethodPost, "/api/session/guest", "", map[string]string{"deviceId": deviceID}, &out)
	return out.session(), err
}

func (t *HTTPTransport) Refresh(ctx context.Context, refreshToken string) (localstore.Session, error) {
	var out sessionResponse
	err := t.do(ctx, http.MethodPost, "/api/session/refresh", "", map[string]string{"refreshToken": refreshToken}, &out)
	return out.session(), err
}

func (t *HTTPTransport) Pull(ctx context.Context, token string) (store.PullResponse, error) {
	var out store.PullResponse
	err := t.do(ctx, http.MethodGet, "/api/sync/pull", token, nil, &out)
	return out, err
}

type pushBody[T any] struct {
	Items []T `json:"items"`
}

func (t *HTTPTransport) PushProposals(ctx context.Context, token string, items []store.OutboxProposal) (store.PushResult, error) {
	var out store.PushResult
	err := t.do(ctx, http.MethodPost, "/api/proposals", token, pushBody[store.OutboxProposal]{Items: items}, &out)
	return out, err
}

func (t *HTTPTransport) PushObservations(ctx context.Context, token string, items []store.OutboxObservation) (store.PushResult, error) {
	var out store.PushResult
	err := t.do(ctx, http.MethodPost, "/api/observations", token, pushBody[store.OutboxObservation]{Items: items}, &out)
	return out, err
}

func (t *HTTPTransport) PushDrafts(ctx context.Context, token string, items []store.OutboxDraft) (store.PushResult, error) {
	var out store.PushResult
	err := t.do(ctx, http.MethodPost, "/api/drafts", token, pushBody[store.OutboxDraft]{Items: items}, &out)
	return out, err
}

func (t *HTTPTransport) Snapshot(ctx context.Context, token string) (store.SnapshotEnvelope, error) {
	var out store.SnapshotEnvelope
	err := t.do(ctx, http.MethodGet, "/api/snapshot/latest", token, nil, &out)
	return out, err
}

func (t *HTTPTransport) do(ctx context.Context, method, path, token string, body, target any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Code  string `json:"code"`
			Error string `json:"error"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err == nil {
			apiErr.Code = payload.Code
			apiErr.Message = payload.Error
		}
		return apiErr
	}
	if target == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
