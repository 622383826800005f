// Package syncclient runs the client half of the sync protocol: it queues
// local writes in outboxes, pushes them with per-item outcomes, pulls the
// live catalog and recovers from snapshot bundles.
package syncclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofrs/flock"

	"github.com/psinetreject/card-scanner/internal/localstore"
	"github.com/psinetreject/card-scanner/internal/logging"
	"github.com/psinetreject/card-scanner/internal/store"
	"github.com/psinetreject/card-scanner/internal/util"
)

var (
	ErrNotSignedIn      = errors.New("not signed in")
	ErrSyncInProgress   = errors.New("another sync is already running")
	ErrChecksumMismatch = errors.New("snapshot checksum mismatch")
)

// Failure codes worth resubmitting without operator action.
var retryableCodes = map[string]bool{
	"":             true,
	"RATE_LIMITED": true,
	"SERVER_ERROR": true,
}

type Options struct {
	Store     *localstore.Store
	Transport Transport
	Logger    *slog.Logger
	// LockPath guards against concurrent sync runs on one local store.
	// Empty derives it from the store path.
	LockPath string
	DeviceID string
}

type Client struct {
	store     *localstore.Store
	transport Transport
	logger    *slog.Logger
	lock      *flock.Flock
	deviceID  string
	now       func() time.Time
}

func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := opts.LockPath
	if lockPath == "" {
		lockPath = opts.Store.Path() + ".lock"
	}
	return &Client{
		store:     opts.Store,
		transport: opts.Transport,
		logger:    logger,
		lock:      flock.New(lockPath),
		deviceID:  opts.DeviceID,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (c *Client) Login(ctx context.Context, username, password string) (localstore.Session, error) {
	sess, err := c.transport.Login(ctx, username, password, c.deviceID)
	if err != nil {
		return localstore.Session{}, err
	}
	if err := c.store.SaveSession(ctx, sess); err != nil {
		return localstore.Session{}, err
	}
	c.logger.Info("signed in", "user_id", sess.UserID, "role", sess.Role)
	return sess, nil
}

func (c *Client) Guest(ctx context.Context) (localstore.Session, error) {
	sess, err := c.transport.Guest(ctx, c.deviceID)
	if err != nil {
		return localstore.Session{}, err
	}
	return sess, c.store.SaveSession(ctx, sess)
}

func (c *Client) Logout(ctx context.Context) error {
	return c.store.ClearSession(ctx)
}

// QueueProposal adds a proposal to the outbox. A missing local id is
// generated.
func (c *Client) QueueProposal(ctx context.Context, p store.OutboxProposal) (store.OutboxProposal, error) {
	if p.LocalProposalID == "" {
		p.LocalProposalID = util.NewID("lprop")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = c.now()
	}
	if p.DeviceID == "" {
		p.DeviceID = c.deviceID
	}
	p.Status, p.LastError, p.LastErrorCode = store.OutboxQueued, "", ""
	return p, c.store.SaveProposal(ctx, p)
}

func (c *Client) QueueObservation(ctx context.Context, ob store.OutboxObservation) (store.OutboxObservation, error) {
	if ob.LocalObservationID == "" {
		ob.LocalObservationID = util.NewID("lobs")
	}
	if ob.CreatedAt.IsZero() {
		ob.CreatedAt = c.now()
	}
	ob.Status, ob.LastError, ob.LastErrorCode = store.OutboxQueued, "", ""
	return ob, c.store.SaveObservation(ctx, ob)
}

func (c *Client) QueueDraft(ctx context.Context, d store.OutboxDraft) (store.OutboxDraft, error) {
	if d.LocalDraftID == "" {
		d.LocalDraftID = util.NewID("ldraft")
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = c.now()
	}
	d.Status, d.LastError, d.LastErrorCode = store.OutboxQueued, "", ""
	return d, c.store.SaveDraft(ctx, d)
}

// BatchReport counts one outbox's push outcome.
type BatchReport struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

type Report struct {
	Proposals    BatchReport      `json:"proposals"`
	Observations BatchReport      `json:"observations"`
	Drafts       BatchReport      `json:"drafts"`
	Pulled       bool             `json:"pulled"`
	SyncState    *store.SyncState `json:"syncState,omitempty"`
}

// Sync pushes every outbox and then pulls. Only one sync may run per local
// store at a time.
func (c *Client) Sync(ctx context.Context) (Report, error) {
	locked, err := c.lock.TryLock()
	if err != nil {
		return Report{}, fmt.Errorf("acquire sync lock: %w", err)
	}
	if !locked {
		return Report{}, ErrSyncInProgress
	}
	defer func() {
		if err := c.lock.Unlock(); err != nil {
			c.logger.Warn("release sync lock", "error", err)
		}
	}()

	report, err := c.Push(ctx)
	if err != nil {
		return report, err
	}
	pulled, err := c.Pull(ctx)
	if err != nil {
		return report, err
	}
	report.Pulled = true
	report.SyncState = &pulled.SyncState
	return report, nil
}

// Push submits queued items and failed items whose error is transient.
// Accepted items become sent; failed ones keep the authority's error.
func (c *Client) Push(ctx context.Context) (Report, error) {
	var report Report

	proposals, err := c.store.Proposals(ctx)
	if err != nil {
		return report, err
	}
	report.Proposals, err = pushOutbox(ctx, c, "proposals", proposals,
		func(p store.OutboxProposal) (string, store.OutboxStatus, string) {
			return p.LocalProposalID, p.Status, p.LastErrorCode
		},
		c.transport.PushProposals,
		func(p store.OutboxProposal, status store.OutboxStatus, code, message string) error {
			p.Status, p.LastErrorCode, p.LastError = status, code, message
			return c.store.SaveProposal(ctx, p)
		})
	if err != nil {
		return report, err
	}

	observations, err := c.store.Observations(ctx)
	if err != nil {
		return report, err
	}
	report.Observations, err = pushOutbox(ctx, c, "observations", observations,
		func(ob store.OutboxObservation) (string, store.OutboxStatus, string) {
			return ob.LocalObservationID, ob.Status, ob.LastErrorCode
		},
		c.transport.PushObservations,
		func(ob store.OutboxObservation, status store.OutboxStatus, code, message string) error {
			ob.Status, ob.LastErrorCode, ob.LastError = status, code, message
			return c.store.SaveObservation(ctx, ob)
		})
	if err != nil {
		return report, err
	}

	drafts, err := c.store.Drafts(ctx)
	if err != nil {
		return report, err
	}
	report.Drafts, err = pushOutbox(ctx, c, "drafts", drafts,
		func(d store.OutboxDraft) (string, store.OutboxStatus, string) {
			return d.LocalDraftID, d.Status, d.LastErrorCode
		},
		c.transport.PushDrafts,
		func(d store.OutboxDraft, status store.OutboxStatus, code, message string) error {
			d.Status, d.LastErrorCode, d.LastError = status, code, message
			return c.store.SaveDraft(ctx, d)
		})
	return report, err
}

func pushOutbox[T any](
	ctx context.Context,
	c *Client,
	name string,
	items []T,
	describe func(T) (id string, status store.OutboxStatus, code string),
	send func(ctx context.Context, token string, batch []T) (store.PushResult, error),
	mark func(item T, status store.OutboxStatus, code, message string) error,
) (BatchReport, error) {
	var (
		report  BatchReport
		batch   []T
		pending = map[string]T{}
	)
	for _, item := range items {
		id, status, code := describe(item)
		switch {
		case status == store.OutboxQueued, status == store.OutboxFailed && retryableCodes[code]:
			batch = append(batch, item)
			pending[id] = item
		case status == store.OutboxFailed:
			report.Skipped++
		}
	}
	if len(batch) == 0 {
		return report, nil
	}

	var result store.PushResult
	err := c.withToken(ctx, func(token string) error {
		var sendErr error
		result, sendErr = send(ctx, token, batch)
		return sendErr
	})
	if err != nil {
		return report, fmt.Errorf("push %s: %w", name, err)
	}

	for _, id := range result.AcceptedIDs {
		item, ok := pending[id]
		if !ok {
			continue
		}
		if err := mark(item, store.OutboxSent, "", ""); err != nil {
			return report, err
		}
		report.Sent++
	}
	for _, failure := range result.Failed {
		item, ok := pending[failure.ID]
		if !ok {
			continue
		}
		if err := mark(item, store.OutboxFailed, failure.Code, failure.Error); err != nil {
			return report, err
		}
		report.Failed++
	}
	c.logger.Info("outbox pushed", "outbox", name, "sent", report.Sent, "failed", report.Failed, "skipped", report.Skipped)
	return report, nil
}

// Retry requeues every failed item, including permanent failures the
// operator has corrected.
func (c *Client) Retry(ctx context.Context) (int, error) {
	requeued := 0
	proposals, err := c.store.Proposals(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range proposals {
		if p.Status != store.OutboxFailed {
			continue
		}
		p.Status, p.LastError, p.LastErrorCode = store.OutboxQueued, "", ""
		if err := c.store.SaveProposal(ctx, p); err != nil {
			return requeued, err
		}
		requeued++
	}
	observations, err := c.store.Observations(ctx)
	if err != nil {
		return requeued, err
	}
	for _, ob := range observations {
		if ob.Status != store.OutboxFailed {
			continue
		}
		ob.Status, ob.LastError, ob.LastErrorCode = store.OutboxQueued, "", ""
		if err := c.store.SaveObservation(ctx, ob); err != nil {
			return requeued, err
		}
		requeued++
	}
	drafts, err := c.store.Drafts(ctx)
	if err != nil {
		return requeued, err
	}
	for _, d := range drafts {
		if d.Status != store.OutboxFailed {
			continue
		}
		d.Status, d.LastError, d.LastErrorCode = store.OutboxQueued, "", ""
		if err := c.store.SaveDraft(ctx, d); err != nil {
			return requeued, err
		}
		requeued++
	}
	return requeued, nil
}

// Pull fetches the live catalog and installs it in the local store.
func (c *Client) Pull(ctx context.Context) (store.PullResponse, error) {
	var pulled store.PullResponse
	err := c.withToken(ctx, func(token string) error {
		var pullErr error
		pulled, pullErr = c.transport.Pull(ctx, token)
		return pullErr
	})
	if err != nil {
		return store.PullResponse{}, fmt.Errorf("pull: %w", err)
	}
	if err := c.store.ApplyPull(ctx, pulled); err != nil {
		return store.PullResponse{}, err
	}
	c.logger.Info("catalog pulled",
		"cards", len(pulled.Cards),
		"prints", len(pulled.Prints),
		"claims", len(pulled.Claims),
		"draft_statuses", len(pulled.DraftStatuses),
	)
	return pulled, nil
}

// RecoverFromSnapshot replaces the local cache with the authority's latest
// snapshot bundle after verifying its checksum.
func (c *Client) RecoverFromSnapshot(ctx context.Context) (store.Bundle, error) {
	var envelope store.SnapshotEnvelope
	err := c.withToken(ctx, func(token string) error {
		var snapErr error
		envelope, snapErr = c.transport.Snapshot(ctx, token)
		return snapErr
	})
	if err != nil {
		return store.Bundle{}, fmt.Errorf("download snapshot: %w", err)
	}
	sum, err := store.BundleChecksum(envelope.Bundle)
	if err != nil {
		return store.Bundle{}, err
	}
	if sum != envelope.Checksum {
		return store.Bundle{}, fmt.Errorf("%w: got %s, want %s", ErrChecksumMismatch, sum, envelope.Checksum)
	}
	if err := c.store.ReplaceFromBundle(ctx, envelope.Bundle); err != nil {
		return store.Bundle{}, err
	}
	c.logger.Info("snapshot restored",
		"app_version", envelope.Bundle.AppVersion,
		"schema_version", envelope.Bundle.SchemaVersion,
		"cards", len(envelope.Bundle.Cards),
	)
	return envelope.Bundle, nil
}

// withToken runs fn with the stored access token, refreshing the session
// once when the authority answers 401.
func (c *Client) withToken(ctx context.Context, fn func(token string) error) error {
	sess, ok, err := c.store.Session(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotSignedIn
	}
	err = fn(sess.Token)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized || sess.RefreshToken == "" {
		return err
	}
	refreshed, refreshErr := c.transport.Refresh(ctx, sess.RefreshToken)
	if refreshErr != nil {
		return err
	}
	if err := c.store.SaveSession(ctx, refreshed); err != nil {
		return err
	}
	c.logger.Debug("session refreshed", "user_id", refreshed.UserID)
	return fn(refreshed.Token)
}
