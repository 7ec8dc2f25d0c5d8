// Package tracker owns signature tracks: it fans a transaction out to its
// signers, collects their responses and moves the track through its lifecycle.
package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/Layr-Labs/cosigner-go/pkg/crypto"
	"github.com/Layr-Labs/cosigner-go/pkg/finalizer"
	"github.com/Layr-Labs/cosigner-go/pkg/lifecycle"
	"github.com/Layr-Labs/cosigner-go/pkg/notifier"
	"github.com/Layr-Labs/cosigner-go/pkg/persistence"
	"github.com/Layr-Labs/cosigner-go/pkg/signers"
	"github.com/Layr-Labs/cosigner-go/pkg/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ISignerResolver expands sender and sponsor into concrete signers
type ISignerResolver interface {
	Resolve(requestorKey string, payload *types.Signers) (*signers.Result, error)
}

// IFinalizer executes signed tracks and announces denied ones
type IFinalizer interface {
	Finalize(ctx context.Context, trackID string) (*types.SignatureTrack, error)
	AnnounceDenial(ctx context.Context, track *types.SignatureTrack)
}

// Config holds tracker settings
type Config struct {
	// VerifySignatures checks each approval against the signer's public key
	// before it is recorded
	VerifySignatures bool
}

// SubmitResult is the outcome of one signer response
type SubmitResult struct {
	Status types.SignatureStatus
	// Rejected is set when the caller is not the request's signer; nothing changed
	Rejected bool
	// Track is the track after the response, nil when Rejected
	Track *types.SignatureTrack
}

// Tracker coordinates signature tracks
type Tracker struct {
	store     persistence.ICosignerPersistence
	resolver  ISignerResolver
	finalizer IFinalizer
	verifier  crypto.ISignatureVerifier
	notifier  notifier.INotifier
	config    Config
	logger    *zap.Logger

	now   func() time.Time
	newID func() string
}

// NewTracker creates a tracker
func NewTracker(
	store persistence.ICosignerPersistence,
	resolver ISignerResolver,
	fin IFinalizer,
	verifier crypto.ISignatureVerifier,
	n notifier.INotifier,
	cfg Config,
	logger *zap.Logger,
) *Tracker {
	return &Tracker{
		store:     store,
		resolver:  resolver,
		finalizer: fin,
		verifier:  verifier,
		notifier:  n,
		config:    cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// Tally computes the status a track moves to after one of its requests resolved.
//
// A resolved track keeps its status. A single-signer track follows its one
// request. With several signers the track is denied only when every request
// is denied, signed only when every request is signed, and partially completed
// otherwise.
func Tally(track *types.SignatureTrack) types.SignatureStatus {
	if track.Status.IsResolved() {
		return track.Status
	}

	total := len(track.Requests)
	signed, denied := 0, 0
	for _, r := range track.Requests {
		switch r.Status {
		case types.SignerSigned:
			signed++
		case types.SignerDenied:
			denied++
		}
	}
	if signed+denied == 0 {
		return track.Status
	}

	if total == 1 {
		if denied == 1 {
			return types.StatusDenied
		}
		return types.StatusSigned
	}

	switch {
	case denied == total:
		return types.StatusDenied
	case signed == total:
		return types.StatusSigned
	default:
		return types.StatusPartiallyCompleted
	}
}

// Submit creates a track for the transaction with one pending request per signer.
// Every validation and resolution error happens before anything is written.
func (t *Tracker) Submit(ctx context.Context, requestorKey string, req *types.TransactionRequest) (*types.SignatureTrack, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: empty transaction request", types.ErrInvalidRequest)
	}
	if _, err := crypto.DecodeTxBytes(req.TxBytes); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidRequest, err)
	}

	resolved, err := t.resolver.Resolve(requestorKey, req.Signers)
	if err != nil {
		return nil, err
	}

	now := t.now()
	track := &types.SignatureTrack{
		ID:           t.newID(),
		RequestorKey: requestorKey,
		TxBytes:      req.TxBytes,
		Sender:       resolved.Sender,
		Sponsor:      resolved.Sponsor,
		Status:       types.StatusPendingSigners,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for _, s := range resolved.Signers {
		track.Requests = append(track.Requests, &types.SignatureRequest{
			ID:              t.newID(),
			TrackID:         track.ID,
			SignerKey:       s.Account.Key,
			SignerPublicKey: s.PublicKey,
			Role:            s.Role,
			Status:          types.SignerPending,
		})
	}

	if err := t.store.CreateTrack(track); err != nil {
		return nil, fmt.Errorf("failed to create signature track: %w", err)
	}

	t.logger.Sugar().Infow("Signature track created",
		"track_id", track.ID,
		"requestor", requestorKey,
		"signers", len(track.Requests),
	)
	for _, r := range track.Requests {
		t.notifier.SigningRequested(ctx, track, r)
	}
	return track, nil
}

// SubmitSignature records one signer's approval or denial and advances the track.
//
// A caller that is not the request's signer gets a rejected result and nothing
// changes. Responses to a resolved track, or repeated responses to the same
// request, leave the track untouched and report its current status. When the
// response completes the signatures, the transaction is executed before
// returning. A signed track whose execution outcome was never stored is
// executed again by any later response to it.
func (t *Tracker) SubmitSignature(ctx context.Context, callerKey, requestID string, outcome *types.SigningOutcome) (*SubmitResult, error) {
	if requestID == "" || outcome == nil {
		return nil, fmt.Errorf("%w: request_id and outcome are required", types.ErrInvalidRequest)
	}

	track, err := t.store.LoadTrackByRequest(requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to load request %s: %w", requestID, err)
	}
	if track == nil {
		return nil, fmt.Errorf("%w: %s", types.ErrRequestNotFound, requestID)
	}
	request := track.Request(requestID)
	if request == nil {
		return nil, fmt.Errorf("%w: %s", types.ErrRequestNotFound, requestID)
	}

	if request.SignerKey != callerKey {
		t.logger.Sugar().Warnw("Rejected response from an account that is not the named signer",
			"request_id", requestID,
			"caller", callerKey,
		)
		return &SubmitResult{Status: types.StatusPartiallyCompleted, Rejected: true}, nil
	}

	awaiting := request.Status == types.SignerPending && !track.Status.IsResolved()
	if outcome.Approved && awaiting {
		if outcome.Signature == "" {
			return nil, fmt.Errorf("%w: request %s", types.ErrMissingSignature, requestID)
		}
		if t.config.VerifySignatures {
			if err := t.verify(track, request, outcome.Signature); err != nil {
				return nil, err
			}
		}
	}

	changed := false
	updated, err := t.store.UpdateTrack(track.ID, func(tr *types.SignatureTrack) error {
		changed = false
		if tr.Status.IsResolved() {
			return nil
		}
		r := tr.Request(requestID)
		if r == nil {
			return fmt.Errorf("%w: %s", types.ErrRequestNotFound, requestID)
		}
		if r.Status != types.SignerPending {
			return nil
		}

		now := t.now()
		if outcome.Approved {
			if err := r.Approve(outcome.Signature, now); err != nil {
				return err
			}
		} else if err := r.Deny(outcome.DenialCause, now); err != nil {
			return err
		}

		next := Tally(tr)
		if err := lifecycle.Apply(ctx, tr, next); err != nil {
			return err
		}
		if next == types.StatusDenied {
			finalizer.RecordDenial(tr)
		}
		tr.UpdatedAt = now
		changed = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record response to %s: %w", requestID, err)
	}

	switch {
	case changed:
		t.logger.Sugar().Infow("Signer responded",
			"track_id", updated.ID,
			"request_id", requestID,
			"approved", outcome.Approved,
			"status", updated.Status,
		)
	case updated.Status == types.StatusSigned:
		// the execution outcome was never recorded; a later response drives it again
		t.logger.Sugar().Infow("Resuming execution of signed track", "track_id", updated.ID, "request_id", requestID)
	default:
		t.logger.Sugar().Debugw("Response had no effect",
			"track_id", updated.ID,
			"request_id", requestID,
			"status", updated.Status,
		)
		return &SubmitResult{Status: updated.Status, Track: updated}, nil
	}

	switch updated.Status {
	case types.StatusDenied:
		t.finalizer.AnnounceDenial(ctx, updated)
	case types.StatusSigned:
		final, err := t.finalizer.Finalize(ctx, updated.ID)
		if err != nil {
			return nil, err
		}
		updated = final
	}

	return &SubmitResult{Status: updated.Status, Track: updated}, nil
}

func (t *Tracker) verify(track *types.SignatureTrack, request *types.SignatureRequest, signature string) error {
	txBytes, err := crypto.DecodeTxBytes(track.TxBytes)
	if err != nil {
		return fmt.Errorf("track %s carries bad tx_bytes: %w", track.ID, err)
	}
	if err := t.verifier.VerifySignature(request.SignerPublicKey, txBytes, signature); err != nil {
		t.logger.Sugar().Warnw("Signature failed verification",
			"track_id", track.ID,
			"request_id", request.ID,
			"error", err,
		)
		return err
	}
	return nil
}

// Get returns a track by id
func (t *Tracker) Get(trackID string) (*types.SignatureTrack, error) {
	track, err := t.store.LoadTrack(trackID)
	if err != nil {
		return nil, fmt.Errorf("failed to load track %s: %w", trackID, err)
	}
	if track == nil {
		return nil, fmt.Errorf("%w: %s", types.ErrTrackNotFound, trackID)
	}
	return track, nil
}

// GetAs returns a track to its requestor or to one of its signers
func (t *Tracker) GetAs(callerKey, trackID string) (*types.SignatureTrack, error) {
	track, err := t.Get(trackID)
	if err != nil {
		return nil, err
	}
	if track.RequestorKey != callerKey && !track.HasSigner(callerKey) {
		return nil, fmt.Errorf("%w: %s may not view track %s", types.ErrUnauthorized, callerKey, trackID)
	}
	return track, nil
}

// ListForRequestor returns the tracks an account requested, oldest first
func (t *Tracker) ListForRequestor(requestorKey string) ([]*types.SignatureTrack, error) {
	tracks, err := t.store.ListTracksByRequestor(requestorKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracks for %s: %w", requestorKey, err)
	}
	return tracks, nil
}

// ListRequests returns the requests naming an account as signer that pass the filter
func (t *Tracker) ListRequests(signerKey string, filter *types.SignRequestFilter) ([]*types.PendingSignatureRequest, error) {
	tracks, err := t.store.ListTracksBySigner(signerKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests for %s: %w", signerKey, err)
	}

	out := make([]*types.PendingSignatureRequest, 0)
	for _, track := range tracks {
		for _, r := range track.Requests {
			if r.SignerKey != signerKey || !filter.Matches(r) {
				continue
			}
			out = append(out, &types.PendingSignatureRequest{
				SignatureRequest: r,
				TxBytes:          track.TxBytes,
				TrackStatus:      track.Status,
				Requestor:        track.RequestorKey,
			})
		}
	}
	return out, nil
}
