// Package finalizer records the outcome of a resolved signature track: a denial,
// or the chain execution of a fully signed transaction.
package finalizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Layr-Labs/cosigner-go/pkg/chain"
	"github.com/Layr-Labs/cosigner-go/pkg/lifecycle"
	"github.com/Layr-Labs/cosigner-go/pkg/multisig"
	"github.com/Layr-Labs/cosigner-go/pkg/notifier"
	"github.com/Layr-Labs/cosigner-go/pkg/persistence"
	"github.com/Layr-Labs/cosigner-go/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DenialResponse is recorded as the transaction response of a denied track
const DenialResponse = "Signing denied."

// DefaultChainTimeout bounds a chain submission when no timeout is configured
const DefaultChainTimeout = 30 * time.Second

var errNotSigned = errors.New("track is no longer awaiting execution")

// IDirectory builds group public keys for signature aggregation
type IDirectory interface {
	MultisigPublicKeyFor(groupKey string) (*multisig.PublicKey, error)
}

// Config holds finalizer settings
type Config struct {
	ChainTimeout time.Duration
}

// Finalizer submits signed tracks to the chain and records every outcome
type Finalizer struct {
	store     persistence.ICosignerPersistence
	directory IDirectory
	chain     chain.IChainClient
	notifier  notifier.INotifier
	timeout   time.Duration
	logger    *zap.Logger

	// one execution per track at a time within this process
	inflight singleflight.Group
}

// NewFinalizer creates a finalizer
func NewFinalizer(
	store persistence.ICosignerPersistence,
	directory IDirectory,
	chainClient chain.IChainClient,
	n notifier.INotifier,
	cfg Config,
	logger *zap.Logger,
) *Finalizer {
	timeout := cfg.ChainTimeout
	if timeout <= 0 {
		timeout = DefaultChainTimeout
	}
	return &Finalizer{
		store:     store,
		directory: directory,
		chain:     chainClient,
		notifier:  n,
		timeout:   timeout,
		logger:    logger,
	}
}

// RecordDenial marks a denied track as not executed. It runs inside the same
// UpdateTrack as the transition to denied.
func RecordDenial(track *types.SignatureTrack) {
	passed := false
	track.TransactionPassed = &passed
	track.TransactionResponse = DenialResponse
}

// AnnounceDenial publishes a committed denial
func (f *Finalizer) AnnounceDenial(ctx context.Context, track *types.SignatureTrack) {
	f.logger.Sugar().Infow("Signature track denied", "track_id", track.ID, "requestor", track.RequestorKey)
	f.notifier.TrackResolved(ctx, track)
}

// Finalize executes a signed track and records the result. Chain failures are
// recorded on the track, never returned. Only storage failures are errors.
// A track that is not signed is returned unchanged, so a track left signed by
// a failed write can be finalized again.
func (f *Finalizer) Finalize(ctx context.Context, trackID string) (*types.SignatureTrack, error) {
	v, err, _ := f.inflight.Do(trackID, func() (interface{}, error) {
		return f.finalize(ctx, trackID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.SignatureTrack).Clone(), nil
}

func (f *Finalizer) finalize(ctx context.Context, trackID string) (*types.SignatureTrack, error) {
	track, err := f.store.LoadTrack(trackID)
	if err != nil {
		return nil, fmt.Errorf("failed to load track %s: %w", trackID, err)
	}
	if track == nil {
		return nil, fmt.Errorf("%w: %s", types.ErrTrackNotFound, trackID)
	}
	if track.Status != types.StatusSigned {
		return track, nil
	}

	passed, response := f.execute(ctx, track)

	updated, err := f.store.UpdateTrack(trackID, func(t *types.SignatureTrack) error {
		if t.Status != types.StatusSigned {
			return errNotSigned
		}
		if err := lifecycle.Apply(ctx, t, types.StatusSignedAndExecuted); err != nil {
			return err
		}
		t.TransactionPassed = &passed
		t.TransactionResponse = response
		t.UpdatedAt = time.Now().UTC()
		return nil
	})
	if errors.Is(err, errNotSigned) {
		f.logger.Sugar().Warnw("Track finalized concurrently, keeping stored outcome", "track_id", trackID)
		return f.store.LoadTrack(trackID)
	}
	if err != nil {
		f.logger.Sugar().Errorw("Failed to record execution outcome",
			"track_id", trackID,
			"transaction_passed", passed,
			"error", err,
		)
		return nil, fmt.Errorf("failed to record execution of track %s: %w", trackID, err)
	}

	f.logger.Sugar().Infow("Signature track executed",
		"track_id", trackID,
		"transaction_passed", passed,
	)
	f.notifier.TrackResolved(ctx, updated)
	return updated, nil
}

// execute gathers signatures and submits the transaction, folding every
// failure into the recorded outcome
func (f *Finalizer) execute(ctx context.Context, track *types.SignatureTrack) (bool, string) {
	signatures, err := f.GatherSignatures(track)
	if err != nil {
		f.logger.Sugar().Warnw("Failed to gather signatures", "track_id", track.ID, "error", err)
		return false, err.Error()
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	result, err := f.chain.ExecuteTransaction(ctx, track.TxBytes, signatures)
	if err != nil {
		f.logger.Sugar().Warnw("Chain submission failed", "track_id", track.ID, "error", err)
		return false, err.Error()
	}
	if !result.Success {
		f.logger.Sugar().Warnw("Transaction failed on chain", "track_id", track.ID, "digest", result.Digest, "reason", result.Error)
		return false, fmt.Sprintf("transaction %s failed: %s", result.Digest, result.Error)
	}
	return true, string(result.Raw)
}

// GatherSignatures returns the sender signature followed by the sponsor
// signature, when there is a sponsor. Group roles are aggregated into one
// multisig signature.
func (f *Finalizer) GatherSignatures(track *types.SignatureTrack) ([]string, error) {
	sender, err := f.roleSignature(track, types.RoleSender, track.Sender)
	if err != nil {
		return nil, fmt.Errorf("sender: %w", err)
	}
	signatures := []string{sender}

	if track.Sponsor != nil {
		sponsor, err := f.roleSignature(track, types.RoleSponsor, track.Sponsor)
		if err != nil {
			return nil, fmt.Errorf("sponsor: %w", err)
		}
		signatures = append(signatures, sponsor)
	}
	return signatures, nil
}

func (f *Finalizer) roleSignature(track *types.SignatureTrack, role types.SigningRole, ref *types.SignerRef) (string, error) {
	requests := track.RequestsFor(role)

	if ref == nil || !ref.Multisig {
		if len(requests) != 1 {
			return "", fmt.Errorf("expected one %s request, found %d", role, len(requests))
		}
		if requests[0].Status != types.SignerSigned || requests[0].Signature == "" {
			return "", fmt.Errorf("%s request %s is not signed", role, requests[0].ID)
		}
		return requests[0].Signature, nil
	}

	memberSignatures := make(map[string]string, len(requests))
	for _, r := range requests {
		if r.Status == types.SignerSigned {
			memberSignatures[r.SignerPublicKey] = r.Signature
		}
	}

	pk, err := f.directory.MultisigPublicKeyFor(ref.AccountKey)
	if err != nil {
		return "", err
	}
	return multisig.CombineBase64(pk, memberSignatures)
}
