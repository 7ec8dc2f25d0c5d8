package tracker_test

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Layr-Labs/cosigner-go/pkg/crypto"
	"github.com/Layr-Labs/cosigner-go/pkg/directory"
	"github.com/Layr-Labs/cosigner-go/pkg/finalizer"
	"github.com/Layr-Labs/cosigner-go/pkg/logger"
	"github.com/Layr-Labs/cosigner-go/pkg/persistence"
	"github.com/Layr-Labs/cosigner-go/pkg/persistence/memory"
	"github.com/Layr-Labs/cosigner-go/pkg/signers"
	"github.com/Layr-Labs/cosigner-go/pkg/testutil"
	"github.com/Layr-Labs/cosigner-go/pkg/tracker"
	"github.com/Layr-Labs/cosigner-go/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	tracker  *tracker.Tracker
	accounts *testutil.Accounts
	chain    *testutil.MockChainClient
	notifier *testutil.RecordingNotifier
}

func newEnv(t *testing.T, verify bool, chainTimeout time.Duration) *env {
	t.Helper()
	store := memory.NewMemoryPersistence()
	t.Cleanup(func() { _ = store.Close() })
	return newEnvWithStore(t, store, verify, chainTimeout)
}

func newEnvWithStore(t *testing.T, store persistence.ICosignerPersistence, verify bool, chainTimeout time.Duration) *env {
	t.Helper()

	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	accounts := testutil.NewAccounts(store)
	accounts.Individual(t, "requestor", crypto.SchemeEd25519)
	accounts.Individual(t, "alice", crypto.SchemeEd25519)
	accounts.Individual(t, "bob", crypto.SchemeSecp256k1)
	accounts.Individual(t, "carol", crypto.SchemeSecp256r1)
	accounts.Group(t, "treasury", 2,
		testutil.Weighted("alice", 1),
		testutil.Weighted("bob", 1),
		testutil.Weighted("carol", 1),
	)

	dir := directory.NewDirectory(store, testLogger)
	chainClient := testutil.NewMockChainClient()
	recorder := testutil.NewRecordingNotifier()
	fin := finalizer.NewFinalizer(store, dir, chainClient, recorder, finalizer.Config{ChainTimeout: chainTimeout}, testLogger)

	return &env{
		tracker: tracker.NewTracker(store, signers.NewResolver(dir), fin, crypto.NewVerifier(), recorder,
			tracker.Config{VerifySignatures: verify}, testLogger),
		accounts: accounts,
		chain:    chainClient,
		notifier: recorder,
	}
}

func (e *env) submit(t *testing.T, sigs *types.Signers) *types.SignatureTrack {
	t.Helper()
	track, err := e.tracker.Submit(context.Background(), "requestor", &types.TransactionRequest{
		TxBytes: testutil.TestTxBytes,
		Signers: sigs,
	})
	require.NoError(t, err)
	return track
}

func (e *env) approve(t *testing.T, track *types.SignatureTrack, request *types.SignatureRequest) *tracker.SubmitResult {
	t.Helper()
	result, err := e.tracker.SubmitSignature(context.Background(), request.SignerKey, request.ID, &types.SigningOutcome{
		Approved:  true,
		Signature: e.accounts.Sign(t, request.SignerKey, track.TxBytes),
	})
	require.NoError(t, err)
	return result
}

func (e *env) deny(t *testing.T, request *types.SignatureRequest) *tracker.SubmitResult {
	t.Helper()
	result, err := e.tracker.SubmitSignature(context.Background(), request.SignerKey, request.ID, &types.SigningOutcome{
		DenialCause: "not today",
	})
	require.NoError(t, err)
	return result
}

func TestTally(t *testing.T) {
	req := func(status types.SignerStatus) *types.SignatureRequest {
		return &types.SignatureRequest{Status: status}
	}
	track := func(status types.SignatureStatus, requests ...*types.SignatureRequest) *types.SignatureTrack {
		return &types.SignatureTrack{Status: status, Requests: requests}
	}
	const (
		P = types.SignerPending
		S = types.SignerSigned
		D = types.SignerDenied
	)

	tests := []struct {
		name  string
		track *types.SignatureTrack
		want  types.SignatureStatus
	}{
		{"single signed", track(types.StatusPendingSigners, req(S)), types.StatusSigned},
		{"single denied", track(types.StatusPendingSigners, req(D)), types.StatusDenied},
		{"single pending", track(types.StatusPendingSigners, req(P)), types.StatusPendingSigners},
		{"one of two signed", track(types.StatusPendingSigners, req(S), req(P)), types.StatusPartiallyCompleted},
		{"one of two denied", track(types.StatusPendingSigners, req(D), req(P)), types.StatusPartiallyCompleted},
		{"all signed", track(types.StatusPartiallyCompleted, req(S), req(S), req(S)), types.StatusSigned},
		{"all denied", track(types.StatusPartiallyCompleted, req(D), req(D)), types.StatusDenied},
		{"mixed complete", track(types.StatusPartiallyCompleted, req(S), req(S), req(D)), types.StatusPartiallyCompleted},
		{"terminal denied", track(types.StatusDenied, req(S), req(S)), types.StatusDenied},
		{"terminal signed", track(types.StatusSigned, req(D)), types.StatusSigned},
		{"terminal executed", track(types.StatusSignedAndExecuted, req(P)), types.StatusSignedAndExecuted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tracker.Tally(tt.track))
		})
	}
}

// single signer approves and the transaction executes
func TestSubmitSignature_SingleSignerExecutes(t *testing.T) {
	e := newEnv(t, true, time.Second)

	track := e.submit(t, nil)
	require.Len(t, track.Requests, 1)
	assert.Equal(t, "requestor", track.Requests[0].SignerKey)
	assert.Equal(t, types.RoleSender, track.Requests[0].Role)
	assert.Len(t, e.notifier.Requested(), 1)

	result := e.approve(t, track, track.Requests[0])
	assert.False(t, result.Rejected)
	assert.Equal(t, types.StatusSignedAndExecuted, result.Status)
	require.NotNil(t, result.Track.TransactionPassed)
	assert.True(t, *result.Track.TransactionPassed)
	assert.Contains(t, result.Track.TransactionResponse, "success")

	submissions := e.chain.Submissions()
	require.Len(t, submissions, 1)
	assert.Equal(t, testutil.TestTxBytes, submissions[0].TxBytes)
	require.Len(t, submissions[0].Signatures, 1)
	assert.Equal(t, result.Track.Requests[0].Signature, submissions[0].Signatures[0])

	require.Len(t, e.notifier.Resolved(), 1)
	assert.Equal(t, types.StatusSignedAndExecuted, e.notifier.Resolved()[0].Status)
}

// group sponsor with threshold 2 and one dissenting member never completes as signed
func TestSubmitSignature_GroupWithDissentStaysPartial(t *testing.T) {
	e := newEnv(t, true, time.Second)

	track := e.submit(t, &types.Signers{Sponsor: types.MultisigGroup("treasury")})
	require.Len(t, track.Requests, 4)

	assert.Equal(t, types.StatusPartiallyCompleted, e.approve(t, track, track.Requests[0]).Status)
	assert.Equal(t, types.StatusPartiallyCompleted, e.approve(t, track, track.Requests[1]).Status)
	assert.Equal(t, types.StatusPartiallyCompleted, e.approve(t, track, track.Requests[2]).Status)
	assert.Equal(t, types.StatusPartiallyCompleted, e.deny(t, track.Requests[3]).Status)

	stored, err := e.tracker.Get(track.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPartiallyCompleted, stored.Status)
	assert.Nil(t, stored.TransactionPassed)
	assert.Empty(t, e.chain.Submissions())
}

func TestSubmitSignature_GroupSponsorAggregates(t *testing.T) {
	e := newEnv(t, true, time.Second)

	track := e.submit(t, &types.Signers{
		Sender:  types.Individual("alice"),
		Sponsor: types.MultisigGroup("treasury", "carol", "bob"),
	})
	require.Len(t, track.Requests, 3)

	// respond in reverse order; aggregation follows member order regardless
	var result *tracker.SubmitResult
	for i := len(track.Requests) - 1; i >= 0; i-- {
		result = e.approve(t, track, track.Requests[i])
	}
	assert.Equal(t, types.StatusSignedAndExecuted, result.Status)
	require.NotNil(t, result.Track.TransactionPassed)
	assert.True(t, *result.Track.TransactionPassed)

	submissions := e.chain.Submissions()
	require.Len(t, submissions, 1)
	require.Len(t, submissions[0].Signatures, 2)
	assert.Equal(t, result.Track.Requests[0].Signature, submissions[0].Signatures[0])

	combined, err := base64.StdEncoding.DecodeString(submissions[0].Signatures[1])
	require.NoError(t, err)
	assert.Equal(t, byte(0x03), combined[0])
	assert.Equal(t, byte(2), combined[1])
}

// a subset below the threshold fails before any track exists
func TestSubmit_SubsetBelowThreshold(t *testing.T) {
	e := newEnv(t, true, time.Second)

	_, err := e.tracker.Submit(context.Background(), "requestor", &types.TransactionRequest{
		TxBytes: testutil.TestTxBytes,
		Signers: &types.Signers{Sender: types.MultisigGroup("treasury", "alice")},
	})
	assert.ErrorIs(t, err, types.ErrWeightBelowThreshold)

	tracks, err := e.tracker.ListForRequestor("requestor")
	require.NoError(t, err)
	assert.Empty(t, tracks)
	assert.Empty(t, e.notifier.Requested())
}

func TestSubmit_InvalidPayload(t *testing.T) {
	e := newEnv(t, true, time.Second)

	_, err := e.tracker.Submit(context.Background(), "requestor", &types.TransactionRequest{TxBytes: "%%%"})
	assert.ErrorIs(t, err, types.ErrInvalidRequest)

	_, err = e.tracker.Submit(context.Background(), "requestor", nil)
	assert.ErrorIs(t, err, types.ErrInvalidRequest)

	_, err = e.tracker.Submit(context.Background(), "ghost", &types.TransactionRequest{TxBytes: testutil.TestTxBytes})
	assert.ErrorIs(t, err, types.ErrAccountNotFound)
}

// a response from someone other than the named signer is rejected without change
func TestSubmitSignature_SignerMismatchRejected(t *testing.T) {
	e := newEnv(t, true, time.Second)

	track := e.submit(t, &types.Signers{Sponsor: types.Individual("alice")})
	result, err := e.tracker.SubmitSignature(context.Background(), "bob", track.Requests[1].ID, &types.SigningOutcome{
		Approved:  true,
		Signature: e.accounts.Sign(t, "bob", track.TxBytes),
	})
	require.NoError(t, err)
	assert.True(t, result.Rejected)
	assert.Equal(t, types.StatusPartiallyCompleted, result.Status)
	assert.Nil(t, result.Track)

	stored, err := e.tracker.Get(track.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPendingSigners, stored.Status)
	assert.Equal(t, types.SignerPending, stored.Requests[1].Status)
}

func TestSubmitSignature_SingleDenial(t *testing.T) {
	e := newEnv(t, true, time.Second)

	track := e.submit(t, nil)
	result := e.deny(t, track.Requests[0])
	assert.Equal(t, types.StatusDenied, result.Status)
	require.NotNil(t, result.Track.TransactionPassed)
	assert.False(t, *result.Track.TransactionPassed)
	assert.Equal(t, finalizer.DenialResponse, result.Track.TransactionResponse)
	assert.Equal(t, "not today", result.Track.Requests[0].DenialCause)

	assert.Empty(t, e.chain.Submissions())
	require.Len(t, e.notifier.Resolved(), 1)
	assert.Equal(t, types.StatusDenied, e.notifier.Resolved()[0].Status)
}

func TestSubmitSignature_AllDeniedThenLateResponseIsNoop(t *testing.T) {
	e := newEnv(t, true, time.Second)

	track := e.submit(t, &types.Signers{Sender: types.MultisigGroup("treasury", "alice", "bob")})
	require.Len(t, track.Requests, 2)

	assert.Equal(t, types.StatusPartiallyCompleted, e.deny(t, track.Requests[0]).Status)
	assert.Equal(t, types.StatusDenied, e.deny(t, track.Requests[1]).Status)

	// duplicate response on a resolved track changes nothing
	result := e.approve(t, track, track.Requests[0])
	assert.Equal(t, types.StatusDenied, result.Status)
	assert.Equal(t, types.SignerDenied, result.Track.Requests[0].Status)
	assert.Empty(t, result.Track.Requests[0].Signature)
	assert.Len(t, e.notifier.Resolved(), 1)
}

func TestSubmitSignature_LateApprovalWithoutSignatureIsNoop(t *testing.T) {
	e := newEnv(t, true, time.Second)

	track := e.submit(t, nil)
	assert.Equal(t, types.StatusDenied, e.deny(t, track.Requests[0]).Status)

	result, err := e.tracker.SubmitSignature(context.Background(), "requestor", track.Requests[0].ID, &types.SigningOutcome{Approved: true})
	require.NoError(t, err)
	assert.Equal(t, types.StatusDenied, result.Status)
	assert.Equal(t, types.SignerDenied, result.Track.Requests[0].Status)
}

func TestSubmitSignature_DuplicateOnOpenTrackIsNoop(t *testing.T) {
	e := newEnv(t, true, time.Second)

	track := e.submit(t, &types.Signers{Sponsor: types.Individual("alice")})
	first := e.approve(t, track, track.Requests[0])
	assert.Equal(t, types.StatusPartiallyCompleted, first.Status)

	second := e.deny(t, track.Requests[0])
	assert.Equal(t, types.StatusPartiallyCompleted, second.Status)
	assert.Equal(t, types.SignerSigned, second.Track.Requests[0].Status)
	assert.Equal(t, first.Track.Requests[0].Signature, second.Track.Requests[0].Signature)
}

func TestSubmitSignature_ValidationErrors(t *testing.T) {
	e := newEnv(t, true, time.Second)
	track := e.submit(t, &types.Signers{Sponsor: types.Individual("alice")})
	ctx := context.Background()

	_, err := e.tracker.SubmitSignature(ctx, "requestor", track.Requests[0].ID, &types.SigningOutcome{Approved: true})
	assert.ErrorIs(t, err, types.ErrMissingSignature)

	// alice's signature does not verify against the requestor's key
	_, err = e.tracker.SubmitSignature(ctx, "requestor", track.Requests[0].ID, &types.SigningOutcome{
		Approved:  true,
		Signature: e.accounts.Sign(t, "alice", track.TxBytes),
	})
	assert.ErrorIs(t, err, types.ErrInvalidSignature)

	_, err = e.tracker.SubmitSignature(ctx, "requestor", "no-such-request", &types.SigningOutcome{DenialCause: "x"})
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = e.tracker.SubmitSignature(ctx, "requestor", track.Requests[0].ID, nil)
	assert.ErrorIs(t, err, types.ErrInvalidRequest)

	stored, err := e.tracker.Get(track.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPendingSigners, stored.Status)
	assert.Equal(t, types.SignerPending, stored.Requests[0].Status)
}

func TestSubmitSignature_VerificationDisabledAcceptsAnySignature(t *testing.T) {
	e := newEnv(t, false, time.Second)
	track := e.submit(t, nil)

	result, err := e.tracker.SubmitSignature(context.Background(), "requestor", track.Requests[0].ID, &types.SigningOutcome{
		Approved:  true,
		Signature: "bm90LWEtc2lnbmF0dXJl",
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusSignedAndExecuted, result.Status)
}

func TestSubmitSignature_ChainFailureIsRecorded(t *testing.T) {
	e := newEnv(t, true, time.Second)
	e.chain.Fail(errors.New("connection refused"))

	track := e.submit(t, nil)
	result := e.approve(t, track, track.Requests[0])

	assert.Equal(t, types.StatusSignedAndExecuted, result.Status)
	require.NotNil(t, result.Track.TransactionPassed)
	assert.False(t, *result.Track.TransactionPassed)
	assert.Contains(t, result.Track.TransactionResponse, "connection refused")
}

func TestSubmitSignature_ChainEffectsFailure(t *testing.T) {
	e := newEnv(t, true, time.Second)
	e.chain.FailWith("InsufficientGas")

	track := e.submit(t, nil)
	result := e.approve(t, track, track.Requests[0])

	assert.Equal(t, types.StatusSignedAndExecuted, result.Status)
	assert.False(t, *result.Track.TransactionPassed)
	assert.Contains(t, result.Track.TransactionResponse, "InsufficientGas")
}

func TestSubmitSignature_ChainTimeout(t *testing.T) {
	e := newEnv(t, true, 50*time.Millisecond)
	e.chain.Block()

	track := e.submit(t, nil)
	result := e.approve(t, track, track.Requests[0])

	assert.Equal(t, types.StatusSignedAndExecuted, result.Status)
	assert.False(t, *result.Track.TransactionPassed)
	assert.Contains(t, result.Track.TransactionResponse, "deadline exceeded")
}

// concurrent last responses execute the transaction exactly once
func TestSubmitSignature_ConcurrentResponses(t *testing.T) {
	e := newEnv(t, true, time.Second)

	track := e.submit(t, &types.Signers{
		Sender:  types.MultisigGroup("treasury"),
		Sponsor: types.Individual("requestor"),
	})
	require.Len(t, track.Requests, 4)

	signatures := make([]string, len(track.Requests))
	for i, r := range track.Requests {
		signatures[i] = e.accounts.Sign(t, r.SignerKey, track.TxBytes)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(track.Requests))
	for i, r := range track.Requests {
		wg.Add(1)
		go func(i int, r *types.SignatureRequest) {
			defer wg.Done()
			_, errs[i] = e.tracker.SubmitSignature(context.Background(), r.SignerKey, r.ID, &types.SigningOutcome{
				Approved:  true,
				Signature: signatures[i],
			})
		}(i, r)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	stored, err := e.tracker.Get(track.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSignedAndExecuted, stored.Status)
	assert.True(t, *stored.TransactionPassed)
	assert.Len(t, e.chain.Submissions(), 1)
	assert.Len(t, e.notifier.Resolved(), 1)
}

func TestGetAsAndListings(t *testing.T) {
	e := newEnv(t, true, time.Second)

	first := e.submit(t, &types.Signers{Sponsor: types.Individual("alice")})
	second := e.submit(t, &types.Signers{Sender: types.Individual("bob")})
	e.approve(t, first, first.Requests[1])

	_, err := e.tracker.GetAs("alice", first.ID)
	require.NoError(t, err)
	_, err = e.tracker.GetAs("requestor", second.ID)
	require.NoError(t, err)
	_, err = e.tracker.GetAs("carol", first.ID)
	assert.ErrorIs(t, err, types.ErrUnauthorized)
	_, err = e.tracker.GetAs("alice", "missing")
	assert.ErrorIs(t, err, types.ErrTrackNotFound)

	tracks, err := e.tracker.ListForRequestor("requestor")
	require.NoError(t, err)
	assert.Len(t, tracks, 2)

	all, err := e.tracker.ListRequests("alice", nil)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, testutil.TestTxBytes, all[0].TxBytes)
	assert.Equal(t, "requestor", all[0].Requestor)

	pending, err := e.tracker.ListRequests("alice", &types.SignRequestFilter{Pending: true})
	require.NoError(t, err)
	assert.Empty(t, pending)

	asSponsor, err := e.tracker.ListRequests("alice", &types.SignRequestFilter{SigningAs: types.RoleSponsor, Signed: true})
	require.NoError(t, err)
	assert.Len(t, asSponsor, 1)

	asSender, err := e.tracker.ListRequests("bob", &types.SignRequestFilter{SigningAs: types.RoleSender, Pending: true})
	require.NoError(t, err)
	require.Len(t, asSender, 1)
	assert.Equal(t, second.Requests[0].ID, asSender[0].ID)
}

// failingStore fails the first write that would move a signed track on
type failingStore struct {
	*memory.MemoryPersistence
	mu     sync.Mutex
	failed bool
}

func (s *failingStore) UpdateTrack(id string, fn persistence.TrackMutator) (*types.SignatureTrack, error) {
	current, err := s.LoadTrack(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	fail := !s.failed && current != nil && current.Status == types.StatusSigned
	if fail {
		s.failed = true
	}
	s.mu.Unlock()
	if fail {
		return nil, errors.New("transient storage failure")
	}
	return s.MemoryPersistence.UpdateTrack(id, fn)
}

func TestSubmitSignature_RetryResumesUnrecordedExecution(t *testing.T) {
	store := &failingStore{MemoryPersistence: memory.NewMemoryPersistence()}
	t.Cleanup(func() { _ = store.Close() })
	e := newEnvWithStore(t, store, true, time.Second)
	ctx := context.Background()

	track := e.submit(t, nil)
	outcome := &types.SigningOutcome{
		Approved:  true,
		Signature: e.accounts.Sign(t, "requestor", track.TxBytes),
	}

	_, err := e.tracker.SubmitSignature(ctx, "requestor", track.Requests[0].ID, outcome)
	require.Error(t, err)

	stored, err := e.tracker.Get(track.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSigned, stored.Status)
	assert.Nil(t, stored.TransactionPassed)

	result, err := e.tracker.SubmitSignature(ctx, "requestor", track.Requests[0].ID, outcome)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSignedAndExecuted, result.Status)
	require.NotNil(t, result.Track.TransactionPassed)
	assert.True(t, *result.Track.TransactionPassed)

	stored, err = e.tracker.Get(track.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSignedAndExecuted, stored.Status)
	assert.Len(t, e.notifier.Resolved(), 1)

	// once recorded, further responses do not execute again
	submissions := len(e.chain.Submissions())
	result, err = e.tracker.SubmitSignature(ctx, "requestor", track.Requests[0].ID, outcome)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSignedAndExecuted, result.Status)
	assert.Len(t, e.chain.Submissions(), submissions)
}
