package finalizer_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Layr-Labs/cosigner-go/pkg/crypto"
	"github.com/Layr-Labs/cosigner-go/pkg/directory"
	"github.com/Layr-Labs/cosigner-go/pkg/finalizer"
	"github.com/Layr-Labs/cosigner-go/pkg/logger"
	"github.com/Layr-Labs/cosigner-go/pkg/persistence"
	"github.com/Layr-Labs/cosigner-go/pkg/persistence/memory"
	"github.com/Layr-Labs/cosigner-go/pkg/testutil"
	"github.com/Layr-Labs/cosigner-go/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    persistence.ICosignerPersistence
	accounts *testutil.Accounts
	chain    *testutil.MockChainClient
	notifier *testutil.RecordingNotifier
	fin      *finalizer.Finalizer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	store := memory.NewMemoryPersistence()
	t.Cleanup(func() { _ = store.Close() })

	accounts := testutil.NewAccounts(store)
	accounts.Individual(t, "alice", crypto.SchemeEd25519)
	accounts.Individual(t, "bob", crypto.SchemeSecp256k1)
	accounts.Individual(t, "carol", crypto.SchemeSecp256r1)
	accounts.Group(t, "treasury", 2,
		testutil.Weighted("alice", 1),
		testutil.Weighted("bob", 1),
		testutil.Weighted("carol", 1),
	)

	chainClient := testutil.NewMockChainClient()
	recorder := testutil.NewRecordingNotifier()
	return &fixture{
		store:    store,
		accounts: accounts,
		chain:    chainClient,
		notifier: recorder,
		fin: finalizer.NewFinalizer(store, directory.NewDirectory(store, testLogger), chainClient, recorder,
			finalizer.Config{ChainTimeout: time.Second}, testLogger),
	}
}

func (f *fixture) request(t *testing.T, id, signer string, role types.SigningRole, signed bool) *types.SignatureRequest {
	t.Helper()

	account, err := f.store.LoadAccount(signer)
	require.NoError(t, err)
	r := &types.SignatureRequest{
		ID:              id,
		TrackID:         "track-1",
		SignerKey:       signer,
		SignerPublicKey: account.PublicKey,
		Role:            role,
		Status:          types.SignerPending,
	}
	if signed {
		r.Status = types.SignerSigned
		r.Signature = f.accounts.Sign(t, signer, testutil.TestTxBytes)
	}
	return r
}

// signedTrack stores a signed track: alice sends, treasury sponsors with bob and carol
func (f *fixture) signedTrack(t *testing.T) *types.SignatureTrack {
	t.Helper()

	now := time.Now().UTC()
	track := &types.SignatureTrack{
		ID:           "track-1",
		RequestorKey: "alice",
		TxBytes:      testutil.TestTxBytes,
		Sender:       types.Individual("alice"),
		Sponsor:      types.MultisigGroup("treasury", "bob", "carol"),
		Status:       types.StatusSigned,
		CreatedAt:    now,
		UpdatedAt:    now,
		Requests: []*types.SignatureRequest{
			f.request(t, "req-1", "alice", types.RoleSender, true),
			f.request(t, "req-2", "bob", types.RoleSponsor, true),
			f.request(t, "req-3", "carol", types.RoleSponsor, true),
		},
	}
	require.NoError(t, f.store.CreateTrack(track))
	return track
}

func TestGatherSignatures(t *testing.T) {
	f := newFixture(t)
	track := f.signedTrack(t)

	signatures, err := f.fin.GatherSignatures(track)
	require.NoError(t, err)
	require.Len(t, signatures, 2)
	assert.Equal(t, track.Requests[0].Signature, signatures[0])
	assert.NotEqual(t, track.Requests[1].Signature, signatures[1])

	// sender only
	track.Sponsor = nil
	track.Requests = track.Requests[:1]
	signatures, err = f.fin.GatherSignatures(track)
	require.NoError(t, err)
	assert.Equal(t, []string{track.Requests[0].Signature}, signatures)
}

func TestGatherSignatures_UnsignedSender(t *testing.T) {
	f := newFixture(t)
	track := f.signedTrack(t)
	track.Requests[0].Status = types.SignerDenied
	track.Requests[0].Signature = ""

	_, err := f.fin.GatherSignatures(track)
	assert.ErrorContains(t, err, "sender")
}

func TestFinalize_Executes(t *testing.T) {
	f := newFixture(t)
	f.signedTrack(t)

	track, err := f.fin.Finalize(context.Background(), "track-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusSignedAndExecuted, track.Status)
	require.NotNil(t, track.TransactionPassed)
	assert.True(t, *track.TransactionPassed)
	assert.Contains(t, track.TransactionResponse, "digest-1")

	stored, err := f.store.LoadTrack("track-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusSignedAndExecuted, stored.Status)
	assert.Len(t, f.notifier.Resolved(), 1)
}

func TestFinalize_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.signedTrack(t)

	first, err := f.fin.Finalize(context.Background(), "track-1")
	require.NoError(t, err)
	second, err := f.fin.Finalize(context.Background(), "track-1")
	require.NoError(t, err)

	assert.Equal(t, first.TransactionResponse, second.TransactionResponse)
	assert.Len(t, f.chain.Submissions(), 1)
	assert.Len(t, f.notifier.Resolved(), 1)
}

func TestFinalize_IgnoresUnsignedTrack(t *testing.T) {
	f := newFixture(t)
	track := f.signedTrack(t)
	_, err := f.store.UpdateTrack(track.ID, func(tr *types.SignatureTrack) error {
		tr.Status = types.StatusPartiallyCompleted
		return nil
	})
	require.NoError(t, err)

	got, err := f.fin.Finalize(context.Background(), track.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPartiallyCompleted, got.Status)
	assert.Nil(t, got.TransactionPassed)
	assert.Empty(t, f.chain.Submissions())

	_, err = f.fin.Finalize(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrTrackNotFound)
}

func TestFinalize_RecordsAggregationFailure(t *testing.T) {
	f := newFixture(t)
	track := f.signedTrack(t)
	// carol's slot carries bob's secp256k1 signature, which cannot match her r1 key
	_, err := f.store.UpdateTrack(track.ID, func(tr *types.SignatureTrack) error {
		tr.Requests[2].Signature = tr.Requests[1].Signature
		return nil
	})
	require.NoError(t, err)

	got, err := f.fin.Finalize(context.Background(), track.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSignedAndExecuted, got.Status)
	assert.False(t, *got.TransactionPassed)
	assert.Contains(t, got.TransactionResponse, "sponsor")
	assert.Empty(t, f.chain.Submissions())
}

func TestFinalize_ChainEffectsFailure(t *testing.T) {
	f := newFixture(t)
	f.signedTrack(t)
	f.chain.FailWith("MoveAbort")

	got, err := f.fin.Finalize(context.Background(), "track-1")
	require.NoError(t, err)
	assert.False(t, *got.TransactionPassed)
	assert.Equal(t, "transaction digest-1 failed: MoveAbort", got.TransactionResponse)
}

func TestRecordAndAnnounceDenial(t *testing.T) {
	f := newFixture(t)
	track := &types.SignatureTrack{ID: "track-2", RequestorKey: "alice", Status: types.StatusDenied}

	finalizer.RecordDenial(track)
	require.NotNil(t, track.TransactionPassed)
	assert.False(t, *track.TransactionPassed)
	assert.Equal(t, finalizer.DenialResponse, track.TransactionResponse)

	f.fin.AnnounceDenial(context.Background(), track)
	require.Len(t, f.notifier.Resolved(), 1)
	assert.Equal(t, "track-2", f.notifier.Resolved()[0].ID)
}

func TestFinalize_ConcurrentCallsExecuteOnce(t *testing.T) {
	f := newFixture(t)
	track := f.signedTrack(t)

	var wg sync.WaitGroup
	results := make([]*types.SignatureTrack, 8)
	errs := make([]error, len(results))
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.fin.Finalize(context.Background(), track.ID)
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, types.StatusSignedAndExecuted, results[i].Status)
	}
	assert.Len(t, f.chain.Submissions(), 1)
	assert.Len(t, f.notifier.Resolved(), 1)
}
