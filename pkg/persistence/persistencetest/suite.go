// Package persistencetest holds the behaviour every ICosignerPersistence
// backend must share. Backend packages call Run from their own tests.
package persistencetest

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Layr-Labs/cosigner-go/pkg/persistence"
	"github.com/Layr-Labs/cosigner-go/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store. Run closes it.
type Factory func(t *testing.T) persistence.ICosignerPersistence

// Run executes the shared backend behaviour against stores made by newStore
func Run(t *testing.T, newStore Factory) {
	cases := []struct {
		name string
		fn   func(t *testing.T, store persistence.ICosignerPersistence)
	}{
		{"SaveAndLoadAccount", testSaveAndLoadAccount},
		{"LoadAccount_NotFound", testLoadAccountNotFound},
		{"SaveAccount_Invalid", testSaveAccountInvalid},
		{"ConfirmedGroupIsImmutable", testConfirmedGroupIsImmutable},
		{"ListAccounts", testListAccounts},
		{"CreateAndLoadTrack", testCreateAndLoadTrack},
		{"CreateTrack_Duplicate", testCreateTrackDuplicate},
		{"CreateTrack_Invalid", testCreateTrackInvalid},
		{"LoadTrack_NotFound", testLoadTrackNotFound},
		{"UpdateTrack", testUpdateTrack},
		{"UpdateTrack_AbortWritesNothing", testUpdateTrackAbort},
		{"UpdateTrack_NotFound", testUpdateTrackNotFound},
		{"UpdateTrack_Concurrent", testUpdateTrackConcurrent},
		{"ListTracks", testListTracks},
		{"DeleteTrack", testDeleteTrack},
		{"DeleteAccount_Cascades", testDeleteAccountCascades},
		{"Close", testClose},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newStore(t)
			defer func() { _ = store.Close() }()
			tc.fn(t, store)
		})
	}
}

// Individual returns a valid individual account
func Individual(key string) *types.Account {
	return &types.Account{
		Key:       key,
		UserName:  key,
		Role:      types.RoleIndividual,
		Status:    types.AccountStatusActive,
		PublicKey: "AA" + key,
		Address:   "0x" + key,
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Group returns a valid group of equally weighted members
func Group(key string, status types.MultisigStatus, threshold uint16, members ...string) *types.Account {
	ms := &types.MultisigConfig{Threshold: threshold, Status: status}
	for i, m := range members {
		ms.Members = append(ms.Members, types.MultisigMember{AccountKey: m, Weight: 1, Position: i})
	}
	return &types.Account{
		Key:       key,
		Role:      types.RoleMultisigGroup,
		Status:    types.AccountStatusActive,
		Address:   "0x" + key,
		Multisig:  ms,
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Track returns a pending track requested by requestor with one sender request per signer
func Track(id, requestor string, created time.Time, signers ...string) *types.SignatureTrack {
	track := &types.SignatureTrack{
		ID:           id,
		RequestorKey: requestor,
		TxBytes:      "dHhieXRlcw==",
		Status:       types.StatusPendingSigners,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
	for i, s := range signers {
		track.Requests = append(track.Requests, &types.SignatureRequest{
			ID:              fmt.Sprintf("%s-req-%d", id, i),
			TrackID:         id,
			SignerKey:       s,
			SignerPublicKey: "AA" + s,
			Role:            types.RoleSender,
			Status:          types.SignerPending,
		})
	}
	return track
}

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testSaveAndLoadAccount(t *testing.T, store persistence.ICosignerPersistence) {
	alice := Individual("alice")
	require.NoError(t, store.SaveAccount(alice))

	loaded, err := store.LoadAccount("alice")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, alice.Key, loaded.Key)
	assert.Equal(t, alice.PublicKey, loaded.PublicKey)
	assert.Equal(t, alice.Address, loaded.Address)
	assert.Equal(t, types.RoleIndividual, loaded.Role)

	group := Group("treasury", types.MultisigStatusConfirmed, 2, "alice", "bob", "carol")
	require.NoError(t, store.SaveAccount(group))

	loadedGroup, err := store.LoadAccount("treasury")
	require.NoError(t, err)
	require.NotNil(t, loadedGroup)
	require.NotNil(t, loadedGroup.Multisig)
	assert.Equal(t, uint16(2), loadedGroup.Multisig.Threshold)
	assert.Equal(t, types.MultisigStatusConfirmed, loadedGroup.Multisig.Status)
	assert.Equal(t, group.Multisig.OrderedMembers(), loadedGroup.Multisig.OrderedMembers())

	// replacing an individual is allowed
	alice.Status = types.AccountStatusLocked
	require.NoError(t, store.SaveAccount(alice))
	loaded, err = store.LoadAccount("alice")
	require.NoError(t, err)
	assert.Equal(t, types.AccountStatusLocked, loaded.Status)
}

func testLoadAccountNotFound(t *testing.T, store persistence.ICosignerPersistence) {
	loaded, err := store.LoadAccount("nobody")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func testSaveAccountInvalid(t *testing.T, store persistence.ICosignerPersistence) {
	assert.Error(t, store.SaveAccount(nil))

	broken := Group("broken", types.MultisigStatusConfirmed, 9, "alice")
	assert.Error(t, store.SaveAccount(broken))

	loaded, err := store.LoadAccount("broken")
	require.NoError(t, err)
	assert.Nil(t, loaded)

	// keys that would collide in index prefixes are refused
	assert.Error(t, store.SaveAccount(Individual("alice"+types.AccountKeySeparator+"bob")))
}

func testConfirmedGroupIsImmutable(t *testing.T, store persistence.ICosignerPersistence) {
	pending := Group("treasury", types.MultisigStatusPendingAttestation, 2, "alice", "bob", "carol")
	require.NoError(t, store.SaveAccount(pending))

	// still pending: threshold may change, then confirm
	pending.Multisig.Threshold = 3
	require.NoError(t, store.SaveAccount(pending))
	pending.Multisig.Status = types.MultisigStatusConfirmed
	require.NoError(t, store.SaveAccount(pending))

	changed := pending.Clone()
	changed.Multisig.Threshold = 1
	err := store.SaveAccount(changed)
	assert.True(t, errors.Is(err, types.ErrImmutableGroup))

	reweighted := pending.Clone()
	reweighted.Multisig.Members[0].Weight = 3
	err = store.SaveAccount(reweighted)
	assert.True(t, errors.Is(err, types.ErrImmutableGroup))

	loaded, err := store.LoadAccount("treasury")
	require.NoError(t, err)
	assert.Equal(t, uint16(3), loaded.Multisig.Threshold)
	assert.Equal(t, uint8(1), loaded.Multisig.OrderedMembers()[0].Weight)
}

func testListAccounts(t *testing.T, store persistence.ICosignerPersistence) {
	empty, err := store.ListAccounts()
	require.NoError(t, err)
	assert.Empty(t, empty)

	for _, key := range []string{"carol", "alice", "bob"} {
		require.NoError(t, store.SaveAccount(Individual(key)))
	}

	accounts, err := store.ListAccounts()
	require.NoError(t, err)
	require.Len(t, accounts, 3)
	assert.Equal(t, "alice", accounts[0].Key)
	assert.Equal(t, "bob", accounts[1].Key)
	assert.Equal(t, "carol", accounts[2].Key)
}

func testCreateAndLoadTrack(t *testing.T, store persistence.ICosignerPersistence) {
	track := Track("t1", "alice", baseTime, "alice", "bob")
	track.Sponsor = types.MultisigGroup("treasury", "carol")
	track.Requests = append(track.Requests, &types.SignatureRequest{
		ID: "t1-sponsor", TrackID: "t1", SignerKey: "carol", SignerPublicKey: "AAcarol",
		Role: types.RoleSponsor, Status: types.SignerPending,
	})
	require.NoError(t, store.CreateTrack(track))

	loaded, err := store.LoadTrack("t1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "alice", loaded.RequestorKey)
	assert.Equal(t, types.StatusPendingSigners, loaded.Status)
	assert.Nil(t, loaded.TransactionPassed)
	require.NotNil(t, loaded.Sponsor)
	assert.True(t, loaded.Sponsor.Multisig)
	assert.Equal(t, []string{"carol"}, loaded.Sponsor.Members)
	assert.Nil(t, loaded.Sender)
	require.Len(t, loaded.Requests, 3)
	assert.Equal(t, "t1-req-0", loaded.Requests[0].ID)
	assert.Equal(t, "t1-req-1", loaded.Requests[1].ID)
	assert.Equal(t, "t1-sponsor", loaded.Requests[2].ID)
	assert.Equal(t, types.RoleSponsor, loaded.Requests[2].Role)
	assert.True(t, loaded.CreatedAt.Equal(baseTime))

	byRequest, err := store.LoadTrackByRequest("t1-req-1")
	require.NoError(t, err)
	require.NotNil(t, byRequest)
	assert.Equal(t, "t1", byRequest.ID)

	missing, err := store.LoadTrackByRequest("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	// returned values are copies
	loaded.Requests[0].Status = types.SignerSigned
	again, err := store.LoadTrack("t1")
	require.NoError(t, err)
	assert.Equal(t, types.SignerPending, again.Requests[0].Status)
}

func testCreateTrackDuplicate(t *testing.T, store persistence.ICosignerPersistence) {
	require.NoError(t, store.CreateTrack(Track("t1", "alice", baseTime, "alice")))

	err := store.CreateTrack(Track("t1", "alice", baseTime, "bob"))
	assert.True(t, errors.Is(err, types.ErrTrackExists))

	loaded, err := store.LoadTrack("t1")
	require.NoError(t, err)
	assert.Equal(t, "alice", loaded.Requests[0].SignerKey)
}

func testCreateTrackInvalid(t *testing.T, store persistence.ICosignerPersistence) {
	assert.Error(t, store.CreateTrack(nil))
	assert.Error(t, store.CreateTrack(Track("t1", "alice", baseTime)))

	foreign := Track("t2", "alice", baseTime, "alice")
	foreign.Requests[0].TrackID = "other"
	assert.Error(t, store.CreateTrack(foreign))

	for _, id := range []string{"t1", "t2"} {
		loaded, err := store.LoadTrack(id)
		require.NoError(t, err)
		assert.Nil(t, loaded)
	}
}

func testLoadTrackNotFound(t *testing.T, store persistence.ICosignerPersistence) {
	loaded, err := store.LoadTrack("missing")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func testUpdateTrack(t *testing.T, store persistence.ICosignerPersistence) {
	require.NoError(t, store.CreateTrack(Track("t1", "alice", baseTime, "alice")))

	passed := true
	updated, err := store.UpdateTrack("t1", func(track *types.SignatureTrack) error {
		if err := track.Requests[0].Approve("c2ln", baseTime); err != nil {
			return err
		}
		track.Status = types.StatusSignedAndExecuted
		track.TransactionPassed = &passed
		track.TransactionResponse = `{"digest":"D"}`
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusSignedAndExecuted, updated.Status)

	loaded, err := store.LoadTrack("t1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusSignedAndExecuted, loaded.Status)
	require.NotNil(t, loaded.TransactionPassed)
	assert.True(t, *loaded.TransactionPassed)
	assert.Equal(t, `{"digest":"D"}`, loaded.TransactionResponse)
	assert.Equal(t, types.SignerSigned, loaded.Requests[0].Status)
	assert.Equal(t, "c2ln", loaded.Requests[0].Signature)
}

func testUpdateTrackAbort(t *testing.T, store persistence.ICosignerPersistence) {
	require.NoError(t, store.CreateTrack(Track("t1", "alice", baseTime, "alice", "bob")))

	boom := errors.New("boom")
	_, err := store.UpdateTrack("t1", func(track *types.SignatureTrack) error {
		track.Requests[0].Status = types.SignerDenied
		track.Status = types.StatusPartiallyCompleted
		return boom
	})
	assert.ErrorIs(t, err, boom)

	loaded, err := store.LoadTrack("t1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPendingSigners, loaded.Status)
	assert.Equal(t, types.SignerPending, loaded.Requests[0].Status)
}

func testUpdateTrackNotFound(t *testing.T, store persistence.ICosignerPersistence) {
	_, err := store.UpdateTrack("missing", func(track *types.SignatureTrack) error { return nil })
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

// testUpdateTrackConcurrent has every signer resolve its own request at once.
// A lost update would leave a request pending.
func testUpdateTrackConcurrent(t *testing.T, store persistence.ICosignerPersistence) {
	signers := []string{"s0", "s1", "s2", "s3", "s4", "s5", "s6", "s7"}
	require.NoError(t, store.CreateTrack(Track("t1", "alice", baseTime, signers...)))

	var wg sync.WaitGroup
	errs := make(chan error, len(signers))
	for i := range signers {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, err := store.UpdateTrack("t1", func(track *types.SignatureTrack) error {
				return track.Requests[idx].Approve(fmt.Sprintf("sig-%d", idx), baseTime)
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	loaded, err := store.LoadTrack("t1")
	require.NoError(t, err)
	for i, r := range loaded.Requests {
		assert.Equal(t, types.SignerSigned, r.Status, "request %d", i)
		assert.Equal(t, fmt.Sprintf("sig-%d", i), r.Signature)
	}
}

func testListTracks(t *testing.T, store persistence.ICosignerPersistence) {
	require.NoError(t, store.CreateTrack(Track("t2", "alice", baseTime.Add(time.Minute), "bob")))
	require.NoError(t, store.CreateTrack(Track("t1", "alice", baseTime, "alice", "carol")))
	require.NoError(t, store.CreateTrack(Track("t3", "bob", baseTime.Add(2*time.Minute), "carol")))

	byAlice, err := store.ListTracksByRequestor("alice")
	require.NoError(t, err)
	require.Len(t, byAlice, 2)
	assert.Equal(t, "t1", byAlice[0].ID)
	assert.Equal(t, "t2", byAlice[1].ID)

	forCarol, err := store.ListTracksBySigner("carol")
	require.NoError(t, err)
	require.Len(t, forCarol, 2)
	assert.Equal(t, "t1", forCarol[0].ID)
	assert.Equal(t, "t3", forCarol[1].ID)

	none, err := store.ListTracksBySigner("dave")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testDeleteTrack(t *testing.T, store persistence.ICosignerPersistence) {
	require.NoError(t, store.CreateTrack(Track("t1", "alice", baseTime, "alice", "bob")))

	require.NoError(t, store.DeleteTrack("t1"))
	require.NoError(t, store.DeleteTrack("t1"))

	loaded, err := store.LoadTrack("t1")
	require.NoError(t, err)
	assert.Nil(t, loaded)

	byRequest, err := store.LoadTrackByRequest("t1-req-1")
	require.NoError(t, err)
	assert.Nil(t, byRequest)

	forBob, err := store.ListTracksBySigner("bob")
	require.NoError(t, err)
	assert.Empty(t, forBob)
}

func testDeleteAccountCascades(t *testing.T, store persistence.ICosignerPersistence) {
	require.NoError(t, store.SaveAccount(Individual("alice")))
	require.NoError(t, store.SaveAccount(Individual("bob")))
	require.NoError(t, store.CreateTrack(Track("t1", "alice", baseTime, "alice", "bob")))
	require.NoError(t, store.CreateTrack(Track("t2", "bob", baseTime, "alice")))

	require.NoError(t, store.DeleteAccount("alice"))
	require.NoError(t, store.DeleteAccount("alice"))

	account, err := store.LoadAccount("alice")
	require.NoError(t, err)
	assert.Nil(t, account)

	owned, err := store.LoadTrack("t1")
	require.NoError(t, err)
	assert.Nil(t, owned, "tracks requested by the account are removed")

	byRequest, err := store.LoadTrackByRequest("t1-req-1")
	require.NoError(t, err)
	assert.Nil(t, byRequest)

	// tracks where the account only signs belong to someone else
	other, err := store.LoadTrack("t2")
	require.NoError(t, err)
	require.NotNil(t, other)
}

func testClose(t *testing.T, store persistence.ICosignerPersistence) {
	require.NoError(t, store.HealthCheck())

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	assert.Error(t, store.HealthCheck())
	assert.Error(t, store.SaveAccount(Individual("alice")))
	_, err := store.LoadTrack("t1")
	assert.Error(t, err)
}
