package testutil

import (
	"testing"
	"time"

	"github.com/Layr-Labs/cosigner-go/pkg/crypto"
	"github.com/Layr-Labs/cosigner-go/pkg/persistence"
	"github.com/Layr-Labs/cosigner-go/pkg/types"
	"github.com/stretchr/testify/require"
)

// TestTxBytes is a base64 payload used as transaction bytes throughout the tests
const TestTxBytes = "AAACAAgA6HZIFwAAAAAgmx3v0KqAO9QwKFGhbUH6mAqbsC3D5jpXfl5Pqs1EEVE="

// GroupMember names a member account and its weight when seeding a group
type GroupMember struct {
	Key    string
	Weight uint8
}

// Weighted is shorthand for a GroupMember
func Weighted(key string, weight uint8) GroupMember {
	return GroupMember{Key: key, Weight: weight}
}

// Accounts seeds a store with accounts backed by real key pairs so that
// signatures produced in tests verify against the stored public keys.
type Accounts struct {
	Store persistence.ICosignerPersistence
	Keys  map[string]*KeyPair
}

// NewAccounts wraps a store for seeding
func NewAccounts(store persistence.ICosignerPersistence) *Accounts {
	return &Accounts{Store: store, Keys: make(map[string]*KeyPair)}
}

// Individual saves an active individual account with a fresh key of the given scheme
func (a *Accounts) Individual(t *testing.T, key string, scheme crypto.SignatureScheme) *types.Account {
	t.Helper()

	kp := NewKeyPair(t, scheme)
	account := &types.Account{
		Key:       key,
		UserName:  key,
		Role:      types.RoleIndividual,
		Status:    types.AccountStatusActive,
		PublicKey: kp.PublicKey.Base64(),
		Address:   kp.PublicKey.Address(),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, a.Store.SaveAccount(account))
	a.Keys[key] = kp
	return account
}

// Group saves a confirmed multisig group over already seeded members.
// Member positions follow argument order.
func (a *Accounts) Group(t *testing.T, key string, threshold uint16, members ...GroupMember) *types.Account {
	t.Helper()
	return a.GroupWithStatus(t, key, types.MultisigStatusConfirmed, threshold, members...)
}

// GroupWithStatus saves a multisig group in the given status
func (a *Accounts) GroupWithStatus(t *testing.T, key string, status types.MultisigStatus, threshold uint16, members ...GroupMember) *types.Account {
	t.Helper()

	cfg := &types.MultisigConfig{Threshold: threshold, Status: status}
	for i, m := range members {
		cfg.Members = append(cfg.Members, types.MultisigMember{AccountKey: m.Key, Weight: m.Weight, Position: i})
	}
	group := &types.Account{
		Key:       key,
		UserName:  key,
		Role:      types.RoleMultisigGroup,
		Status:    types.AccountStatusActive,
		Address:   crypto.HashToAddress([]byte(key)),
		Multisig:  cfg,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, a.Store.SaveAccount(group))
	return group
}

// Lock marks a seeded account as locked
func (a *Accounts) Lock(t *testing.T, key string) {
	t.Helper()

	account, err := a.Store.LoadAccount(key)
	require.NoError(t, err)
	require.NotNil(t, account)
	account.Status = types.AccountStatusLocked
	require.NoError(t, a.Store.SaveAccount(account))
}

// Sign produces the account's serialized signature over base64 transaction bytes
func (a *Accounts) Sign(t *testing.T, key string, txBytesB64 string) string {
	t.Helper()

	kp, ok := a.Keys[key]
	require.True(t, ok, "no key pair seeded for %s", key)
	txBytes, err := crypto.DecodeTxBytes(txBytesB64)
	require.NoError(t, err)
	return kp.SignTransaction(t, txBytes)
}
