package persistence

import "github.com/Layr-Labs/cosigner-go/pkg/types"

// TrackMutator changes a track in place inside UpdateTrack.
// Returning an error aborts the update and nothing is written.
type TrackMutator func(track *types.SignatureTrack) error

// ICosignerPersistence defines the account store the signing core runs on.
// All implementations must be thread-safe; concurrent signers respond to the
// same track and UpdateTrack is the only way a stored track changes.
//
// The interface supports:
// - Account and multisig group records (save, load, list, delete with cascade)
// - Signature tracks created atomically with all of their requests
// - Atomic read-modify-write of a track and its requests
// - Lookups by request id, by requestor and by signer
// - Lifecycle management (close, health check)
type ICosignerPersistence interface {
	// Accounts

	// SaveAccount inserts or replaces an account.
	// Rejects with types.ErrImmutableGroup an update that changes the members or
	// threshold of a group that is already confirmed.
	SaveAccount(account *types.Account) error

	// LoadAccount retrieves an account by key.
	// Returns nil if the account doesn't exist, error only on storage failure.
	LoadAccount(key string) (*types.Account, error)

	// ListAccounts returns all accounts sorted by key.
	// Returns empty slice if no accounts exist, error only on storage failure.
	ListAccounts() ([]*types.Account, error)

	// DeleteAccount removes an account and every track it requested,
	// including those tracks' requests.
	// Idempotent - returns nil if the account doesn't exist.
	DeleteAccount(key string) error

	// Signature Tracks

	// CreateTrack persists a new track together with all of its requests.
	// Either everything is written or nothing is.
	// Returns types.ErrTrackExists if a track with the same id is stored.
	CreateTrack(track *types.SignatureTrack) error

	// LoadTrack retrieves a track with its requests.
	// Returns nil if the track doesn't exist, error only on storage failure.
	LoadTrack(id string) (*types.SignatureTrack, error)

	// LoadTrackByRequest retrieves the track that owns a request.
	// Returns nil if the request doesn't exist, error only on storage failure.
	LoadTrackByRequest(requestID string) (*types.SignatureTrack, error)

	// UpdateTrack loads a track, applies fn and writes the result as one atomic
	// unit. Concurrent updates of the same track are serialized: fn always sees
	// the latest committed state. Returns the track as written.
	// Returns types.ErrTrackNotFound if the track doesn't exist.
	UpdateTrack(id string, fn TrackMutator) (*types.SignatureTrack, error)

	// ListTracksByRequestor returns the tracks an account requested, oldest first.
	ListTracksByRequestor(accountKey string) ([]*types.SignatureTrack, error)

	// ListTracksBySigner returns the tracks naming an account on any request, oldest first.
	ListTracksBySigner(accountKey string) ([]*types.SignatureTrack, error)

	// DeleteTrack removes a track, its requests and its index entries.
	// Idempotent - returns nil if the track doesn't exist.
	DeleteTrack(id string) error

	// Lifecycle Management

	// Close cleanly shuts down the persistence layer.
	// Idempotent - safe to call multiple times.
	// After Close(), all other operations should return errors.
	Close() error

	// HealthCheck verifies the persistence layer is operational.
	// Returns nil if healthy, error describing the problem if not.
	HealthCheck() error
}
