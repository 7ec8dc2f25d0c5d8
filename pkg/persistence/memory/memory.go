package memory

import (
	"fmt"
	"sync"

	"github.com/Layr-Labs/cosigner-go/pkg/persistence"
	"github.com/Layr-Labs/cosigner-go/pkg/types"
)

// MemoryPersistence is an in-memory implementation of ICosignerPersistence.
// This implementation is intended for TESTING and local development.
//
// All data is stored in memory and will be lost when the process exits.
// A single RWMutex serializes writers, which makes UpdateTrack atomic.
// Deep copies data to prevent external mutation.
type MemoryPersistence struct {
	mu sync.RWMutex

	// account key -> Account
	accounts map[string]*types.Account

	// track id -> SignatureTrack (with its requests)
	tracks map[string]*types.SignatureTrack

	// request id -> track id
	requestIndex map[string]string

	closed bool
}

// NewMemoryPersistence creates a new in-memory persistence layer.
// Prints a loud warning since this should only be used for testing.
func NewMemoryPersistence() *MemoryPersistence {
	fmt.Println("⚠️  WARNING: Using in-memory persistence - ALL DATA WILL BE LOST ON RESTART")
	fmt.Println("⚠️  This should ONLY be used for testing. Set COSIGNER_STORE=badger, redis or mysql for production")

	return &MemoryPersistence{
		accounts:     make(map[string]*types.Account),
		tracks:       make(map[string]*types.SignatureTrack),
		requestIndex: make(map[string]string),
	}
}

// SaveAccount inserts or replaces an account
func (m *MemoryPersistence) SaveAccount(account *types.Account) error {
	if account == nil {
		return fmt.Errorf("cannot save nil Account")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}

	if err := persistence.PrepareAccount(m.accounts[account.Key], account); err != nil {
		return err
	}

	m.accounts[account.Key] = account.Clone()
	return nil
}

// LoadAccount retrieves an account by key
func (m *MemoryPersistence) LoadAccount(key string) (*types.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	return m.accounts[key].Clone(), nil
}

// ListAccounts returns all accounts sorted by key
func (m *MemoryPersistence) ListAccounts() ([]*types.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	accounts := make([]*types.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		accounts = append(accounts, a.Clone())
	}
	persistence.SortAccounts(accounts)
	return accounts, nil
}

// DeleteAccount removes an account and the tracks it requested
func (m *MemoryPersistence) DeleteAccount(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}

	for id, track := range m.tracks {
		if track.RequestorKey == key {
			m.deleteTrackLocked(id)
		}
	}
	delete(m.accounts, key)
	return nil
}

// CreateTrack persists a new track with all of its requests
func (m *MemoryPersistence) CreateTrack(track *types.SignatureTrack) error {
	if err := persistence.ValidateNewTrack(track); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}

	if _, exists := m.tracks[track.ID]; exists {
		return fmt.Errorf("%w: %s", types.ErrTrackExists, track.ID)
	}
	for _, r := range track.Requests {
		if _, exists := m.requestIndex[r.ID]; exists {
			return fmt.Errorf("request %s already belongs to another track", r.ID)
		}
	}

	m.tracks[track.ID] = track.Clone()
	for _, r := range track.Requests {
		m.requestIndex[r.ID] = track.ID
	}
	return nil
}

// LoadTrack retrieves a track with its requests
func (m *MemoryPersistence) LoadTrack(id string) (*types.SignatureTrack, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	return m.tracks[id].Clone(), nil
}

// LoadTrackByRequest retrieves the track owning a request
func (m *MemoryPersistence) LoadTrackByRequest(requestID string) (*types.SignatureTrack, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	trackID, ok := m.requestIndex[requestID]
	if !ok {
		return nil, nil
	}
	return m.tracks[trackID].Clone(), nil
}

// UpdateTrack applies fn to a track under the store's write lock
func (m *MemoryPersistence) UpdateTrack(id string, fn persistence.TrackMutator) (*types.SignatureTrack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	current, ok := m.tracks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrTrackNotFound, id)
	}

	updated, err := persistence.ApplyTrackMutation(current, fn)
	if err != nil {
		return nil, err
	}

	m.tracks[id] = updated.Clone()
	return updated, nil
}

// ListTracksByRequestor returns the tracks an account requested
func (m *MemoryPersistence) ListTracksByRequestor(accountKey string) ([]*types.SignatureTrack, error) {
	return m.listTracks(func(t *types.SignatureTrack) bool {
		return t.RequestorKey == accountKey
	})
}

// ListTracksBySigner returns the tracks naming an account as signer
func (m *MemoryPersistence) ListTracksBySigner(accountKey string) ([]*types.SignatureTrack, error) {
	return m.listTracks(func(t *types.SignatureTrack) bool {
		return t.HasSigner(accountKey)
	})
}

func (m *MemoryPersistence) listTracks(match func(*types.SignatureTrack) bool) ([]*types.SignatureTrack, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	tracks := make([]*types.SignatureTrack, 0)
	for _, t := range m.tracks {
		if match(t) {
			tracks = append(tracks, t.Clone())
		}
	}
	persistence.SortTracks(tracks)
	return tracks, nil
}

// DeleteTrack removes a track and its requests
func (m *MemoryPersistence) DeleteTrack(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}

	m.deleteTrackLocked(id)
	return nil
}

// deleteTrackLocked requires m.mu held for writing
func (m *MemoryPersistence) deleteTrackLocked(id string) {
	track, ok := m.tracks[id]
	if !ok {
		return
	}
	for _, r := range track.Requests {
		delete(m.requestIndex, r.ID)
	}
	delete(m.tracks, id)
}

// Close marks the persistence layer as closed
func (m *MemoryPersistence) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// HealthCheck verifies the persistence layer is operational
func (m *MemoryPersistence) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return persistence.ErrClosed
	}
	return nil
}
