package badger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Layr-Labs/cosigner-go/pkg/persistence"
	"github.com/Layr-Labs/cosigner-go/pkg/types"
	badgerdb "github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

// Key prefixes for namespacing
const (
	keyPrefixAccount   = "account:"
	keyPrefixTrack     = "track:"
	keyPrefixRequest   = "request:"   // request id -> track id
	keyPrefixRequestor = "requestor:" // requestor:<account>:<track id> -> empty
	keyPrefixSigner    = "signer:"    // signer:<account>:<track id> -> empty
	keySchemaVersion   = "metadata:schema_version"
	currentSchemaVersion = "v1"

	// maxConflictRetries bounds optimistic retries of a conflicting track update
	maxConflictRetries = 16
)

// BadgerPersistence is a production-ready persistence implementation using Badger.
// Provides durable, disk-based storage with ACID guarantees. Track updates run
// inside one Badger transaction; conflicting concurrent updates are retried.
type BadgerPersistence struct {
	db       *badgerdb.DB
	logger   *zap.Logger
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

// NewBadgerPersistence creates a new Badger-backed persistence layer.
// The database is opened at the specified path with SyncWrites enabled for durability.
// A background goroutine is started for garbage collection.
func NewBadgerPersistence(dataPath string, logger *zap.Logger) (*BadgerPersistence, error) {
	absPath, err := filepath.Abs(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	opts := badgerdb.DefaultOptions(absPath)
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.SyncWrites = true
	opts.CompactL0OnClose = true
	opts.NumVersionsToKeep = 1

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", absPath, err)
	}

	bp := &BadgerPersistence{
		db:     db,
		logger: logger,
	}

	if err := bp.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bp.gcCancel = cancel
	bp.gcWg.Add(1)
	go bp.runGC(ctx)

	logger.Sugar().Infow("Badger persistence initialized", "path", absPath)

	return bp, nil
}

// initSchema initializes or validates the schema version
func (b *BadgerPersistence) initSchema() error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		existing, found, err := getValue(txn, keySchemaVersion)
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}
		if !found {
			return txn.Set([]byte(keySchemaVersion), []byte(currentSchemaVersion))
		}
		if string(existing) != currentSchemaVersion {
			return fmt.Errorf("unsupported schema version: %s (expected: %s)", existing, currentSchemaVersion)
		}
		return nil
	})
}

// runGC runs periodic garbage collection in the background
func (b *BadgerPersistence) runGC(ctx context.Context) {
	defer b.gcWg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := b.db.RunValueLogGC(0.5)
			if err != nil && err != badgerdb.ErrNoRewrite {
				b.logger.Sugar().Warnw("Badger GC error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// getValue reads a key inside a transaction, copying the value out
func getValue(txn *badgerdb.Txn, key string) ([]byte, bool, error) {
	item, err := txn.Get([]byte(key))
	if err == badgerdb.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	data, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// keysWithPrefix lists the keys under a prefix without reading values
func keysWithPrefix(txn *badgerdb.Txn, prefix string) []string {
	opts := badgerdb.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	opts.PrefetchValues = false

	it := txn.NewIterator(opts)
	defer it.Close()

	var keys []string
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Item().KeyCopy(nil)))
	}
	return keys
}

func accountKey(key string) string { return keyPrefixAccount + key }
func trackKey(id string) string     { return keyPrefixTrack + id }
func requestKey(id string) string   { return keyPrefixRequest + id }

func requestorIndexKey(account, trackID string) string {
	return keyPrefixRequestor + account + types.AccountKeySeparator + trackID
}

func signerIndexKey(account, trackID string) string {
	return keyPrefixSigner + account + types.AccountKeySeparator + trackID
}

// SaveAccount inserts or replaces an account
func (b *BadgerPersistence) SaveAccount(account *types.Account) error {
	if account == nil {
		return fmt.Errorf("cannot save nil Account")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	data, err := persistence.MarshalAccount(account)
	if err != nil {
		return fmt.Errorf("failed to marshal Account: %w", err)
	}

	return b.withConflictRetry(func(txn *badgerdb.Txn) error {
		existingData, found, err := getValue(txn, accountKey(account.Key))
		if err != nil {
			return err
		}
		var existing *types.Account
		if found {
			if existing, err = persistence.UnmarshalAccount(existingData); err != nil {
				return err
			}
		}
		if err := persistence.PrepareAccount(existing, account); err != nil {
			return err
		}
		return txn.Set([]byte(accountKey(account.Key)), data)
	})
}

// LoadAccount retrieves an account by key
func (b *BadgerPersistence) LoadAccount(key string) (*types.Account, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persistence.ErrClosed
	}

	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		var err error
		data, _, err = getValue(txn, accountKey(key))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load Account: %w", err)
	}
	if data == nil {
		return nil, nil
	}

	return persistence.UnmarshalAccount(data)
}

// ListAccounts returns all accounts sorted by key
func (b *BadgerPersistence) ListAccounts() ([]*types.Account, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persistence.ErrClosed
	}

	accounts := make([]*types.Account, 0)
	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixAccount)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			data, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("failed to read value: %w", err)
			}

			account, err := persistence.UnmarshalAccount(data)
			if err != nil {
				b.logger.Sugar().Warnw("Failed to unmarshal Account, skipping",
					"key", string(item.Key()), "error", err)
				continue
			}
			accounts = append(accounts, account)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list Accounts: %w", err)
	}

	persistence.SortAccounts(accounts)
	return accounts, nil
}

// DeleteAccount removes an account and every track it requested
func (b *BadgerPersistence) DeleteAccount(key string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	return b.withConflictRetry(func(txn *badgerdb.Txn) error {
		prefix := keyPrefixRequestor + key + types.AccountKeySeparator
		for _, indexKey := range keysWithPrefix(txn, prefix) {
			if err := deleteTrackInTxn(txn, strings.TrimPrefix(indexKey, prefix)); err != nil {
				return err
			}
		}
		return txn.Delete([]byte(accountKey(key)))
	})
}

// CreateTrack persists a track, its requests and its index entries in one transaction
func (b *BadgerPersistence) CreateTrack(track *types.SignatureTrack) error {
	if err := persistence.ValidateNewTrack(track); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	data, err := persistence.MarshalTrack(track)
	if err != nil {
		return fmt.Errorf("failed to marshal SignatureTrack: %w", err)
	}

	return b.withConflictRetry(func(txn *badgerdb.Txn) error {
		if _, found, err := getValue(txn, trackKey(track.ID)); err != nil {
			return err
		} else if found {
			return fmt.Errorf("%w: %s", types.ErrTrackExists, track.ID)
		}

		if err := txn.Set([]byte(trackKey(track.ID)), data); err != nil {
			return err
		}
		if err := txn.Set([]byte(requestorIndexKey(track.RequestorKey, track.ID)), nil); err != nil {
			return err
		}
		for _, r := range track.Requests {
			if _, found, err := getValue(txn, requestKey(r.ID)); err != nil {
				return err
			} else if found {
				return fmt.Errorf("request %s already belongs to another track", r.ID)
			}
			if err := txn.Set([]byte(requestKey(r.ID)), []byte(track.ID)); err != nil {
				return err
			}
			if err := txn.Set([]byte(signerIndexKey(r.SignerKey, track.ID)), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadTrack retrieves a track with its requests
func (b *BadgerPersistence) LoadTrack(id string) (*types.SignatureTrack, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persistence.ErrClosed
	}

	var track *types.SignatureTrack
	err := b.db.View(func(txn *badgerdb.Txn) error {
		var err error
		track, err = loadTrackInTxn(txn, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load SignatureTrack: %w", err)
	}
	return track, nil
}

// LoadTrackByRequest retrieves the track owning a request
func (b *BadgerPersistence) LoadTrackByRequest(requestID string) (*types.SignatureTrack, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persistence.ErrClosed
	}

	var track *types.SignatureTrack
	err := b.db.View(func(txn *badgerdb.Txn) error {
		trackID, found, err := getValue(txn, requestKey(requestID))
		if err != nil || !found {
			return err
		}
		track, err = loadTrackInTxn(txn, string(trackID))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load SignatureTrack by request: %w", err)
	}
	return track, nil
}

// UpdateTrack reads, mutates and writes a track inside one Badger transaction
func (b *BadgerPersistence) UpdateTrack(id string, fn persistence.TrackMutator) (*types.SignatureTrack, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persistence.ErrClosed
	}

	var updated *types.SignatureTrack
	err := b.withConflictRetry(func(txn *badgerdb.Txn) error {
		current, err := loadTrackInTxn(txn, id)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("%w: %s", types.ErrTrackNotFound, id)
		}

		next, err := persistence.ApplyTrackMutation(current, fn)
		if err != nil {
			return err
		}
		data, err := persistence.MarshalTrack(next)
		if err != nil {
			return err
		}
		if err := txn.Set([]byte(trackKey(id)), data); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListTracksByRequestor returns the tracks an account requested
func (b *BadgerPersistence) ListTracksByRequestor(accountKey string) ([]*types.SignatureTrack, error) {
	return b.listIndexedTracks(keyPrefixRequestor + accountKey + types.AccountKeySeparator)
}

// ListTracksBySigner returns the tracks naming an account as signer
func (b *BadgerPersistence) ListTracksBySigner(accountKey string) ([]*types.SignatureTrack, error) {
	return b.listIndexedTracks(keyPrefixSigner + accountKey + types.AccountKeySeparator)
}

func (b *BadgerPersistence) listIndexedTracks(prefix string) ([]*types.SignatureTrack, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persistence.ErrClosed
	}

	tracks := make([]*types.SignatureTrack, 0)
	err := b.db.View(func(txn *badgerdb.Txn) error {
		for _, indexKey := range keysWithPrefix(txn, prefix) {
			track, err := loadTrackInTxn(txn, strings.TrimPrefix(indexKey, prefix))
			if err != nil {
				return err
			}
			if track != nil {
				tracks = append(tracks, track)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list SignatureTracks: %w", err)
	}

	persistence.SortTracks(tracks)
	return tracks, nil
}

// DeleteTrack removes a track, its requests and its index entries
func (b *BadgerPersistence) DeleteTrack(id string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	return b.withConflictRetry(func(txn *badgerdb.Txn) error {
		return deleteTrackInTxn(txn, id)
	})
}

func loadTrackInTxn(txn *badgerdb.Txn, id string) (*types.SignatureTrack, error) {
	data, found, err := getValue(txn, trackKey(id))
	if err != nil || !found {
		return nil, err
	}
	return persistence.UnmarshalTrack(data)
}

func deleteTrackInTxn(txn *badgerdb.Txn, id string) error {
	track, err := loadTrackInTxn(txn, id)
	if err != nil || track == nil {
		return err
	}

	keys := []string{trackKey(id), requestorIndexKey(track.RequestorKey, id)}
	for _, r := range track.Requests {
		keys = append(keys, requestKey(r.ID), signerIndexKey(r.SignerKey, id))
	}
	for _, k := range keys {
		if err := txn.Delete([]byte(k)); err != nil {
			return err
		}
	}
	return nil
}

// withConflictRetry runs fn in a read-write transaction, retrying when a
// concurrent transaction committed a key fn read.
func (b *BadgerPersistence) withConflictRetry(fn func(txn *badgerdb.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = b.db.Update(fn)
		if !errors.Is(err, badgerdb.ErrConflict) {
			return err
		}
		b.logger.Sugar().Debugw("Badger transaction conflict, retrying", "attempt", attempt+1)
	}
	return fmt.Errorf("transaction kept conflicting after %d attempts: %w", maxConflictRetries, err)
}

// Close shuts down the persistence layer
func (b *BadgerPersistence) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if b.gcCancel != nil {
		b.gcCancel()
	}
	b.gcWg.Wait()

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}

	b.logger.Sugar().Info("Badger persistence closed")
	return nil
}

// HealthCheck verifies the persistence layer is operational
func (b *BadgerPersistence) HealthCheck() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	return b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get([]byte(keySchemaVersion))
		if err == badgerdb.ErrKeyNotFound {
			return fmt.Errorf("schema version not found - database may be corrupted")
		}
		return err
	})
}
