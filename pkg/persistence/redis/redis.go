package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Layr-Labs/cosigner-go/pkg/persistence"
	"github.com/Layr-Labs/cosigner-go/pkg/types"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Key prefixes for namespacing in Redis
const (
	keyPrefixAccount     = "cosigner:account:"
	keyPrefixTrack       = "cosigner:track:"
	keyPrefixRequest     = "cosigner:request:"   // request id -> track id
	keyPrefixRequestor   = "cosigner:requestor:" // set of track ids per requestor
	keyPrefixSigner      = "cosigner:signer:"    // set of track ids per signer
	keySchemaVersion     = "cosigner:metadata:schema_version"
	currentSchemaVersion = "v1"

	// Key set for listing operations (Redis doesn't support prefix iteration natively)
	keySetAccounts = "cosigner:accounts:index"

	// maxWatchRetries bounds optimistic retries when a watched key changed
	maxWatchRetries = 16
)

// RedisPersistence is a production-ready persistence implementation using Redis.
// Provides durable, distributed storage suitable for cloud-native deployments.
// Multi-key writes run in MULTI/EXEC under WATCH so a track and its indexes
// change together.
type RedisPersistence struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string // Custom prefix for all keys
	mu        sync.RWMutex
	closed    bool
}

// RedisConfig holds the configuration for connecting to Redis
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address string
	// Password is the optional Redis password
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is an optional custom prefix for all keys (for multi-tenant setups).
	// If set, this prefix is prepended to all keys, e.g., "myapp:" would result in
	// keys like "myapp:cosigner:track:123".
	KeyPrefix string
}

// NewRedisPersistence creates a new Redis-backed persistence layer.
func NewRedisPersistence(cfg *RedisConfig, logger *zap.Logger) (*RedisPersistence, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}

	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	rp := &RedisPersistence{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
	}

	if err := rp.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if cfg.KeyPrefix != "" {
		logger.Sugar().Infow("Redis persistence initialized", "address", cfg.Address, "db", cfg.DB, "key_prefix", cfg.KeyPrefix)
	} else {
		logger.Sugar().Infow("Redis persistence initialized", "address", cfg.Address, "db", cfg.DB)
	}

	return rp, nil
}

// prefixKey adds the custom key prefix (if configured) to a key
func (r *RedisPersistence) prefixKey(key string) string {
	if r.keyPrefix == "" {
		return key
	}
	return r.keyPrefix + key
}

func (r *RedisPersistence) accountKey(key string) string { return r.prefixKey(keyPrefixAccount + key) }
func (r *RedisPersistence) trackKey(id string) string    { return r.prefixKey(keyPrefixTrack + id) }
func (r *RedisPersistence) requestKey(id string) string  { return r.prefixKey(keyPrefixRequest + id) }
func (r *RedisPersistence) requestorKey(account string) string {
	return r.prefixKey(keyPrefixRequestor + account)
}
func (r *RedisPersistence) signerKey(account string) string {
	return r.prefixKey(keyPrefixSigner + account)
}

// initSchema initializes or validates the schema version
func (r *RedisPersistence) initSchema(ctx context.Context) error {
	schemaKey := r.prefixKey(keySchemaVersion)

	existingVersion, err := r.client.Get(ctx, schemaKey).Result()
	if err == redis.Nil {
		return r.client.Set(ctx, schemaKey, currentSchemaVersion, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if existingVersion != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
	}

	return nil
}

// watch runs fn under WATCH on keys and retries when EXEC was aborted
func (r *RedisPersistence) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	var err error
	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err = r.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		r.logger.Sugar().Debugw("Redis transaction aborted by concurrent write, retrying", "attempt", attempt+1)
	}
	return fmt.Errorf("transaction kept conflicting after %d attempts: %w", maxWatchRetries, err)
}

// getOptional returns nil data for a missing key
func getOptional(ctx context.Context, c redis.Cmdable, key string) ([]byte, error) {
	data, err := c.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return data, err
}

// SaveAccount inserts or replaces an account
func (r *RedisPersistence) SaveAccount(account *types.Account) error {
	if account == nil {
		return fmt.Errorf("cannot save nil Account")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	ctx := context.Background()

	data, err := persistence.MarshalAccount(account)
	if err != nil {
		return fmt.Errorf("failed to marshal Account: %w", err)
	}

	key := r.accountKey(account.Key)
	return r.watch(ctx, func(tx *redis.Tx) error {
		existingData, err := getOptional(ctx, tx, key)
		if err != nil {
			return fmt.Errorf("failed to load Account: %w", err)
		}
		var existing *types.Account
		if existingData != nil {
			if existing, err = persistence.UnmarshalAccount(existingData); err != nil {
				return err
			}
		}
		if err := persistence.PrepareAccount(existing, account); err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, r.prefixKey(keySetAccounts), account.Key)
			return nil
		})
		return err
	}, key)
}

// LoadAccount retrieves an account by key
func (r *RedisPersistence) LoadAccount(key string) (*types.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	data, err := getOptional(context.Background(), r.client, r.accountKey(key))
	if err != nil {
		return nil, fmt.Errorf("failed to load Account: %w", err)
	}
	if data == nil {
		return nil, nil
	}

	return persistence.UnmarshalAccount(data)
}

// ListAccounts returns all accounts sorted by key
func (r *RedisPersistence) ListAccounts() ([]*types.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	ctx := context.Background()

	keys, err := r.client.SMembers(ctx, r.prefixKey(keySetAccounts)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list Account keys: %w", err)
	}

	accounts := make([]*types.Account, 0, len(keys))
	for _, key := range keys {
		data, err := getOptional(ctx, r.client, r.accountKey(key))
		if err != nil {
			return nil, fmt.Errorf("failed to load Account %s: %w", key, err)
		}
		if data == nil {
			// Index entry without data, skip
			continue
		}

		account, err := persistence.UnmarshalAccount(data)
		if err != nil {
			r.logger.Sugar().Warnw("Failed to unmarshal Account, skipping", "key", key, "error", err)
			continue
		}
		accounts = append(accounts, account)
	}

	persistence.SortAccounts(accounts)
	return accounts, nil
}

// DeleteAccount removes an account and every track it requested
func (r *RedisPersistence) DeleteAccount(key string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	ctx := context.Background()
	requestorSet := r.requestorKey(key)

	return r.watch(ctx, func(tx *redis.Tx) error {
		trackIDs, err := tx.SMembers(ctx, requestorSet).Result()
		if err != nil {
			return fmt.Errorf("failed to list requested tracks: %w", err)
		}

		tracks := make([]*types.SignatureTrack, 0, len(trackIDs))
		for _, id := range trackIDs {
			if err := tx.Watch(ctx, r.trackKey(id)).Err(); err != nil {
				return err
			}
			track, err := r.loadTrack(ctx, tx, id)
			if err != nil {
				return err
			}
			if track != nil {
				tracks = append(tracks, track)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, track := range tracks {
				r.queueTrackDelete(ctx, pipe, track)
			}
			pipe.Del(ctx, r.accountKey(key), requestorSet)
			pipe.SRem(ctx, r.prefixKey(keySetAccounts), key)
			return nil
		})
		return err
	}, r.accountKey(key), requestorSet)
}

// CreateTrack persists a track, its requests and its index entries in one MULTI/EXEC
func (r *RedisPersistence) CreateTrack(track *types.SignatureTrack) error {
	if err := persistence.ValidateNewTrack(track); err != nil {
		return err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	ctx := context.Background()

	data, err := persistence.MarshalTrack(track)
	if err != nil {
		return fmt.Errorf("failed to marshal SignatureTrack: %w", err)
	}

	watched := []string{r.trackKey(track.ID)}
	for _, req := range track.Requests {
		watched = append(watched, r.requestKey(req.ID))
	}

	return r.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, watched...).Result()
		if err != nil {
			return fmt.Errorf("failed to check existing keys: %w", err)
		}
		if n > 0 {
			if exists, _ := tx.Exists(ctx, r.trackKey(track.ID)).Result(); exists > 0 {
				return fmt.Errorf("%w: %s", types.ErrTrackExists, track.ID)
			}
			return fmt.Errorf("track %s reuses a request id of another track", track.ID)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, r.trackKey(track.ID), data, 0)
			pipe.SAdd(ctx, r.requestorKey(track.RequestorKey), track.ID)
			for _, req := range track.Requests {
				pipe.Set(ctx, r.requestKey(req.ID), track.ID, 0)
				pipe.SAdd(ctx, r.signerKey(req.SignerKey), track.ID)
			}
			return nil
		})
		return err
	}, watched...)
}

// LoadTrack retrieves a track with its requests
func (r *RedisPersistence) LoadTrack(id string) (*types.SignatureTrack, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	return r.loadTrack(context.Background(), r.client, id)
}

// LoadTrackByRequest retrieves the track owning a request
func (r *RedisPersistence) LoadTrackByRequest(requestID string) (*types.SignatureTrack, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	ctx := context.Background()

	trackID, err := r.client.Get(ctx, r.requestKey(requestID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve request %s: %w", requestID, err)
	}
	return r.loadTrack(ctx, r.client, trackID)
}

// UpdateTrack reads, mutates and writes a track under WATCH on its key
func (r *RedisPersistence) UpdateTrack(id string, fn persistence.TrackMutator) (*types.SignatureTrack, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	ctx := context.Background()
	key := r.trackKey(id)

	var updated *types.SignatureTrack
	err := r.watch(ctx, func(tx *redis.Tx) error {
		current, err := r.loadTrack(ctx, tx, id)
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

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err != nil {
			return err
		}
		updated = next
		return nil
	}, key)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListTracksByRequestor returns the tracks an account requested
func (r *RedisPersistence) ListTracksByRequestor(accountKey string) ([]*types.SignatureTrack, error) {
	return r.listIndexedTracks(r.requestorKey(accountKey))
}

// ListTracksBySigner returns the tracks naming an account as signer
func (r *RedisPersistence) ListTracksBySigner(accountKey string) ([]*types.SignatureTrack, error) {
	return r.listIndexedTracks(r.signerKey(accountKey))
}

func (r *RedisPersistence) listIndexedTracks(setKey string) ([]*types.SignatureTrack, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	ctx := context.Background()

	ids, err := r.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list track ids: %w", err)
	}

	tracks := make([]*types.SignatureTrack, 0, len(ids))
	for _, id := range ids {
		track, err := r.loadTrack(ctx, r.client, id)
		if err != nil {
			return nil, err
		}
		if track != nil {
			tracks = append(tracks, track)
		}
	}

	persistence.SortTracks(tracks)
	return tracks, nil
}

// DeleteTrack removes a track, its requests and its index entries
func (r *RedisPersistence) DeleteTrack(id string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	ctx := context.Background()
	key := r.trackKey(id)

	return r.watch(ctx, func(tx *redis.Tx) error {
		track, err := r.loadTrack(ctx, tx, id)
		if err != nil || track == nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			r.queueTrackDelete(ctx, pipe, track)
			return nil
		})
		return err
	}, key)
}

func (r *RedisPersistence) loadTrack(ctx context.Context, c redis.Cmdable, id string) (*types.SignatureTrack, error) {
	data, err := getOptional(ctx, c, r.trackKey(id))
	if err != nil {
		return nil, fmt.Errorf("failed to load SignatureTrack: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	return persistence.UnmarshalTrack(data)
}

func (r *RedisPersistence) queueTrackDelete(ctx context.Context, pipe redis.Pipeliner, track *types.SignatureTrack) {
	pipe.Del(ctx, r.trackKey(track.ID))
	pipe.SRem(ctx, r.requestorKey(track.RequestorKey), track.ID)
	for _, req := range track.Requests {
		pipe.Del(ctx, r.requestKey(req.ID))
		pipe.SRem(ctx, r.signerKey(req.SignerKey), track.ID)
	}
}

// Close shuts down the persistence layer
func (r *RedisPersistence) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	r.logger.Sugar().Info("Redis persistence closed")
	return nil
}

// HealthCheck verifies the persistence layer is operational
func (r *RedisPersistence) HealthCheck() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	_, err := r.client.Get(ctx, r.prefixKey(keySchemaVersion)).Result()
	if err == redis.Nil {
		return fmt.Errorf("schema version not found - database may not be properly initialized")
	}
	if err != nil {
		return fmt.Errorf("failed to verify schema version: %w", err)
	}

	return nil
}
