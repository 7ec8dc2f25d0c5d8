// Package store opens the persistence backend named in configuration.
package store

import (
	"fmt"

	"github.com/Layr-Labs/cosigner-go/pkg/config"
	"github.com/Layr-Labs/cosigner-go/pkg/persistence"
	"github.com/Layr-Labs/cosigner-go/pkg/persistence/badger"
	"github.com/Layr-Labs/cosigner-go/pkg/persistence/memory"
	"github.com/Layr-Labs/cosigner-go/pkg/persistence/redis"
	"github.com/Layr-Labs/cosigner-go/pkg/persistence/sql"
	"go.uber.org/zap"
)

// Open creates the configured backend
func Open(cfg *config.StoreConfig, logger *zap.Logger) (persistence.ICosignerPersistence, error) {
	switch cfg.Type {
	case config.StoreMemory:
		logger.Sugar().Warn("Using in-memory store, accounts and tracks are lost on restart")
		return memory.NewMemoryPersistence(), nil
	case config.StoreBadger:
		return badger.NewBadgerPersistence(cfg.BadgerPath, logger)
	case config.StoreRedis:
		return redis.NewRedisPersistence(&redis.RedisConfig{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
	case config.StoreMySQL, config.StoreSQLite:
		return sql.NewSQLPersistence(&sql.SQLConfig{Driver: cfg.Type.String(), DSN: cfg.SQLDSN}, logger)
	default:
		return nil, fmt.Errorf("unsupported store type %q, expected one of %s", cfg.Type, config.GetSupportedStoresString())
	}
}
