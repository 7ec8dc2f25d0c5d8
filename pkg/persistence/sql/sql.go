package sql

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Layr-Labs/cosigner-go/pkg/persistence"
	"github.com/Layr-Labs/cosigner-go/pkg/types"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"

	keySchemaVersion     = "schema_version"
	currentSchemaVersion = "v1"
)

// SQLConfig selects the database driver and connection string
type SQLConfig struct {
	// Driver is "mysql" or "sqlite"
	Driver string
	// DSN is passed to the driver unchanged. MySQL DSNs need parseTime=true.
	DSN string
}

// SQLPersistence stores accounts, tracks and signature requests in relational
// tables through gorm. Track updates run in one database transaction; on MySQL
// the track row is read with SELECT ... FOR UPDATE.
type SQLPersistence struct {
	db     *gorm.DB
	driver string
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

// NewSQLPersistence opens the database, migrates the tables and checks the schema version
func NewSQLPersistence(cfg *SQLConfig, logger *zap.Logger) (*SQLPersistence, error) {
	if cfg == nil {
		return nil, fmt.Errorf("sql config cannot be nil")
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sql dsn cannot be empty")
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverMySQL:
		dialector = mysql.Open(cfg.DSN)
	case DriverSQLite:
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported sql driver: %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: &gormLoggerAdapter{logger: logger, level: gormlogger.Warn},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	if cfg.Driver == DriverSQLite {
		// sqlite allows one writer; a single connection serializes transactions
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access sqlite connection pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	sp := &SQLPersistence{
		db:     db,
		driver: cfg.Driver,
		logger: logger,
	}

	if err := db.AutoMigrate(&metadataModel{}, &accountModel{}, &trackModel{}, &requestModel{}); err != nil {
		_ = sp.closeDB()
		return nil, fmt.Errorf("failed to migrate tables: %w", err)
	}

	if err := sp.initSchema(); err != nil {
		_ = sp.closeDB()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Sugar().Infow("SQL persistence initialized", "driver", cfg.Driver)
	return sp, nil
}

// initSchema initializes or validates the schema version
func (s *SQLPersistence) initSchema() error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var meta metadataModel
		err := tx.Where("`key` = ?", keySchemaVersion).Take(&meta).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&metadataModel{Key: keySchemaVersion, Value: currentSchemaVersion}).Error
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}
		if meta.Value != currentSchemaVersion {
			return fmt.Errorf("unsupported schema version: %s (expected: %s)", meta.Value, currentSchemaVersion)
		}
		return nil
	})
}

// SaveAccount inserts or replaces an account
func (s *SQLPersistence) SaveAccount(account *types.Account) error {
	if account == nil {
		return fmt.Errorf("cannot save nil Account")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return persistence.ErrClosed
	}

	row, err := toAccountModel(account)
	if err != nil {
		return err
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		existing, err := s.loadAccount(s.lockRows(tx), account.Key)
		if err != nil {
			return err
		}
		if err := persistence.PrepareAccount(existing, account); err != nil {
			return err
		}
		return tx.Save(row).Error
	})
}

// LoadAccount retrieves an account by key
func (s *SQLPersistence) LoadAccount(key string) (*types.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, persistence.ErrClosed
	}

	return s.loadAccount(s.db, key)
}

func (s *SQLPersistence) loadAccount(tx *gorm.DB, key string) (*types.Account, error) {
	var row accountModel
	err := tx.Where("`key` = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load Account: %w", err)
	}
	return row.toAccount()
}

// ListAccounts returns all accounts sorted by key
func (s *SQLPersistence) ListAccounts() ([]*types.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, persistence.ErrClosed
	}

	var rows []*accountModel
	if err := s.db.Order("`key`").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list Accounts: %w", err)
	}

	accounts := make([]*types.Account, 0, len(rows))
	for _, row := range rows {
		account, err := row.toAccount()
		if err != nil {
			s.logger.Sugar().Warnw("Failed to unmarshal Account, skipping", "key", row.Key, "error", err)
			continue
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

// DeleteAccount removes an account and every track it requested
func (s *SQLPersistence) DeleteAccount(key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return persistence.ErrClosed
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		var trackIDs []string
		if err := tx.Model(&trackModel{}).Where("requestor_key = ?", key).Pluck("id", &trackIDs).Error; err != nil {
			return fmt.Errorf("failed to list requested tracks: %w", err)
		}
		if err := deleteTracks(tx, trackIDs); err != nil {
			return err
		}
		return tx.Where("`key` = ?", key).Delete(&accountModel{}).Error
	})
}

// CreateTrack inserts the track row and its request rows in one transaction
func (s *SQLPersistence) CreateTrack(track *types.SignatureTrack) error {
	if err := persistence.ValidateNewTrack(track); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return persistence.ErrClosed
	}

	row, err := toTrackModel(track)
	if err != nil {
		return err
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&trackModel{}).Where("id = ?", track.ID).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check existing track: %w", err)
		}
		if count > 0 {
			return fmt.Errorf("%w: %s", types.ErrTrackExists, track.ID)
		}

		requestIDs := make([]string, 0, len(row.Requests))
		for _, r := range row.Requests {
			requestIDs = append(requestIDs, r.ID)
		}
		if err := tx.Model(&requestModel{}).Where("id IN ?", requestIDs).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check existing requests: %w", err)
		}
		if count > 0 {
			return fmt.Errorf("track %s reuses a request id of another track", track.ID)
		}

		if err := tx.Omit(clause.Associations).Create(row).Error; err != nil {
			return fmt.Errorf("failed to insert track: %w", err)
		}
		if err := tx.Create(&row.Requests).Error; err != nil {
			return fmt.Errorf("failed to insert signature requests: %w", err)
		}
		return nil
	})
}

// LoadTrack retrieves a track with its requests
func (s *SQLPersistence) LoadTrack(id string) (*types.SignatureTrack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, persistence.ErrClosed
	}

	return loadTrack(s.db, id)
}

// LoadTrackByRequest retrieves the track owning a request
func (s *SQLPersistence) LoadTrackByRequest(requestID string) (*types.SignatureTrack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, persistence.ErrClosed
	}

	var req requestModel
	err := s.db.Select("track_id").Where("id = ?", requestID).Take(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve request %s: %w", requestID, err)
	}
	return loadTrack(s.db, req.TrackID)
}

// UpdateTrack loads the track under a row lock, applies fn and saves every row in one transaction
func (s *SQLPersistence) UpdateTrack(id string, fn persistence.TrackMutator) (*types.SignatureTrack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, persistence.ErrClosed
	}

	var updated *types.SignatureTrack
	err := s.db.Transaction(func(tx *gorm.DB) error {
		current, err := loadTrack(s.lockRows(tx), id)
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

		row, err := toTrackModel(next)
		if err != nil {
			return err
		}
		if err := tx.Omit(clause.Associations).Save(row).Error; err != nil {
			return fmt.Errorf("failed to save track: %w", err)
		}
		for _, r := range row.Requests {
			if err := tx.Save(r).Error; err != nil {
				return fmt.Errorf("failed to save signature request %s: %w", r.ID, err)
			}
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
func (s *SQLPersistence) ListTracksByRequestor(accountKey string) ([]*types.SignatureTrack, error) {
	return s.listTracks(func(q *gorm.DB) *gorm.DB {
		return q.Where("requestor_key = ?", accountKey)
	})
}

// ListTracksBySigner returns the tracks naming an account as signer
func (s *SQLPersistence) ListTracksBySigner(accountKey string) ([]*types.SignatureTrack, error) {
	return s.listTracks(func(q *gorm.DB) *gorm.DB {
		signed := s.db.Model(&requestModel{}).Select("track_id").Where("signer_key = ?", accountKey)
		return q.Where("id IN (?)", signed)
	})
}

func (s *SQLPersistence) listTracks(scope func(*gorm.DB) *gorm.DB) ([]*types.SignatureTrack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, persistence.ErrClosed
	}

	var rows []*trackModel
	err := s.db.Scopes(scope).
		Preload("Requests", orderByPosition).
		Order("created_at, id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list tracks: %w", err)
	}

	tracks := make([]*types.SignatureTrack, 0, len(rows))
	for _, row := range rows {
		track, err := row.toTrack()
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, track)
	}
	persistence.SortTracks(tracks)
	return tracks, nil
}

// DeleteTrack removes a track and its requests
func (s *SQLPersistence) DeleteTrack(id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return persistence.ErrClosed
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		return deleteTracks(tx, []string{id})
	})
}

// lockRows adds FOR UPDATE on drivers that support row locks
func (s *SQLPersistence) lockRows(tx *gorm.DB) *gorm.DB {
	if s.driver == DriverMySQL {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func orderByPosition(db *gorm.DB) *gorm.DB {
	return db.Order("position")
}

func loadTrack(tx *gorm.DB, id string) (*types.SignatureTrack, error) {
	var row trackModel
	err := tx.Preload("Requests", orderByPosition).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load track %s: %w", id, err)
	}
	return row.toTrack()
}

// deleteTracks removes request rows before track rows; foreign keys are not relied on
func deleteTracks(tx *gorm.DB, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := tx.Where("track_id IN ?", ids).Delete(&requestModel{}).Error; err != nil {
		return fmt.Errorf("failed to delete signature requests: %w", err)
	}
	if err := tx.Where("id IN ?", ids).Delete(&trackModel{}).Error; err != nil {
		return fmt.Errorf("failed to delete tracks: %w", err)
	}
	return nil
}

func (s *SQLPersistence) closeDB() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Close shuts down the persistence layer
func (s *SQLPersistence) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.closeDB(); err != nil {
		return fmt.Errorf("failed to close %s database: %w", s.driver, err)
	}

	s.logger.Sugar().Info("SQL persistence closed")
	return nil
}

// HealthCheck verifies the persistence layer is operational
func (s *SQLPersistence) HealthCheck() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return persistence.ErrClosed
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("sql health check failed: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("sql health check failed: %w", err)
	}

	var meta metadataModel
	if err := s.db.Where("`key` = ?", keySchemaVersion).Take(&meta).Error; err != nil {
		return fmt.Errorf("schema version not found - database may not be properly initialized: %w", err)
	}
	return nil
}
