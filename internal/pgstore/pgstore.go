// Package pgstore is the Postgres record store. Reservations run inside a
// transaction holding a per-scope advisory lock.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/raphaelgruber/labelflow/internal/models"
	"github.com/raphaelgruber/labelflow/internal/store"
)

const seriesLockKey = "series"

// Pallet is a pallet_info row.
type Pallet struct {
	PalletNumber string    `gorm:"column:plt_num;primaryKey;type:varchar(32)"`
	Scope        string    `gorm:"column:scope;type:varchar(6);not null;uniqueIndex:idx_scope_seq"`
	Sequence     int       `gorm:"column:sequence;not null;uniqueIndex:idx_scope_seq"`
	Series       string    `gorm:"column:series;type:varchar(32);index"`
	ProductCode  string    `gorm:"column:product_code;type:varchar(50);not null"`
	Quantity     float64   `gorm:"column:product_qty;not null"`
	Remark       string    `gorm:"column:plt_remark;type:varchar(255)"`
	Location     string    `gorm:"column:location;type:varchar(50)"`
	ParentRef    string    `gorm:"column:parent_ref;type:varchar(50);index"`
	OperatorID   string    `gorm:"column:operator_id;type:varchar(20)"`
	DocumentURL  string    `gorm:"column:pdf_url;type:text"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName implements gorm's tabler.
func (Pallet) TableName() string { return "pallet_info" }

// SequenceCounter is the per-scope high-water mark.
type SequenceCounter struct {
	Scope     string    `gorm:"column:scope;primaryKey;type:varchar(6)"`
	Last      int       `gorm:"column:last;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (SequenceCounter) TableName() string { return "sequence_counters" }

// Series is a reserved series code.
type Series struct {
	Code      string    `gorm:"column:code;primaryKey;type:varchar(32)"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Series) TableName() string { return "series_registry" }

// Store implements store.Store on Postgres.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn, retrying up to attempts times two seconds apart.
func Open(ctx context.Context, dsn string, attempts int, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := range attempts {
		logger.Debug("connecting to postgres", "attempt", i+1)
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
			TranslateError: true,
		})
		if err == nil {
			logger.Info("connected to postgres")
			return &Store{db: db, logger: logger}, nil
		}
		lastErr = err
		logger.Warn("postgres connection failed", "attempt", i+1, "error", err)
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
	}
	return nil, fmt.Errorf("connect postgres: %w", lastErr)
}

// New wraps an existing gorm handle.
func New(db *gorm.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Migrate creates or updates the tables.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&Pallet{}, &SequenceCounter{}, &Series{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	s.logger.Info("postgres migration completed")
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// lock takes a transaction-scoped advisory lock on key.
func lock(tx *gorm.DB, key string) error {
	return tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key).Error
}

func (s *Store) maxIssued(tx *gorm.DB, scope string) (int, error) {
	var highest int
	err := tx.Model(&Pallet{}).
		Where("scope = ?", scope).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&highest).Error
	return highest, err
}

// MaxSequenceForScope implements store.Sequences.
func (s *Store) MaxSequenceForScope(ctx context.Context, scope string) (int, error) {
	db := s.db.WithContext(ctx)
	n, err := s.maxIssued(db, scope)
	if err != nil {
		return 0, fmt.Errorf("max sequence: %w", err)
	}
	var counter SequenceCounter
	err = db.Where("scope = ?", scope).Take(&counter).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, fmt.Errorf("max sequence: %w", err)
	}
	return max(n, counter.Last), nil
}

// ReserveSequence implements store.Sequences.
func (s *Store) ReserveSequence(ctx context.Context, scope string, count int) (int, error) {
	if count < 1 {
		return 0, fmt.Errorf("reserve sequence: count must be >= 1, got %d", count)
	}

	var first int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lock(tx, scope); err != nil {
			return err
		}
		issued, err := s.maxIssued(tx, scope)
		if err != nil {
			return err
		}

		var counter SequenceCounter
		err = tx.Where("scope = ?", scope).Take(&counter).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		first = max(issued, counter.Last) + 1
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "scope"}},
			DoUpdates: clause.AssignmentColumns([]string{"last", "updated_at"}),
		}).Create(&SequenceCounter{Scope: scope, Last: first + count - 1}).Error
	})
	if err != nil {
		return 0, fmt.Errorf("reserve sequence: %w", err)
	}
	return first, nil
}

// ReserveSeries implements store.Sequences.
func (s *Store) ReserveSeries(ctx context.Context, codes []string) ([]string, error) {
	if len(codes) == 0 {
		return nil, nil
	}

	var taken []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lock(tx, seriesLockKey); err != nil {
			return err
		}
		if err := tx.Model(&Series{}).Where("code IN ?", codes).Pluck("code", &taken).Error; err != nil {
			return err
		}
		if len(taken) > 0 {
			return nil
		}
		rows := make([]Series, len(codes))
		for i, c := range codes {
			rows[i] = Series{Code: c}
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("reserve series: %w", mapError(err))
	}
	return taken, nil
}

// SavePallets implements store.Pallets.
func (s *Store) SavePallets(ctx context.Context, records []models.PalletRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]Pallet, len(records))
	for i, r := range records {
		rows[i] = fromRecord(r)
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("save pallets: %w", mapError(err))
	}
	return nil
}

// SetDocumentURL implements store.Pallets.
func (s *Store) SetDocumentURL(ctx context.Context, palletNumber, url string) error {
	res := s.db.WithContext(ctx).Model(&Pallet{}).
		Where("plt_num = ?", palletNumber).
		Update("pdf_url", url)
	if res.Error != nil {
		return fmt.Errorf("set document url: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("set document url: %s: %w", palletNumber, store.ErrNotFound)
	}
	return nil
}

// CountPalletsForParent implements store.Pallets.
func (s *Store) CountPalletsForParent(ctx context.Context, parentRef string) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&Pallet{}).Where("parent_ref = ?", parentRef).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count pallets: %w", err)
	}
	return int(n), nil
}

// GetPallet returns a pallet by number.
func (s *Store) GetPallet(ctx context.Context, palletNumber string) (models.PalletRecord, error) {
	var p Pallet
	err := s.db.WithContext(ctx).Where("plt_num = ?", palletNumber).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.PalletRecord{}, fmt.Errorf("get pallet: %s: %w", palletNumber, store.ErrNotFound)
	}
	if err != nil {
		return models.PalletRecord{}, fmt.Errorf("get pallet: %w", err)
	}
	return p.record(), nil
}

func mapError(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %w", store.ErrConflict, err)
	}
	return err
}

func fromRecord(r models.PalletRecord) Pallet {
	return Pallet{
		PalletNumber: r.PalletNumber,
		Scope:        r.Scope,
		Sequence:     r.Sequence,
		Series:       r.Series,
		ProductCode:  r.ProductCode,
		Quantity:     r.Quantity,
		Remark:       r.Remark,
		Location:     r.Location,
		ParentRef:    r.ParentRef,
		OperatorID:   r.OperatorID,
		DocumentURL:  r.DocumentURL,
		CreatedAt:    r.CreatedAt,
	}
}

func (p Pallet) record() models.PalletRecord {
	return models.PalletRecord{
		PalletNumber: p.PalletNumber,
		Scope:        p.Scope,
		Sequence:     p.Sequence,
		Series:       p.Series,
		ProductCode:  p.ProductCode,
		Quantity:     p.Quantity,
		Remark:       p.Remark,
		Location:     p.Location,
		ParentRef:    p.ParentRef,
		OperatorID:   p.OperatorID,
		DocumentURL:  p.DocumentURL,
		CreatedAt:    p.CreatedAt,
	}
}
