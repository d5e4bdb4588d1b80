package journal

import (
	"context"
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GormStore keeps records in a SQL database.
type GormStore struct {
	db *gorm.DB
}

// OpenMySQL connects to dsn and migrates the settlements table.
func OpenMySQL(dsn string) (*GormStore, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}
	store := NewGormStore(db)
	if err := store.Migrate(); err != nil {
		return nil, err
	}
	log.Info().Msg("Journal database ready")
	return store, nil
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Migrate() error {
	if err := s.db.AutoMigrate(&Record{}); err != nil {
		return fmt.Errorf("failed to migrate journal: %w", err)
	}
	return nil
}

func (s *GormStore) Upsert(ctx context.Context, r *Record) error {
	if r.TxHash == "" || r.Destination == "" {
		return fmt.Errorf("%w: %+v", ErrInvalidRecord, *r)
	}
	return upsert(s.db.WithContext(ctx), r).Error
}

func upsert(db *gorm.DB, r *Record) *gorm.DB {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tx_hash"}, {Name: "route"}},
		DoUpdates: clause.AssignmentColumns([]string{"outcome", "event", "reason", "updated_at"}),
	}).Create(r)
}

func (s *GormStore) List(ctx context.Context, f Filter) ([]Record, error) {
	var out []Record
	if err := listQuery(s.db.WithContext(ctx), f).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list settlements: %w", err)
	}
	return out, nil
}

func listQuery(db *gorm.DB, f Filter) *gorm.DB {
	q := db.Model(&Record{})
	if f.TxHash != "" {
		q = q.Where("tx_hash = ?", f.TxHash)
	}
	if f.Destination != "" {
		q = q.Where("destination = ?", f.Destination)
	}
	if f.Outcome != "" {
		q = q.Where("outcome = ?", f.Outcome)
	}
	return q.Order("id DESC").Limit(f.limit())
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
