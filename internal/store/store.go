// Package store persists Position records in SQLite through Gorm. Writes
// for one position come from its single owning supervisor, so the store
// needs durability and ordering, not cross-writer locking.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"helmsman/internal/position"
)

// PositionStore is the persistence surface the engine depends on.
type PositionStore interface {
	Create(ctx context.Context, p position.Position) error
	Update(ctx context.Context, p position.Position) error
	Get(ctx context.Context, id string) (position.Position, error)
	LoadActive(ctx context.Context) ([]position.Position, error)
	HasActiveForInstrument(ctx context.Context, instrument string) (bool, error)
}

type Store struct {
	db *gorm.DB
}

var _ PositionStore = (*Store)(nil)

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("store: path cannot be empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	// DriverName "sqlite" routes Gorm through the pure-Go driver registered
	// by the decision log's modernc import, so the binary stays cgo-free.
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&positionModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: keep the pool small to avoid lock contention.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Create(ctx context.Context, p position.Position) error {
	if p.ID == "" {
		return fmt.Errorf("store: position id is required")
	}
	model := newPositionModel(p)
	return s.db.WithContext(ctx).Create(&model).Error
}

// Update rewrites the full row. The caller is the position's single writer,
// so a plain save by primary key is sufficient.
func (s *Store) Update(ctx context.Context, p position.Position) error {
	if p.ID == "" {
		return fmt.Errorf("store: position id is required")
	}
	model := newPositionModel(p)
	res := s.db.WithContext(ctx).Model(&positionModel{}).
		Where("id = ?", p.ID).
		Select("*").Omit("created_at").
		Updates(&model)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (position.Position, error) {
	var model positionModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return position.Position{}, err
	}
	return model.toPosition(), nil
}

// LoadActive returns every position not yet in a terminal state. Used on
// restart to resume supervision.
func (s *Store) LoadActive(ctx context.Context) ([]position.Position, error) {
	var models []positionModel
	err := s.db.WithContext(ctx).
		Where("status NOT IN ?", []string{string(position.StatusClosed), string(position.StatusFailed)}).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]position.Position, 0, len(models))
	for _, m := range models {
		out = append(out, m.toPosition())
	}
	return out, nil
}

// HasActiveForInstrument guards against a second concurrent entry on an
// instrument that already carries a live position.
func (s *Store) HasActiveForInstrument(ctx context.Context, instrument string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&positionModel{}).
		Where("instrument = ?", instrument).
		Where("status NOT IN ?", []string{string(position.StatusClosed), string(position.StatusFailed)}).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
