// Package pgstore keeps documents as JSONB rows in PostgreSQL. Writes lock
// the row, apply the ops and bump a version inside one transaction; commits
// are announced with NOTIFY so every process can push to its subscribers.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/DoyleJ11/planning-poker/internal/store"
)

// NotifyChannel carries "collection/id" payloads for every committed write.
const NotifyChannel = "poker_documents"

type documentRow struct {
	Collection string `gorm:"primaryKey;size:64"`
	ID         string `gorm:"primaryKey;size:64"`
	Body       string `gorm:"type:jsonb;not null"`
	Version    int64  `gorm:"not null;default:1"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (documentRow) TableName() string { return "documents" }

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = l }
}

type Store struct {
	db  *gorm.DB
	dsn string
	now func() time.Time
	log *zap.Logger

	mu     sync.Mutex
	subs   map[string]map[uint64]*subscriber
	nextID uint64

	cancel context.CancelFunc
	done   chan struct{}
}

var _ store.Store = (*Store)(nil)

// Open connects, migrates the documents table and starts the listener.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&documentRow{}); err != nil {
		return nil, fmt.Errorf("migrate documents: %w", err)
	}

	s := &Store{
		db:   db,
		dsn:  dsn,
		now:  time.Now,
		log:  zap.NewNop(),
		subs: make(map[string]map[uint64]*subscriber),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("pgstore")

	listenCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.listen(listenCtx)
	return s, nil
}

func (s *Store) Close() error {
	s.cancel()
	<-s.done
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Create(ctx context.Context, collection, id string, doc store.Document) error {
	body, err := store.Clone(doc)
	if err != nil {
		return err
	}
	store.ResolveServerValues(map[string]any(body), s.now())
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidUpdate, err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := documentRow{Collection: collection, ID: id, Body: string(raw), Version: 1}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if res.Error != nil {
			return unavailable(res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%s: %w", store.Key(collection, id), store.ErrAlreadyExists)
		}
		return notify(tx, collection, id)
	})
}

func (s *Store) Get(ctx context.Context, collection, id string) (store.Document, error) {
	row, err := s.load(ctx, s.db, collection, id, false)
	if err != nil {
		return nil, err
	}
	return decode(row)
}

func (s *Store) Update(ctx context.Context, collection, id string, ops ...store.Op) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := s.load(ctx, tx, collection, id, true)
		if err != nil {
			return err
		}
		doc, err := decode(row)
		if err != nil {
			return err
		}
		next, err := store.Apply(doc, ops, s.now())
		if err != nil {
			return err
		}
		raw, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("%w: %v", store.ErrInvalidUpdate, err)
		}
		res := tx.Model(&documentRow{}).
			Where("collection = ? AND id = ?", collection, id).
			Updates(map[string]any{
				"body":       string(raw),
				"version":    gorm.Expr("version + 1"),
				"updated_at": s.now(),
			})
		if res.Error != nil {
			return unavailable(res.Error)
		}
		return notify(tx, collection, id)
	})
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("collection = ? AND id = ?", collection, id).Delete(&documentRow{})
		if res.Error != nil {
			return unavailable(res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return notify(tx, collection, id)
	})
}

// Sweep deletes documents of collection created before cutoff and returns
// how many went away. Subscribers are told through the usual NOTIFY.
func (s *Store) Sweep(ctx context.Context, collection string, cutoff time.Time) (int, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&documentRow{}).
		Where("collection = ? AND created_at < ?", collection, cutoff).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, unavailable(err)
	}
	for _, id := range ids {
		if err := s.Delete(ctx, collection, id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

func (s *Store) load(ctx context.Context, db *gorm.DB, collection, id string, lock bool) (documentRow, error) {
	q := db.WithContext(ctx)
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row documentRow
	err := q.Where("collection = ? AND id = ?", collection, id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return row, fmt.Errorf("%s: %w", store.Key(collection, id), store.ErrNotFound)
	}
	if err != nil {
		return row, unavailable(err)
	}
	return row, nil
}

func decode(row documentRow) (store.Document, error) {
	doc := store.Document{}
	if err := json.Unmarshal([]byte(row.Body), &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", store.Key(row.Collection, row.ID), err)
	}
	return doc, nil
}

func notify(tx *gorm.DB, collection, id string) error {
	if err := tx.Exec("SELECT pg_notify(?, ?)", NotifyChannel, store.Key(collection, id)).Error; err != nil {
		return unavailable(err)
	}
	return nil
}

func unavailable(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}
