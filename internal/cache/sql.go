package cache

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"hftcore/pkg/conn"
)

type cacheRecord struct {
	Key       string    `gorm:"column:key;type:varchar(512);primaryKey"`
	Value     []byte    `gorm:"column:value;type:bytea;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (cacheRecord) TableName() string { return "hft_cache" }

// SQLStore keeps cache keys in one postgres table.
type SQLStore struct {
	client *conn.Client
	db     *gorm.DB
}

func OpenSQLStore(opt conn.Option) (*SQLStore, error) {
	client, err := conn.New(opt)
	if err != nil {
		return nil, errors.Wrap(err, "connect postgres")
	}
	db := client.DB()
	if err := db.AutoMigrate(&cacheRecord{}); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "migrate cache table")
	}
	return &SQLStore{client: client, db: db}, nil
}

func (s *SQLStore) Write(ctx context.Context, batch []Write) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, w := range batch {
			if w.Delete {
				if err := tx.Where("key = ?", w.Key).Delete(&cacheRecord{}).Error; err != nil {
					return errors.Wrap(err, "delete cache record")
				}
				continue
			}
			rec := cacheRecord{Key: w.Key, Value: w.Value, UpdatedAt: now}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "key"}},
				DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
			}).Create(&rec).Error
			if err != nil {
				return errors.Wrap(err, "upsert cache record")
			}
		}
		return nil
	})
}

func (s *SQLStore) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	var recs []cacheRecord
	err := s.db.WithContext(ctx).
		Where("key LIKE ?", escapeLike(prefix)+"%").
		Order("key").
		Find(&recs).Error
	if err != nil {
		return errors.Wrap(err, "scan cache records")
	}
	for _, r := range recs {
		if err := fn(r.Key, r.Value); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) DeletePrefix(ctx context.Context, prefix string) error {
	err := s.db.WithContext(ctx).
		Where("key LIKE ?", escapeLike(prefix)+"%").
		Delete(&cacheRecord{}).Error
	if err != nil {
		return errors.Wrap(err, "delete cache records")
	}
	return nil
}

func (s *SQLStore) Close() error { return s.client.Close() }

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

var _ Store = (*SQLStore)(nil)
