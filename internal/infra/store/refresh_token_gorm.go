package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	appstore "storefront/internal/store"
)

// リフレッシュトークンは端末に1つだけ持つ（固定IDの1行テーブル）
const refreshTokenRowID = 1

type refreshTokenRow struct {
	ID        int64     `gorm:"primaryKey"`
	Token     string    `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`
}

func (refreshTokenRow) TableName() string { return "refresh_tokens" }

type RefreshTokenGormStore struct {
	db *gorm.DB
}

// GORM実装
func NewRefreshTokenGormStore(db *gorm.DB) *RefreshTokenGormStore {
	return &RefreshTokenGormStore{db: db}
}

// Saveはトークンを上書き保存する（Upsert）
func (s *RefreshTokenGormStore) Save(ctx context.Context, token string) error {
	row := refreshTokenRow{
		ID:    refreshTokenRowID,
		Token: token,
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"token", "updated_at"}),
		}).
		Create(&row).Error
}

func (s *RefreshTokenGormStore) Load(ctx context.Context) (string, error) {
	var row refreshTokenRow

	err := s.db.WithContext(ctx).
		Where("id = ?", refreshTokenRowID).
		First(&row).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", appstore.ErrNotFound
		}
		return "", err
	}

	return row.Token, nil
}

func (s *RefreshTokenGormStore) Clear(ctx context.Context) error {
	return s.db.WithContext(ctx).
		Where("id = ?", refreshTokenRowID).
		Delete(&refreshTokenRow{}).Error
}
