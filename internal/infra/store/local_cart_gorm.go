package store

import (
	"context"

	"gorm.io/gorm"

	"storefront/internal/domain/model"
)

// 匿名カートのGORM実装。1端末1カートなのでcart_linesをそのまま全件扱う。
type LocalCartGormStore struct {
	db *gorm.DB
}

// DI
func NewLocalCartGormStore(db *gorm.DB) *LocalCartGormStore {
	return &LocalCartGormStore{db: db}
}

func (s *LocalCartGormStore) Load(ctx context.Context) ([]model.CartLine, error) {
	var lines []model.CartLine

	err := s.db.WithContext(ctx).
		Order("product_id asc").
		Find(&lines).Error
	if err != nil {
		return nil, err
	}

	return lines, nil
}

// Saveは全置き換え。途中で失敗しても半端な状態を残さないようトランザクションで行う。
func (s *LocalCartGormStore) Save(ctx context.Context, lines []model.CartLine) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&model.CartLine{}).Error; err != nil {
			return err
		}
		if len(lines) == 0 {
			return nil
		}
		return tx.Create(&lines).Error
	})
}

func (s *LocalCartGormStore) Clear(ctx context.Context) error {
	return s.db.WithContext(ctx).
		Where("1 = 1").
		Delete(&model.CartLine{}).Error
}
