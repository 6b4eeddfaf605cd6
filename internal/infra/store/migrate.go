package store

import (
	"gorm.io/gorm"

	"storefront/internal/domain/model"
)

// Migrateはローカルストアが使うテーブルをまとめて作る。
// cmd側のAutoMigrate呼び出しを1箇所に寄せるためのヘルパ。
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.CartLine{},
		&refreshTokenRow{},
	)
}
