package db

import (
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connectはローカル永続化用のsqliteに接続して *gorm.DB を返す。
// pathが空ならカレントのstorefront.dbを使う。
func Connect(path string) (*gorm.DB, error) {
	if path == "" {
		path = "storefront.db"
	}

	return gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
}
