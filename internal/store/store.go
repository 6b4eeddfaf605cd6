package store

import (
	"context"
	"errors"
	"time"

	"storefront/internal/domain/model"
)

var ErrNotFound = errors.New("not found")

// アクセストークン用の短命ストア。
// セッション（プロセス）終了で消えてよい。
type AccessTokenStore interface {
	Save(ctx context.Context, token string, expiresAt time.Time) error
	Load(ctx context.Context) (token string, expiresAt time.Time, err error)
	Clear(ctx context.Context) error
}

// リフレッシュトークン用の長命ストア。
type RefreshTokenStore interface {
	Save(ctx context.Context, token string) error
	Load(ctx context.Context) (string, error)
	Clear(ctx context.Context) error
}

// 匿名カート用の長命ストア。
// 3つのストアは独立したキーを持つ。1つをクリアしても他は消えない。
type LocalCartStore interface {
	// 無ければ空スライスを返す（ErrNotFoundにしない）
	Load(ctx context.Context) ([]model.CartLine, error)
	// 全置き換えで保存する
	Save(ctx context.Context, lines []model.CartLine) error
	Clear(ctx context.Context) error
}
