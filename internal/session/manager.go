package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog"

	"storefront/internal/domain/model"
	"storefront/internal/store"
)

var (
	//資格情報が無い。リダイレクト先はサインイン
	ErrUnauthenticated = errors.New("unauthenticated")
	//リフレッシュトークン自体が無効。強制サインアウト
	ErrRenewalFailed = errors.New("renewal failed")
)

// /auth/refresh を叩く口。authapi.Client が実装する。
type Renewer interface {
	Refresh(ctx context.Context, refreshToken string) (model.Credential, error)
}

// ManagerはCredentialの唯一の持ち主。
// 取得・差し替え・破棄はすべてここを通す。
type Manager struct {
	renewer      Renewer
	accessStore  store.AccessTokenStore
	refreshStore store.RefreshTokenStore
	renewTimeout time.Duration
	now          func() time.Time
	log          zerolog.Logger

	mu      sync.Mutex
	cred    model.Credential
	state   renewState
	waiters []chan renewResult
	authed  bool // イベントのフリップ判定用

	subsMu sync.Mutex
	subs   []chan Event
}

// DI
func NewManager(
	renewer Renewer,
	accessStore store.AccessTokenStore,
	refreshStore store.RefreshTokenStore,
	renewTimeout time.Duration,
	log zerolog.Logger,
) *Manager {
	return &Manager{
		renewer:      renewer,
		accessStore:  accessStore,
		refreshStore: refreshStore,
		renewTimeout: renewTimeout,
		now:          time.Now,
		log:          log.With().Str("component", "session").Logger(),
	}
}

// Restoreは永続化済みのトークンをメモリへ読み戻す（コールドスタート用）。
// リフレッシュトークンがあれば認証済みとして起動する（アクセストークンは次の要求時に更新される）。
func (m *Manager) Restore(ctx context.Context) error {
	refresh, err := m.refreshStore.Load(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	access, expiresAt, err := m.accessStore.Load(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	//ストア上の期限とトークン内のexpがずれていても、読めない・切れているものは使わない
	if access != "" && IsExpired(access, m.now()) {
		access = ""
		expiresAt = time.Time{}
	}

	m.mu.Lock()
	m.cred = model.Credential{
		AccessToken:     access,
		RefreshToken:    refresh,
		AccessExpiresAt: expiresAt,
	}
	m.authed = true
	m.mu.Unlock()

	m.log.Info().Msg("session restored from refresh token")
	return nil
}

// Authenticatedは現在リフレッシュトークンを保持しているか。
func (m *Manager) Authenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authed
}

// GetValidTokenは期限内のアクセストークンを返す。
// 期限切れなら単一フライトの更新を経て、新しいトークンを返す。
// 期限切れと分かっているトークンは決して返さない。
func (m *Manager) GetValidToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.cred.Usable(m.now()) {
		token := m.cred.AccessToken
		m.mu.Unlock()
		return token, nil
	}
	return m.renewLocked(ctx) // muを持ったまま入り、中で手放す
}

// Renewはサーバーに拒否されたトークンを申告して更新を要求する（Request Gateway用）。
// 既に別の呼び出しが更新済みなら、通信せずに現在のトークンを返す。
func (m *Manager) Renew(ctx context.Context, stale string) (string, error) {
	m.mu.Lock()
	if m.cred.AccessToken != "" && m.cred.AccessToken != stale && m.cred.Usable(m.now()) {
		token := m.cred.AccessToken
		m.mu.Unlock()
		return token, nil
	}
	if m.cred.AccessToken == stale {
		// サーバーに拒否された時点で手元の期限は信用しない
		m.cred.AccessExpiresAt = time.Time{}
	}
	return m.renewLocked(ctx)
}

// SetCredentialは資格情報をアトミックに差し替える。
// ログイン・登録・更新成功の後に呼ばれる。永続化し、未認証→認証のフリップならイベントを流す。
func (m *Manager) SetCredential(ctx context.Context, cred model.Credential) error {
	m.mu.Lock()
	m.cred = cred
	flipped := !m.authed && cred.HasRefresh()
	m.authed = cred.HasRefresh()
	m.mu.Unlock()

	//永続化の失敗でメモリ上の差し替えは巻き戻さない（次回コールドスタートで効くだけ）
	var saveErr error
	if err := m.accessStore.Save(ctx, cred.AccessToken, cred.AccessExpiresAt); err != nil {
		saveErr = err
	}
	if err := m.refreshStore.Save(ctx, cred.RefreshToken); err != nil {
		saveErr = err
	}
	if saveErr != nil {
		m.log.Error().Err(saveErr).Msg("credential persist failed")
	}

	if flipped {
		m.notify(Event{Authenticated: true})
	}
	return saveErr
}

// Clearは資格情報をメモリと両ストアから破棄する。
// ログアウトと更新不能時に呼ばれる。認証→未認証のフリップは一度だけイベントを流す。
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	flipped := m.authed
	m.cred = model.Credential{}
	m.authed = false
	m.mu.Unlock()

	var clearErr error
	if err := m.accessStore.Clear(ctx); err != nil {
		clearErr = err
	}
	if err := m.refreshStore.Clear(ctx); err != nil {
		clearErr = err
	}
	if clearErr != nil {
		m.log.Error().Err(clearErr).Msg("credential clear failed")
	}

	if flipped {
		m.notify(Event{Authenticated: false})
	}
	return clearErr
}

// IsExpiredはトークン内のexpをnowと比べる。
// デコードできない・expが無いトークンは期限切れ扱い（fail-closed）。
func IsExpired(tokenString string, now time.Time) bool {
	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, &claims); err != nil {
		return true
	}
	if claims.ExpiresAt == nil {
		return true
	}
	return !now.Before(claims.ExpiresAt.Time)
}
