// Package stubapi はリモートAPI（認証・カート）のインプロセス版スタブ。
// 結合テストとローカル開発で本物のバックエンドの代わりに立てる。
// 挙動は本番APIの境界仕様（/auth/*, /cart）に合わせてある。
package stubapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"storefront/internal/domain/model"
)

type userRecord struct {
	ID           int64
	Email        string
	PasswordHash string
	Role         model.Role
}

type refreshRecord struct {
	ID        string
	UserID    int64
	ExpiresAt time.Time
	UsedAt    *time.Time
}

type Server struct {
	echo       *echo.Echo
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	log        zerolog.Logger

	mu         sync.Mutex
	users      map[string]*userRecord    // email →
	tokens     map[string]*refreshRecord // token_hash →
	carts      map[int64][]model.CartLine
	nextUserID int64

	// テスト用フック
	refreshCalls     int64
	failRefreshLeft  int
	failRefreshWith  int
	rejectAuthzLeft  int
	conflictPutsLeft int
}

// NewはスタブAPIサーバーを組み立てる。secretはアクセストークンのHS256署名鍵。
func New(secret string, log zerolog.Logger) *Server {
	s := &Server{
		secret:     []byte(secret),
		accessTTL:  30 * time.Minute,
		refreshTTL: 7 * 24 * time.Hour,
		now:        time.Now,
		log:        log.With().Str("component", "stubapi").Logger(),
		users:      map[string]*userRecord{},
		tokens:     map[string]*refreshRecord{},
		carts:      map[int64][]model.CartLine{},
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.POST("/auth/register", s.register)
	e.POST("/auth/login", s.login)
	e.POST("/auth/refresh", s.refresh)
	e.GET("/auth/me", s.me, s.authJWT)

	g := e.Group("/cart")
	g.Use(s.authJWT)
	g.GET("", s.getCart)
	g.PUT("", s.putCart)

	s.echo = e
	return s
}

// Handlerはhttptest.NewServerへ渡す用。
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Startはスタンドアロン起動（cmd/stubapi用）。
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// SetAccessTTLはテストで短い期限のトークンを出したいときに使う。
func (s *Server) SetAccessTTL(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTTL = d
}

// Seedはユーザーを1人登録して返す。
func (s *Server) Seed(email string, password string) (model.User, error) {
	pwHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return model.User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextUserID++
	u := &userRecord{
		ID:           s.nextUserID,
		Email:        email,
		PasswordHash: string(pwHash),
		Role:         model.RoleUser,
	}
	s.users[email] = u

	return model.User{ID: u.ID, Email: u.Email, Role: u.Role}, nil
}

// SeedCartはユーザーのサーバーカートを直接仕込む。
func (s *Server) SeedCart(userID int64, lines []model.CartLine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts[userID] = append([]model.CartLine(nil), lines...)
}

// CartOfは検証用にサーバーカートの中身を返す。
func (s *Server) CartOf(userID int64) []model.CartLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.CartLine(nil), s.carts[userID]...)
}

// RefreshCallsは/auth/refreshが何回呼ばれたか（単一フライトの検証用）。
func (s *Server) RefreshCalls() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCalls
}

// RejectNextAuthorizedは有効なトークンでもn回だけ401を返す（失効済みトークンの再現）。
func (s *Server) RejectNextAuthorized(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectAuthzLeft = n
}

// FailNextRefreshは/auth/refreshをn回だけ指定ステータスで失敗させる。
func (s *Server) FailNextRefresh(status int, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRefreshWith = status
	s.failRefreshLeft = n
}

// ConflictNextPutはPUT /cartをn回だけ409で弾く。
func (s *Server) ConflictNextPut(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflictPutsLeft = n
}

type errorResponse struct {
	Error string `json:"error"`
}
