package stubapi

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"storefront/internal/domain/model"
)

const ctxUserIDKey = "user_id"

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type jwtAccessTokenDTO struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type authResponse struct {
	User         model.User        `json:"user"`
	Token        jwtAccessTokenDTO `json:"token"`
	RefreshToken string            `json:"refresh_token"`
}

type refreshResponse struct {
	Token        jwtAccessTokenDTO `json:"token"`
	RefreshToken string            `json:"refresh_token"`
}

// POST /auth/register（登録後そのままログイン状態にする）
func (s *Server) register(c echo.Context) error {
	var req credentialsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "VALIDATION_ERROR"})
	}
	if req.Email == "" || len(req.Password) < 8 {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "VALIDATION_ERROR"})
	}

	s.mu.Lock()
	if _, exists := s.users[req.Email]; exists {
		s.mu.Unlock()
		return c.JSON(http.StatusConflict, errorResponse{Error: "CONFLICT"})
	}
	s.mu.Unlock()

	user, err := s.Seed(req.Email, req.Password)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "INTERNAL"})
	}

	return s.issueAuthResponse(c, user)
}

// POST /auth/login
func (s *Server) login(c echo.Context) error {
	var req credentialsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "VALIDATION_ERROR"})
	}

	s.mu.Lock()
	u, ok := s.users[req.Email]
	s.mu.Unlock()
	if !ok {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "UNAUTHORIZED"})
	}

	//パスワード照合（bcrypt）
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "UNAUTHORIZED"})
	}

	return s.issueAuthResponse(c, model.User{ID: u.ID, Email: u.Email, Role: u.Role})
}

// POST /auth/refresh
// 401はリフレッシュトークン自体が無効という意味。クライアントはここで失効処理に入る。
func (s *Server) refresh(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "VALIDATION_ERROR"})
	}

	s.mu.Lock()
	s.refreshCalls++
	if s.failRefreshLeft > 0 {
		s.failRefreshLeft--
		status := s.failRefreshWith
		s.mu.Unlock()
		return c.JSON(status, errorResponse{Error: "FORCED_FAILURE"})
	}

	rt, ok := s.tokens[hashToken(req.RefreshToken)]
	if !ok {
		s.mu.Unlock()
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "UNAUTHORIZED"})
	}

	//期限切れ
	if rt.ExpiresAt.Before(s.now()) {
		delete(s.tokens, hashToken(req.RefreshToken))
		s.mu.Unlock()
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "UNAUTHORIZED"})
	}

	//used済みが来たらreplay。全トークン破棄
	if rt.UsedAt != nil {
		s.deleteTokensOfLocked(rt.UserID)
		s.mu.Unlock()
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "SECURITY_INCIDENT"})
	}

	now := s.now()
	rt.UsedAt = &now

	var user *userRecord
	for _, u := range s.users {
		if u.ID == rt.UserID {
			user = u
			break
		}
	}
	if user == nil {
		s.mu.Unlock()
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "UNAUTHORIZED"})
	}

	newPlain, newHash, err := newRandomTokenAndHash()
	if err != nil {
		s.mu.Unlock()
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "INTERNAL"})
	}
	s.tokens[newHash] = &refreshRecord{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		ExpiresAt: s.now().Add(s.refreshTTL),
	}
	accessTTL := s.accessTTL
	s.mu.Unlock()

	accessToken, err := s.issueAccessToken(user.ID, user.Role, accessTTL)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "INTERNAL"})
	}

	return c.JSON(http.StatusOK, refreshResponse{
		Token: jwtAccessTokenDTO{
			AccessToken: accessToken,
			ExpiresIn:   int(accessTTL.Seconds()),
		},
		RefreshToken: newPlain,
	})
}

// GET /auth/me
func (s *Server) me(c echo.Context) error {
	userID, _ := c.Get(ctxUserIDKey).(int64)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.ID == userID {
			return c.JSON(http.StatusOK, model.User{ID: u.ID, Email: u.Email, Role: u.Role})
		}
	}
	return c.JSON(http.StatusUnauthorized, errorResponse{Error: "UNAUTHORIZED"})
}

// ログイン・登録共通のトークン一式発行。
func (s *Server) issueAuthResponse(c echo.Context, user model.User) error {
	refreshPlain, refreshHash, err := newRandomTokenAndHash()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "INTERNAL"})
	}

	s.mu.Lock()
	s.tokens[refreshHash] = &refreshRecord{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		ExpiresAt: s.now().Add(s.refreshTTL),
	}
	accessTTL := s.accessTTL
	s.mu.Unlock()

	accessToken, err := s.issueAccessToken(user.ID, user.Role, accessTTL)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "INTERNAL"})
	}

	return c.JSON(http.StatusOK, authResponse{
		User: user,
		Token: jwtAccessTokenDTO{
			AccessToken: accessToken,
			ExpiresIn:   int(accessTTL.Seconds()),
		},
		RefreshToken: refreshPlain,
	})
}

// jwt発行（HS256）
func (s *Server) issueAccessToken(userID int64, role model.Role, ttl time.Duration) (string, error) {
	now := s.now()

	claims := jwt.MapClaims{
		"sub":  userID,
		"role": string(role),
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(s.secret)
}

// bearerAuth用のJWT検証ミドルウェア。
func (s *Server) authJWT(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		//失効済みトークンの再現フック
		s.mu.Lock()
		if s.rejectAuthzLeft > 0 {
			s.rejectAuthzLeft--
			s.mu.Unlock()
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: "UNAUTHORIZED"})
		}
		s.mu.Unlock()

		authz := c.Request().Header.Get("Authorization")
		parts := strings.SplitN(authz, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: "UNAUTHORIZED"})
		}
		rawToken := strings.TrimSpace(parts[1])

		token, err := jwt.Parse(rawToken, func(t *jwt.Token) (interface{}, error) {
			if t.Method != jwt.SigningMethodHS256 {
				return nil, errors.New("unexpected signing method")
			}
			return s.secret, nil
		})
		if err != nil || token == nil || !token.Valid {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: "UNAUTHORIZED"})
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: "UNAUTHORIZED"})
		}

		sub, ok := claims["sub"].(float64)
		if !ok || sub <= 0 {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: "UNAUTHORIZED"})
		}

		c.Set(ctxUserIDKey, int64(sub))
		return next(c)
	}
}

func (s *Server) deleteTokensOfLocked(userID int64) {
	for h, rt := range s.tokens {
		if rt.UserID == userID {
			delete(s.tokens, h)
		}
	}
}

// refresh token生成（平文 + 保存用hash）
func newRandomTokenAndHash() (plain string, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}

	plain = base64.RawURLEncoding.EncodeToString(b)
	return plain, hashToken(plain), nil
}

func hashToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
