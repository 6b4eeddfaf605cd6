package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"storefront/internal/domain/model"
)

var (
	//400 入力不足
	ErrValidation = errors.New("validation error")
	//401 認証失敗（/auth/refresh ならリフレッシュトークン自体が無効）
	ErrUnauthorized = errors.New("unauthorized")
	//409 email重複など
	ErrConflict = errors.New("conflict")
)

// 認証API（外部コラボレータ）への口。
type Client interface {
	Login(ctx context.Context, email string, password string) (model.Credential, model.User, error)
	Register(ctx context.Context, email string, password string) (model.Credential, model.User, error)
	Refresh(ctx context.Context, refreshToken string) (model.Credential, error)
	Me(ctx context.Context, accessToken string) (model.User, error)
}

type JwtAccessTokenDTO struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type AuthLoginResponse struct {
	User         model.User        `json:"user"`
	Token        JwtAccessTokenDTO `json:"token"`
	RefreshToken string            `json:"refresh_token"`
}

type AuthRefreshResponse struct {
	Token JwtAccessTokenDTO `json:"token"`
	// ローテーション後の新しいリフレッシュトークン。
	// サーバーが返さない場合は空で、手元のものを使い続ける。
	RefreshToken string `json:"refresh_token"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type HTTPClient struct {
	baseURL string
	http    *http.Client
	now     func() time.Time
	log     zerolog.Logger
}

// DI
func NewHTTPClient(baseURL string, timeout time.Duration, log zerolog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		now:     time.Now,
		log:     log.With().Str("component", "authapi").Logger(),
	}
}

func (c *HTTPClient) Login(ctx context.Context, email string, password string) (model.Credential, model.User, error) {
	var out AuthLoginResponse
	if err := c.postJSON(ctx, "/auth/login", loginRequest{Email: email, Password: password}, &out); err != nil {
		return model.Credential{}, model.User{}, err
	}
	return c.toCredential(out.Token, out.RefreshToken), out.User, nil
}

func (c *HTTPClient) Register(ctx context.Context, email string, password string) (model.Credential, model.User, error) {
	var out AuthLoginResponse
	if err := c.postJSON(ctx, "/auth/register", loginRequest{Email: email, Password: password}, &out); err != nil {
		return model.Credential{}, model.User{}, err
	}
	return c.toCredential(out.Token, out.RefreshToken), out.User, nil
}

// Refreshは/auth/refreshを1回だけ叩く。
// 401はErrUnauthorized（リフレッシュトークン無効）として返し、呼び出し側で失効処理に進む。
func (c *HTTPClient) Refresh(ctx context.Context, refreshToken string) (model.Credential, error) {
	var out AuthRefreshResponse
	if err := c.postJSON(ctx, "/auth/refresh", refreshRequest{RefreshToken: refreshToken}, &out); err != nil {
		return model.Credential{}, err
	}

	cred := c.toCredential(out.Token, out.RefreshToken)
	if cred.RefreshToken == "" {
		cred.RefreshToken = refreshToken
	}
	return cred, nil
}

func (c *HTTPClient) Me(ctx context.Context, accessToken string) (model.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/me", nil)
	if err != nil {
		return model.User{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return model.User{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.User{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return model.User{}, statusError(resp.StatusCode, data)
	}

	var user model.User
	if err := json.Unmarshal(data, &user); err != nil {
		return model.User{}, err
	}
	return user, nil
}

func (c *HTTPClient) toCredential(token JwtAccessTokenDTO, refreshToken string) model.Credential {
	return model.Credential{
		AccessToken:     token.AccessToken,
		RefreshToken:    refreshToken,
		AccessExpiresAt: c.now().Add(time.Duration(token.ExpiresIn) * time.Second),
	}
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		c.log.Debug().Int("status", resp.StatusCode).Str("path", path).Msg("auth api error")
		return statusError(resp.StatusCode, data)
	}

	return json.Unmarshal(data, out)
}

func statusError(status int, body []byte) error {
	var er errorResponse
	_ = json.Unmarshal(body, &er)

	switch status {
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrValidation, er.Error)
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, er.Error)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrConflict, er.Error)
	default:
		return fmt.Errorf("auth api status %d: %s", status, er.Error)
	}
}
