package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"storefront/internal/session"
)

var (
	//一見有効なトークンをサーバーが拒否し続けた。再試行しない
	ErrAuthorizationRejected = errors.New("authorization rejected")
	//タイムアウト・接続失敗。更新は走らせない。後で再試行してよい
	ErrTransient = errors.New("transient network failure")
	//カート書き込みがサーバーに弾かれた（stale versionなど）。自動解決しない
	ErrPersistenceConflict = errors.New("persistence conflict")
)

// セッション側に要求する操作。session.Managerが実装する。
type TokenSource interface {
	GetValidToken(ctx context.Context) (string, error)
	Renew(ctx context.Context, stale string) (string, error)
	Clear(ctx context.Context) error
}

// Requestは再送のために素材のまま持つ。bodyは試行ごとにJSONへ直す。
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

type Response struct {
	Status int
	Body   []byte
}

func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Gatewayは認証付きの外向き呼び出しを全て仲介する。
// 401は一度だけ更新→再送。二度目の401はそれ以上追わない。
type Gateway struct {
	baseURL     string
	http        *http.Client
	tokens      TokenSource
	breaker     *gobreaker.CircuitBreaker[*http.Response]
	onSignedOut func()
	log         zerolog.Logger
}

// DI。onSignedOutは強制サインアウト時のフック（サインイン画面への誘導など）。nil可。
func New(baseURL string, timeout time.Duration, tokens TokenSource, onSignedOut func(), log zerolog.Logger) *Gateway {
	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:    "gateway",
		Timeout: 30 * time.Second,
	})

	return &Gateway{
		baseURL:     baseURL,
		http:        &http.Client{Timeout: timeout},
		tokens:      tokens,
		breaker:     breaker,
		onSignedOut: onSignedOut,
		log:         log.With().Str("component", "gateway").Logger(),
	}
}

// Sendは有効なトークンを付けて1回呼ぶ。401なら単一フライト更新を経て同一リクエストを一度だけ再送する。
func (g *Gateway) Send(ctx context.Context, req Request) (*Response, error) {
	token, err := g.tokens.GetValidToken(ctx)
	if err != nil {
		if errors.Is(err, session.ErrRenewalFailed) {
			g.signOut()
		}
		return nil, err
	}

	resp, err := g.do(ctx, req, token)
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusUnauthorized {
		return g.finish(req, resp)
	}

	//送信時点で有効だったはずのトークンが拒否された。一度だけ更新して再送
	g.log.Debug().Str("path", req.Path).Msg("401 on valid token, renewing once")

	fresh, err := g.tokens.Renew(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrRenewalFailed) {
			g.signOut()
		}
		return nil, err
	}

	resp, err = g.do(ctx, req, fresh)
	if err != nil {
		return nil, err
	}
	if resp.Status == http.StatusUnauthorized {
		//2連続の401。無限ループにしないためここで打ち切って強制サインアウト
		_ = g.tokens.Clear(ctx)
		g.signOut()
		return nil, ErrAuthorizationRejected
	}

	return g.finish(req, resp)
}

// doは1回分のHTTP呼び出し。タイムアウト・接続失敗・ブレーカー開はすべてErrTransientに畳む。
func (g *Gateway) do(ctx context.Context, req Request, token string) (*Response, error) {
	u := g.baseURL + req.Path
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u, body)
	if err != nil {
		return nil, err
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)

	httpResp, err := g.breaker.Execute(func() (*http.Response, error) {
		return g.http.Do(httpReq)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open", ErrTransient)
		}
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	return &Response{Status: httpResp.StatusCode, Body: data}, nil
}

// finishは認証以外のステータスを仕分ける。
func (g *Gateway) finish(req Request, resp *Response) (*Response, error) {
	switch {
	case resp.Status == http.StatusConflict:
		return resp, fmt.Errorf("%w: %s %s", ErrPersistenceConflict, req.Method, req.Path)
	case resp.Status >= http.StatusInternalServerError:
		return resp, fmt.Errorf("%w: status %d on %s", ErrTransient, resp.Status, req.Path)
	default:
		return resp, nil
	}
}

func (g *Gateway) signOut() {
	if g.onSignedOut != nil {
		g.onSignedOut()
	}
}
