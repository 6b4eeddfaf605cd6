package session

import (
	"context"
	"errors"
	"fmt"

	"storefront/internal/authapi"
)

// 単一フライト更新の状態機械。
// IDLE → RENEWING → IDLE（成功・失敗とも）。同時に飛ぶ更新は常に1本だけ。
type renewState int

const (
	stateIdle renewState = iota
	stateRenewing
)

// 更新待ちの継続。1更新サイクルの間だけ生きる。
type renewResult struct {
	token string
	err   error
}

// renewLockedは期限切れトークンの更新入口。muを保持したまま呼び、内部で必ず手放す。
//   - リフレッシュトークンが無ければ通信せず即ErrUnauthenticated
//   - RENEWING中なら待ち行列に入る（2本目の通信は発生させない）
//   - IDLEなら自分がownerとして1本だけ更新を飛ばす
func (m *Manager) renewLocked(ctx context.Context) (string, error) {
	if !m.cred.HasRefresh() {
		m.mu.Unlock()
		return "", ErrUnauthenticated
	}

	if m.state == stateRenewing {
		ch := make(chan renewResult, 1)
		m.waiters = append(m.waiters, ch)
		m.mu.Unlock()

		select {
		case r := <-ch:
			return r.token, r.err
		case <-ctx.Done():
			// 待つのをやめるだけ。更新そのものはownerが完走して行列を履く
			return "", ctx.Err()
		}
	}

	m.state = stateRenewing
	refreshToken := m.cred.RefreshToken
	m.mu.Unlock()

	return m.runRenewal(refreshToken)
}

// runRenewalはowner側の更新1サイクル。
// 呼び出し元のctxには縛られない。途中で誰が待つのをやめても必ず完走する。
func (m *Manager) runRenewal(refreshToken string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.renewTimeout)
	defer cancel()

	cred, err := m.renewer.Refresh(ctx, refreshToken)

	switch {
	case err == nil:
		if setErr := m.SetCredential(context.Background(), cred); setErr != nil {
			// 永続化に失敗してもメモリ上の資格情報はそのまま使える
			m.log.Warn().Err(setErr).Msg("renewed credential not persisted")
		}
		m.log.Info().Msg("access token renewed")
		m.settle(renewResult{token: cred.AccessToken})
		return cred.AccessToken, nil

	case errors.Is(err, authapi.ErrUnauthorized):
		// リフレッシュトークン自体が無効。資格情報を破棄して全員に失敗を配る
		m.log.Warn().Msg("refresh token rejected, signing out")
		_ = m.Clear(context.Background())
		m.settle(renewResult{err: ErrRenewalFailed})
		return "", ErrRenewalFailed

	default:
		// 通信起因の失敗。資格情報は触らない（後で再試行できる）
		werr := fmt.Errorf("renewal: %w", err)
		m.log.Warn().Err(err).Msg("renewal attempt failed")
		m.settle(renewResult{err: werr})
		return "", werr
	}
}

// settleは状態をIDLEへ戻し、待ち行列を積まれた順に履く。
// 各chはバッファ1なので送信でブロックしない（待ち手が居なくても捨てられる）。
func (m *Manager) settle(r renewResult) {
	m.mu.Lock()
	waiters := m.waiters
	m.waiters = nil
	m.state = stateIdle
	m.mu.Unlock()

	for _, ch := range waiters {
		ch <- r
	}
}
