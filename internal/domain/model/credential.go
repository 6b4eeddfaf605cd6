package model

import "time"

// Credentialはアクセストークンとリフレッシュトークンの組。
// 保持・差し替えは session.Manager だけが行う（他から直接触らない）。
type Credential struct {
	AccessToken     string
	RefreshToken    string
	AccessExpiresAt time.Time
}

// リフレッシュトークンを持っているか
func (c Credential) HasRefresh() bool {
	return c.RefreshToken != ""
}

// now時点でアクセストークンがまだ使えるか
func (c Credential) Usable(now time.Time) bool {
	return c.AccessToken != "" && now.Before(c.AccessExpiresAt)
}
