package config

import (
	"fmt"
	"os"
	"strconv"
)

// Configはクライアントエンジン全体の設定
type Config struct {
	APIBaseURL string // リモートAPIのベースURL（必須）

	HTTPTimeoutSeconds  int // Request Gatewayの通信タイムアウト（秒）
	RenewTimeoutSeconds int // /auth/refresh のタイムアウト（秒）

	LocalDBPath string // ローカル永続化（sqlite）のファイルパス

	RetainServerCart bool // ログアウト時にサーバーカートを残すか

	GoEnv string // dev/prod
}

// Loadは環境変数から設定を組み立てる
func Load() (Config, error) {
	cfg := Config{
		APIBaseURL: os.Getenv("API_BASE_URL"),

		HTTPTimeoutSeconds:  atoiOr("HTTP_TIMEOUT_SECONDS", 10),
		RenewTimeoutSeconds: atoiOr("RENEW_TIMEOUT_SECONDS", 10),

		LocalDBPath: getenv("LOCAL_DB_PATH", "storefront.db"),

		RetainServerCart: boolOr("RETAIN_SERVER_CART", true),

		GoEnv: getenv("GO_ENV", "dev"),
	}

	//必須チェック
	if cfg.APIBaseURL == "" {
		return Config{}, fmt.Errorf("API_BASE_URL is required")
	}
	if cfg.HTTPTimeoutSeconds <= 0 {
		return Config{}, fmt.Errorf("HTTP_TIMEOUT_SECONDS must be positive")
	}
	if cfg.RenewTimeoutSeconds <= 0 {
		return Config{}, fmt.Errorf("RENEW_TIMEOUT_SECONDS must be positive")
	}

	return cfg, nil
}

func getenv(key string, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func atoiOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func boolOr(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True":
		return true
	case "0", "false", "FALSE", "False":
		return false
	default:
		return def
	}
}
