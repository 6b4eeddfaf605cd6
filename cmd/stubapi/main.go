package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"storefront/internal/stubapi"
)

// ローカル開発用のスタブAPIサーバー。
func main() {
	_ = godotenv.Load()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "dev_secret_change_me"
	}

	addr := ":8080"
	if v := os.Getenv("PORT"); v != "" {
		if v[0] != ':' {
			addr = ":" + v
		} else {
			addr = v
		}
	}

	srv := stubapi.New(secret, log)

	//動作確認用のユーザーを1人入れておく
	if _, err := srv.Seed("demo@example.com", "password123"); err != nil {
		log.Fatal().Err(err).Msg("seed failed")
	}

	log.Info().Str("addr", addr).Msg("stub api listening")
	if err := srv.Start(addr); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
