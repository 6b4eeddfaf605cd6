package main

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"storefront/internal/authapi"
	"storefront/internal/cartapi"
	"storefront/internal/cartengine"
	"storefront/internal/config"
	"storefront/internal/gateway"
	"storefront/internal/infra/db"
	infraStore "storefront/internal/infra/store"
	"storefront/internal/session"
)

func main() {
	//.envは無ければ無いでよい（本番は環境変数だけ）
	_ = godotenv.Load()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	//ローカル永続化（sqlite）
	gormDB, err := db.Connect(cfg.LocalDBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("local db connect failed")
	}
	if err := infraStore.Migrate(gormDB); err != nil {
		log.Fatal().Err(err).Msg("local db migrate failed")
	}

	accessStore := infraStore.NewAccessTokenMemoryStore()
	refreshStore := infraStore.NewRefreshTokenGormStore(gormDB)
	localCart := infraStore.NewLocalCartGormStore(gormDB)

	httpTimeout := time.Duration(cfg.HTTPTimeoutSeconds) * time.Second
	renewTimeout := time.Duration(cfg.RenewTimeoutSeconds) * time.Second

	//認証API → TLM → Gateway → カートAPI → CRE の順に組む
	authClient := authapi.NewHTTPClient(cfg.APIBaseURL, httpTimeout, log)
	sessionMgr := session.NewManager(authClient, accessStore, refreshStore, renewTimeout, log)

	onSignedOut := func() {
		//本来はここでサインイン画面へ誘導する
		log.Warn().Msg("signed out, reauthentication required")
	}
	gw := gateway.New(cfg.APIBaseURL, httpTimeout, sessionMgr, onSignedOut, log)
	cartClient := cartapi.NewHTTPClient(gw)
	engine := cartengine.NewEngine(cartClient, localCart, cfg.RetainServerCart, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	//コールドスタート復帰
	if err := sessionMgr.Restore(ctx); err != nil {
		log.Fatal().Err(err).Msg("session restore failed")
	}
	go engine.Run(ctx, sessionMgr.Subscribe())
	if err := engine.Bootstrap(ctx, sessionMgr.Authenticated()); err != nil {
		log.Error().Err(err).Msg("cart bootstrap failed")
	}

	//デモ: DEMO_EMAIL/DEMO_PASSWORDがあればログインして照合まで流す
	if email := os.Getenv("DEMO_EMAIL"); email != "" {
		cred, user, err := authClient.Login(ctx, email, os.Getenv("DEMO_PASSWORD"))
		if err != nil {
			log.Fatal().Err(err).Msg("demo login failed")
		}
		if err := sessionMgr.SetCredential(ctx, cred); err != nil {
			log.Warn().Err(err).Msg("credential persist failed")
		}
		log.Info().Int64("user_id", user.ID).Msg("logged in")

		//イベント経由の照合が走るのを少し待つ
		time.Sleep(500 * time.Millisecond)
	}

	snap := engine.Snapshot()
	log.Info().
		Bool("authenticated", snap.Authenticated).
		Str("origin", string(snap.Origin)).
		Int("lines", len(snap.Lines)).
		Int64("total", snap.Total).
		Msg("cart state")
}
