// 本物のワイヤリング（session → gateway → cartapi → cartengine）を
// インプロセスのスタブAPIに向けて通す結合テスト。
package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"storefront/internal/authapi"
	"storefront/internal/cartapi"
	"storefront/internal/cartengine"
	"storefront/internal/domain/model"
	"storefront/internal/gateway"
	infrastore "storefront/internal/infra/store"
	"storefront/internal/session"
	"storefront/internal/store"
	"storefront/internal/stubapi"
)

// スタブAPIと、それを外から覗くためのハンドル。
type stub struct {
	srv *stubapi.Server
	ts  *httptest.Server
}

type world struct {
	stub   *stub
	local  *infrastore.LocalCartGormStore
	auth   *authapi.HTTPClient
	mgr    *session.Manager
	gw     *gateway.Gateway
	cart   *cartapi.HTTPClient
	engine *cartengine.Engine

	refreshStore *infrastore.RefreshTokenGormStore
}

func newWorld(t *testing.T) *world {
	t.Helper()

	srv := stubapi.New("integration-secret", zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	s := &stub{srv: srv, ts: ts}

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, infrastore.Migrate(db))

	local := infrastore.NewLocalCartGormStore(db)
	access := infrastore.NewAccessTokenMemoryStore()
	refresh := infrastore.NewRefreshTokenGormStore(db)

	authClient := authapi.NewHTTPClient(s.ts.URL, 5*time.Second, zerolog.Nop())
	mgr := session.NewManager(authClient, access, refresh, 5*time.Second, zerolog.Nop())
	gw := gateway.New(s.ts.URL, 5*time.Second, mgr, nil, zerolog.Nop())
	cartClient := cartapi.NewHTTPClient(gw)
	engine := cartengine.NewEngine(cartClient, local, true, zerolog.Nop())

	return &world{
		stub:         s,
		local:        local,
		auth:         authClient,
		mgr:          mgr,
		gw:           gw,
		cart:         cartClient,
		engine:       engine,
		refreshStore: refresh,
	}
}

func (w *world) login(t *testing.T, email, password string) model.User {
	t.Helper()

	cred, user, err := w.auth.Login(context.Background(), email, password)
	require.NoError(t, err)
	require.NoError(t, w.mgr.SetCredential(context.Background(), cred))
	return user
}

func quantities(lines []model.CartLine) map[int64]int64 {
	out := map[int64]int64{}
	for _, l := range lines {
		out[l.ProductID] = l.Quantity
	}
	return out
}

// 匿名カート{X:1, Y:2}を持ったままログイン。サーバーの{X:1}と合算され、
// サーバーカートが{X:2, Y:2}になり、ローカルカートは消える。
func TestLoginMergesAnonymousCart(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	user, err := w.stub.srv.Seed("a@example.com", "password123")
	require.NoError(t, err)
	w.stub.srv.SeedCart(user.ID, []model.CartLine{
		{ProductID: 101, Quantity: 1, UnitPrice: 100, Name: "mug"},
	})

	//匿名のままカートを積む
	require.NoError(t, w.engine.Bootstrap(ctx, false))
	_, err = w.engine.AddItem(ctx, cartengine.AddItemInput{ProductID: 101, Name: "mug", UnitPrice: 90})
	require.NoError(t, err)
	_, err = w.engine.AddItem(ctx, cartengine.AddItemInput{ProductID: 202, Name: "pen", UnitPrice: 50})
	require.NoError(t, err)
	_, err = w.engine.AddItem(ctx, cartengine.AddItemInput{ProductID: 202, Name: "pen", UnitPrice: 50})
	require.NoError(t, err)

	w.login(t, "a@example.com", "password123")
	require.NoError(t, w.engine.Reconcile(ctx))

	//サーバー側が正になっている
	server := quantities(w.stub.srv.CartOf(user.ID))
	assert.Equal(t, map[int64]int64{101: 2, 202: 2}, server)

	//重複商品はサーバーの単価が勝つ
	for _, l := range w.stub.srv.CartOf(user.ID) {
		if l.ProductID == 101 {
			assert.Equal(t, int64(100), l.UnitPrice)
		}
	}

	//ローカルカートは空
	lines, err := w.local.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, lines)

	snap := w.engine.Snapshot()
	assert.True(t, snap.Authenticated)
	assert.Equal(t, model.CartOriginServer, snap.Origin)
	assert.Equal(t, map[int64]int64{101: 2, 202: 2}, quantities(snap.Lines))
}

// 期限切れアクセストークンで5本同時に叩いても/auth/refreshは1回しか飛ばない。
func TestConcurrentRequestsShareOneRenewal(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	_, err := w.stub.srv.Seed("a@example.com", "password123")
	require.NoError(t, err)

	//最初から切れているトークンでログインし、更新後のものは正常な期限にする
	w.stub.srv.SetAccessTTL(-time.Minute)
	w.login(t, "a@example.com", "password123")
	w.stub.srv.SetAccessTTL(30 * time.Minute)

	before := w.stub.srv.RefreshCalls()

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = w.cart.Get(ctx)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "request %d", i)
	}
	assert.Equal(t, int64(1), w.stub.srv.RefreshCalls()-before)
}

// 有効なトークンでも突然401が返ることがある（サーバー側失効）。
// 1回だけ更新して再送し、透過的に成功する。
func TestRetryOnceAfterRejectedToken(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	user, err := w.stub.srv.Seed("a@example.com", "password123")
	require.NoError(t, err)
	w.stub.srv.SeedCart(user.ID, []model.CartLine{
		{ProductID: 1, Quantity: 2, UnitPrice: 100, Name: "mug"},
	})

	w.login(t, "a@example.com", "password123")

	before := w.stub.srv.RefreshCalls()
	w.stub.srv.RejectNextAuthorized(1)

	lines, err := w.cart.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{1: 2}, quantities(lines))
	assert.Equal(t, int64(1), w.stub.srv.RefreshCalls()-before)
	assert.True(t, w.mgr.Authenticated())
}

// リフレッシュトークンが無効なら資格情報を破棄し、未認証イベントを1回だけ流す。
func TestInvalidRefreshSignsOut(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	_, err := w.stub.srv.Seed("a@example.com", "password123")
	require.NoError(t, err)

	w.stub.srv.SetAccessTTL(-time.Minute)
	w.login(t, "a@example.com", "password123")

	events := w.mgr.Subscribe()
	w.stub.srv.FailNextRefresh(http.StatusUnauthorized, 1)

	_, err = w.cart.Get(ctx)
	assert.ErrorIs(t, err, session.ErrRenewalFailed)

	assert.False(t, w.mgr.Authenticated())

	//永続化済みリフレッシュトークンも消えている
	_, err = w.refreshStore.Load(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)

	//未認証イベントはちょうど1回
	select {
	case ev := <-events:
		assert.False(t, ev.Authenticated)
	case <-time.After(time.Second):
		t.Fatal("expected a deauthenticated event")
	}
	select {
	case ev := <-events:
		t.Fatalf("unexpected extra event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

// コールドスタート: 別プロセス相当の新しいManagerがリフレッシュトークンから復帰できる。
func TestColdStartRestoresSession(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	user, err := w.stub.srv.Seed("a@example.com", "password123")
	require.NoError(t, err)
	w.stub.srv.SeedCart(user.ID, []model.CartLine{
		{ProductID: 1, Quantity: 1, UnitPrice: 100, Name: "mug"},
	})

	w.login(t, "a@example.com", "password123")

	//プロセス再起動を模して、同じ永続ストアから組み直す（アクセストークンはメモリなので消える）
	access2 := infrastore.NewAccessTokenMemoryStore()
	mgr2 := session.NewManager(w.auth, access2, w.refreshStore, 5*time.Second, zerolog.Nop())
	require.NoError(t, mgr2.Restore(ctx))
	assert.True(t, mgr2.Authenticated())

	gw2 := gateway.New(w.stub.ts.URL, 5*time.Second, mgr2, nil, zerolog.Nop())
	cart2 := cartapi.NewHTTPClient(gw2)

	lines, err := cart2.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{1: 1}, quantities(lines))
}

// ログインイベント→Run経由の照合、ログアウトイベント→ローカルカート切り替え。
func TestRunReactsToAuthEvents(t *testing.T) {
	w := newWorld(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	user, err := w.stub.srv.Seed("a@example.com", "password123")
	require.NoError(t, err)
	w.stub.srv.SeedCart(user.ID, []model.CartLine{
		{ProductID: 1, Quantity: 3, UnitPrice: 100, Name: "mug"},
	})

	go w.engine.Run(ctx, w.mgr.Subscribe())
	require.NoError(t, w.engine.Bootstrap(ctx, false))

	snaps := w.engine.Subscribe()

	w.login(t, "a@example.com", "password123")

	//照合完了を待つ
	waitSnapshot(t, snaps, func(s cartengine.Snapshot) bool {
		return s.Authenticated && s.Origin == model.CartOriginServer
	})

	require.NoError(t, w.mgr.Clear(ctx))

	waitSnapshot(t, snaps, func(s cartengine.Snapshot) bool {
		return !s.Authenticated && len(s.Lines) == 0
	})

	//サーバーカートは残ったまま
	assert.Len(t, w.stub.srv.CartOf(user.ID), 1)
}

func waitSnapshot(t *testing.T, ch <-chan cartengine.Snapshot, ok func(cartengine.Snapshot) bool) {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-ch:
			if ok(snap) {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for snapshot")
		}
	}
}
