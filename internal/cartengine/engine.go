package cartengine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"storefront/internal/cartapi"
	"storefront/internal/domain/model"
	"storefront/internal/session"
	"storefront/internal/store"
)

var ErrInvalidQuantity = errors.New("invalid quantity")

// UI側へ見せるカートの読み取り専用スナップショット。
type Snapshot struct {
	Authenticated bool
	Origin        model.CartOrigin
	Lines         []model.CartLine
	Total         int64
	LastSyncedAt  time.Time
}

// AddItemの入力。数量は常に+1なので持たない。
type AddItemInput struct {
	ProductID int64
	Name      string
	UnitPrice int64
	ImageURL  string
}

// EngineはCartの唯一の持ち主。
// メモリ上のカートを同期的に更新してから、匿名ならローカルストアへ、
// 認証済みならRequest Gateway経由でサーバーへ永続化する。
// 永続化に失敗しても楽観的更新は巻き戻さず、エラーを呼び出し側へ返す。
type Engine struct {
	remote       cartapi.Client
	local        store.LocalCartStore
	retainServer bool // ログアウト時にサーバーカートを残すか
	now          func() time.Time
	log          zerolog.Logger

	mu     sync.Mutex
	authed bool
	cart   model.Cart

	// 永続化は更新順のまま直列に流す
	persistMu sync.Mutex

	subsMu sync.Mutex
	subs   []chan Snapshot
}

// DI
func NewEngine(remote cartapi.Client, local store.LocalCartStore, retainServerCart bool, log zerolog.Logger) *Engine {
	return &Engine{
		remote:       remote,
		local:        local,
		retainServer: retainServerCart,
		now:          time.Now,
		log:          log.With().Str("component", "cartengine").Logger(),
		cart:         model.NewCart(model.CartOriginLocal),
	}
}

// Bootstrapはコールドスタート時の初期化。
// 未認証ならローカルカートを読み込むだけ。認証済みならそのまま照合へ進む。
func (e *Engine) Bootstrap(ctx context.Context, authenticated bool) error {
	if authenticated {
		return e.Reconcile(ctx)
	}

	lines, err := e.local.Load(ctx)
	if err != nil {
		return err
	}

	cart := model.CartFromLines(model.CartOriginLocal, lines)

	e.mu.Lock()
	e.cart = cart
	e.authed = false
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.notify(snap)
	return nil
}

// RunはTLMの認証イベントを購読して状態遷移を回す。goroutineで動かす。
func (e *Engine) Run(ctx context.Context, events <-chan session.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Authenticated {
				if err := e.Reconcile(ctx); err != nil {
					e.log.Error().Err(err).Msg("reconcile on login failed")
				}
				continue
			}
			e.handleSignOut()
		}
	}
}

// Reconcileはサーバーカートとローカルカートを1つに揃える。ログイン時とコールドスタート時に走る。
//   - ローカルが空: サーバーカートをそのまま採用（書き込み無し）
//   - ローカルが非空: 数量合算でマージし、1回のPUTで保存。
//     ローカルカートを消すのはPUT成功の後だけ（途中失敗で黙って消さない）
func (e *Engine) Reconcile(ctx context.Context) error {
	serverLines, err := e.remote.Get(ctx)
	if err != nil {
		// 取得できないうちは手元の状態を動かさない
		return err
	}

	server := model.CartFromLines(model.CartOriginServer, serverLines)
	server.LastSyncedAt = e.now()

	local, err := e.anonymousLines(ctx)
	if err != nil {
		return err
	}

	if local.IsEmpty() {
		e.adopt(server, true)
		e.log.Info().Int("server_lines", len(server.Lines)).Msg("adopted server cart")
		return nil
	}

	merged := model.Merge(local, server)
	merged.LastSyncedAt = e.now()

	// 手元はマージ結果を見せてしまう（失敗時も巻き戻さない）
	e.adopt(merged, true)

	if err := e.remote.Put(ctx, merged.LinesSlice()); err != nil {
		e.log.Error().Err(err).Msg("post-merge cart write failed, local cart kept")
		return err
	}

	if err := e.local.Clear(ctx); err != nil {
		// サーバーには反映済み。ここで失敗すると次回マージで二重加算しうるので必ずログに残す
		e.log.Error().Err(err).Msg("local cart clear failed after merge")
		return err
	}

	e.log.Info().Int("merged_lines", len(merged.Lines)).Msg("carts merged")
	return nil
}

// 現在の匿名カート。メモリ上に積んだものが最優先、無ければローカルストアから読む
// （コールドスタート直後の認証済み起動はメモリが空のままここへ来る）。
func (e *Engine) anonymousLines(ctx context.Context) (model.Cart, error) {
	e.mu.Lock()
	if e.cart.Origin == model.CartOriginLocal && !e.cart.IsEmpty() {
		local := e.cart.Clone()
		e.mu.Unlock()
		return local, nil
	}
	e.mu.Unlock()

	lines, err := e.local.Load(ctx)
	if err != nil {
		return model.Cart{}, err
	}
	return model.CartFromLines(model.CartOriginLocal, lines), nil
}

// PrepareSignOutはログアウト前に呼ぶ。保持ポリシーが「残さない」ならサーバーカートを空にする。
// トークン破棄の後ではPUTできないので、順序は PrepareSignOut → session.Clear。
func (e *Engine) PrepareSignOut(ctx context.Context) error {
	if e.retainServer {
		return nil
	}
	return e.remote.Put(ctx, nil)
}

// ログアウト。サーバーカートには触らず、まっさらなローカルカートで動き始める。
func (e *Engine) handleSignOut() {
	e.mu.Lock()
	e.cart = model.NewCart(model.CartOriginLocal)
	e.authed = false
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.notify(snap)
	e.log.Info().Msg("switched to anonymous cart")
}

// AddItemは同一商品なら数量+1、無ければ数量1で追加する。
func (e *Engine) AddItem(ctx context.Context, in AddItemInput) (Snapshot, error) {
	e.mu.Lock()
	e.cart.Add(model.CartLine{
		ProductID: in.ProductID,
		Quantity:  1,
		UnitPrice: in.UnitPrice,
		Name:      in.Name,
		ImageURL:  in.ImageURL,
		AddedAt:   e.now(),
	})
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.notify(snap)
	return snap, e.persist(ctx)
}

func (e *Engine) RemoveItem(ctx context.Context, productID int64) (Snapshot, error) {
	e.mu.Lock()
	e.cart.Remove(productID)
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.notify(snap)
	return snap, e.persist(ctx)
}

// SetQuantityは数量を上書きする。0で行ごと削除。負数はエラー。
func (e *Engine) SetQuantity(ctx context.Context, productID int64, qty int64) (Snapshot, error) {
	if qty < 0 {
		return e.Snapshot(), ErrInvalidQuantity
	}

	e.mu.Lock()
	e.cart.SetQuantity(productID, qty)
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.notify(snap)
	return snap, e.persist(ctx)
}

func (e *Engine) Clear(ctx context.Context) (Snapshot, error) {
	e.mu.Lock()
	e.cart.ClearLines()
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.notify(snap)
	return snap, e.persist(ctx)
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Subscribeはカートスナップショットの購読チャネルを返す。
// 受け手が詰まったら古いものから捨てる（最新のスナップショットだけ見えればよい）。
func (e *Engine) Subscribe() <-chan Snapshot {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()

	ch := make(chan Snapshot, 16)
	e.subs = append(e.subs, ch)
	return ch
}

func (e *Engine) notify(snap Snapshot) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()

	for _, ch := range e.subs {
		select {
		case ch <- snap:
		default:
			//詰まっていたら一番古いものを1つ捨てて最新を入れる
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// persistは永続化の時点での最新状態を書く。
// 直列化しているので、書き込み順が前後しても最後に永続化されるのは最新状態になる。
func (e *Engine) persist(ctx context.Context) error {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	e.mu.Lock()
	authed := e.authed
	lines := e.cart.LinesSlice()
	e.mu.Unlock()

	var err error
	if authed {
		err = e.remote.Put(ctx, lines)
	} else {
		err = e.local.Save(ctx, lines)
	}
	if err != nil {
		// 楽観的更新は残したまま、呼び出し側に再試行かロールバックかを委ねる
		e.log.Warn().Err(err).Bool("authenticated", authed).Msg("cart persist failed")
		return err
	}

	e.mu.Lock()
	e.cart.LastSyncedAt = e.now()
	e.mu.Unlock()
	return nil
}

// adoptはカート本体を差し替えて購読者へ流す。
func (e *Engine) adopt(cart model.Cart, authed bool) {
	e.mu.Lock()
	e.cart = cart
	e.authed = authed
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.notify(snap)
}

func (e *Engine) snapshotLocked() Snapshot {
	return Snapshot{
		Authenticated: e.authed,
		Origin:        e.cart.Origin,
		Lines:         e.cart.LinesSlice(),
		Total:         e.cart.Total(),
		LastSyncedAt:  e.cart.LastSyncedAt,
	}
}
