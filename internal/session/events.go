package session

// Eventは認証状態のフリップ（認証⇄未認証）を知らせる。
// 更新成功のように状態が変わらない操作では流れない。
type Event struct {
	Authenticated bool
}

// Subscribeは認証イベントの購読チャネルを返す。
// 購読側が詰まった場合そのイベントは落とすので、受け手は必ず消費し続けること。
func (m *Manager) Subscribe() <-chan Event {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	ch := make(chan Event, 16)
	m.subs = append(m.subs, ch)
	return ch
}

// notifyは状態フリップを全購読者へ流す。
// 呼び出し順＝配送順を守るためsubsMuで直列化する。
func (m *Manager) notify(ev Event) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
			m.log.Warn().Bool("authenticated", ev.Authenticated).Msg("subscriber too slow, event dropped")
		}
	}
}
