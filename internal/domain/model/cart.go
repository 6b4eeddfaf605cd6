package model

import (
	"sort"
	"time"
)

type CartOrigin string

const (
	CartOriginLocal  CartOrigin = "LOCAL"
	CartOriginServer CartOrigin = "SERVER"
)

// カートの明細。product_id単位で1行。
// 追加時点の価格を必ず保存。
type CartLine struct {
	ProductID int64     `gorm:"primaryKey" json:"product_id"`
	Quantity  int64     `gorm:"not null" json:"quantity"`
	UnitPrice int64     `gorm:"not null;column:unit_price" json:"unit_price"`
	Name      string    `gorm:"not null" json:"name"`
	ImageURL  string    `gorm:"column:image_url" json:"image_url"`
	AddedAt   time.Time `gorm:"not null" json:"added_at"`
}

// Cartは正とするカート本体。
// linesはproduct_idキーのmap（表示順は呼び出し側でソートする）。
// quantityは常に1以上。0になった行は持たず、必ず消す。
type Cart struct {
	Lines        map[int64]CartLine
	Origin       CartOrigin
	LastSyncedAt time.Time
}

func NewCart(origin CartOrigin) Cart {
	return Cart{
		Lines:  map[int64]CartLine{},
		Origin: origin,
	}
}

// スライスからカートを組み立てる（同一商品は数量加算）
func CartFromLines(origin CartOrigin, lines []CartLine) Cart {
	c := NewCart(origin)
	for _, l := range lines {
		c.Add(l)
	}
	return c
}

// Addは明細を追加。同一商品は数量加算。
// quantityが0以下の行は無視する。
func (c *Cart) Add(line CartLine) {
	if line.Quantity <= 0 {
		return
	}
	if cur, ok := c.Lines[line.ProductID]; ok {
		cur.Quantity += line.Quantity
		c.Lines[line.ProductID] = cur
		return
	}
	c.Lines[line.ProductID] = line
}

// SetQuantityは数量を上書き。0以下で行ごと削除。
// 存在しない商品の数量変更は何もしない。
func (c *Cart) SetQuantity(productID int64, qty int64) {
	cur, ok := c.Lines[productID]
	if !ok {
		return
	}
	if qty <= 0 {
		delete(c.Lines, productID)
		return
	}
	cur.Quantity = qty
	c.Lines[productID] = cur
}

func (c *Cart) Remove(productID int64) {
	delete(c.Lines, productID)
}

func (c *Cart) ClearLines() {
	c.Lines = map[int64]CartLine{}
}

func (c Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// 合計金額（unit_price × quantity）
func (c Cart) Total() int64 {
	var total int64
	for _, l := range c.Lines {
		total += l.UnitPrice * l.Quantity
	}
	return total
}

// LinesSliceは明細をproduct_id昇順で返す（mapの順序に依存しない）
func (c Cart) LinesSlice() []CartLine {
	out := make([]CartLine, 0, len(c.Lines))
	for _, l := range c.Lines {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

func (c Cart) Clone() Cart {
	out := Cart{
		Lines:        make(map[int64]CartLine, len(c.Lines)),
		Origin:       c.Origin,
		LastSyncedAt: c.LastSyncedAt,
	}
	for id, l := range c.Lines {
		out.Lines[id] = l
	}
	return out
}

// Mergeはローカルカートをサーバーカートへ寄せる。
//   - 同一商品: 数量はローカル+サーバーの合算。価格・メタはサーバー側を正とする
//   - ローカルにしか無い商品: そのまま追加
//
// 結果はSERVER originの新しいカートで、引数はどちらも変更しない。
func Merge(local Cart, server Cart) Cart {
	merged := NewCart(CartOriginServer)
	for id, l := range server.Lines {
		merged.Lines[id] = l
	}
	for id, l := range local.Lines {
		if cur, ok := merged.Lines[id]; ok {
			cur.Quantity += l.Quantity
			merged.Lines[id] = cur
			continue
		}
		merged.Lines[id] = l
	}
	return merged
}
