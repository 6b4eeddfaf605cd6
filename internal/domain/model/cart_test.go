package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func line(productID int64, qty int64, price int64) CartLine {
	return CartLine{
		ProductID: productID,
		Quantity:  qty,
		UnitPrice: price,
		Name:      "product",
		AddedAt:   time.Now(),
	}
}

func TestCartAdd_SameProductAccumulates(t *testing.T) {
	c := NewCart(CartOriginLocal)

	c.Add(line(1, 1, 100))
	c.Add(line(1, 2, 100))

	assert.Len(t, c.Lines, 1)
	assert.Equal(t, int64(3), c.Lines[1].Quantity)
}

func TestCartAdd_IgnoresNonPositiveQuantity(t *testing.T) {
	c := NewCart(CartOriginLocal)

	c.Add(line(1, 0, 100))
	c.Add(line(2, -5, 100))

	assert.True(t, c.IsEmpty())
}

func TestCartSetQuantity(t *testing.T) {
	c := NewCart(CartOriginLocal)
	c.Add(line(1, 3, 100))

	c.SetQuantity(1, 5)
	assert.Equal(t, int64(5), c.Lines[1].Quantity)

	//0で行ごと削除。quantity=0の行は決して残らない
	c.SetQuantity(1, 0)
	_, ok := c.Lines[1]
	assert.False(t, ok)

	//存在しない商品は何もしない
	c.SetQuantity(99, 3)
	assert.True(t, c.IsEmpty())
}

// add/setをどう重ねてもquantityは常に1以上。
func TestCartQuantityInvariant(t *testing.T) {
	c := NewCart(CartOriginLocal)

	c.Add(line(1, 1, 100))
	c.Add(line(1, 1, 100))
	c.SetQuantity(1, 1)
	c.Add(line(2, 4, 50))
	c.SetQuantity(2, 0)
	c.Add(line(3, 2, 30))
	c.SetQuantity(3, -1)
	c.Add(line(4, 1, 10))

	for id, l := range c.Lines {
		assert.GreaterOrEqualf(t, l.Quantity, int64(1), "product %d", id)
	}
}

func TestCartTotal(t *testing.T) {
	c := NewCart(CartOriginServer)
	c.Add(line(1, 2, 100))
	c.Add(line(2, 3, 50))

	assert.Equal(t, int64(350), c.Total())
}

func TestCartLinesSlice_SortedByProductID(t *testing.T) {
	c := NewCart(CartOriginLocal)
	c.Add(line(30, 1, 1))
	c.Add(line(10, 1, 1))
	c.Add(line(20, 1, 1))

	lines := c.LinesSlice()
	assert.Equal(t, []int64{10, 20, 30}, []int64{lines[0].ProductID, lines[1].ProductID, lines[2].ProductID})
}

func TestMerge_SumsQuantities(t *testing.T) {
	local := CartFromLines(CartOriginLocal, []CartLine{line(1, 2, 90)})
	server := CartFromLines(CartOriginServer, []CartLine{line(1, 1, 100), line(2, 3, 50)})

	merged := Merge(local, server)

	assert.Equal(t, CartOriginServer, merged.Origin)
	assert.Len(t, merged.Lines, 2)
	assert.Equal(t, int64(3), merged.Lines[1].Quantity)
	assert.Equal(t, int64(3), merged.Lines[2].Quantity)
	//価格はサーバー側を正とする
	assert.Equal(t, int64(100), merged.Lines[1].UnitPrice)
}

func TestMerge_EmptyLocalKeepsServerUnchanged(t *testing.T) {
	local := NewCart(CartOriginLocal)
	server := CartFromLines(CartOriginServer, []CartLine{line(1, 1, 100), line(2, 3, 50)})

	merged := Merge(local, server)

	assert.Equal(t, server.LinesSlice(), merged.LinesSlice())
}

func TestMerge_EmptyServerKeepsLocalUnchanged(t *testing.T) {
	local := CartFromLines(CartOriginLocal, []CartLine{line(1, 2, 90), line(3, 1, 10)})
	server := NewCart(CartOriginServer)

	merged := Merge(local, server)

	assert.Equal(t, local.LinesSlice(), merged.LinesSlice())
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	local := CartFromLines(CartOriginLocal, []CartLine{line(1, 2, 90)})
	server := CartFromLines(CartOriginServer, []CartLine{line(1, 1, 100)})

	_ = Merge(local, server)

	assert.Equal(t, int64(2), local.Lines[1].Quantity)
	assert.Equal(t, int64(1), server.Lines[1].Quantity)
}
