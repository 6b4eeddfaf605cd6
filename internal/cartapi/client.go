package cartapi

import (
	"context"
	"fmt"
	"net/http"

	"storefront/internal/domain/model"
	"storefront/internal/gateway"
)

// Request Gatewayへの依存はこのインタフェースに絞る（テストで差し替える）。
type Sender interface {
	Send(ctx context.Context, req gateway.Request) (*gateway.Response, error)
}

// サーバーカートAPI（外部コラボレータ）への口。
type Client interface {
	Get(ctx context.Context) ([]model.CartLine, error)
	Put(ctx context.Context, lines []model.CartLine) error
}

type HTTPClient struct {
	gw Sender
}

// DI
func NewHTTPClient(gw Sender) *HTTPClient {
	return &HTTPClient{gw: gw}
}

// GET /cart
func (c *HTTPClient) Get(ctx context.Context) ([]model.CartLine, error) {
	resp, err := c.gw.Send(ctx, gateway.Request{
		Method: http.MethodGet,
		Path:   "/cart",
	})
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusOK {
		return nil, fmt.Errorf("cart api status %d", resp.Status)
	}

	var lines []model.CartLine
	if err := resp.Decode(&lines); err != nil {
		return nil, err
	}
	return lines, nil
}

// PUT /cart（全置き換え）
func (c *HTTPClient) Put(ctx context.Context, lines []model.CartLine) error {
	if lines == nil {
		lines = []model.CartLine{}
	}

	resp, err := c.gw.Send(ctx, gateway.Request{
		Method: http.MethodPut,
		Path:   "/cart",
		Body:   lines,
	})
	if err != nil {
		return err
	}
	if resp.Status != http.StatusOK {
		return fmt.Errorf("cart api status %d", resp.Status)
	}
	return nil
}
