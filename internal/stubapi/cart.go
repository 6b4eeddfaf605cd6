package stubapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"storefront/internal/domain/model"
)

// GET /cart
func (s *Server) getCart(c echo.Context) error {
	userID, _ := c.Get(ctxUserIDKey).(int64)

	s.mu.Lock()
	lines := append([]model.CartLine(nil), s.carts[userID]...)
	s.mu.Unlock()

	if lines == nil {
		lines = []model.CartLine{}
	}
	return c.JSON(http.StatusOK, lines)
}

// PUT /cart（全置き換え）
func (s *Server) putCart(c echo.Context) error {
	userID, _ := c.Get(ctxUserIDKey).(int64)

	var lines []model.CartLine
	if err := c.Bind(&lines); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "VALIDATION_ERROR"})
	}

	//数量0以下の行は受け付けない
	for _, l := range lines {
		if l.Quantity < 1 || l.ProductID <= 0 {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "VALIDATION_ERROR"})
		}
	}

	s.mu.Lock()
	if s.conflictPutsLeft > 0 {
		s.conflictPutsLeft--
		s.mu.Unlock()
		return c.JSON(http.StatusConflict, errorResponse{Error: "CONFLICT"})
	}
	s.carts[userID] = append([]model.CartLine(nil), lines...)
	s.mu.Unlock()

	return c.JSON(http.StatusOK, map[string]string{"message": "ok"})
}
