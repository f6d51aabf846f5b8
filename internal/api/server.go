// Package api serves a read-only status view of the running ledger.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"stockpurse/internal/domain"
	"stockpurse/internal/engine"
	"stockpurse/internal/infra"
	"stockpurse/internal/ledger"
)

// LedgerReader is the part of the ledger the status API reads.
type LedgerReader interface {
	Snapshot() ledger.Snapshot
	Order(id domain.OrderID) (*domain.Order, bool)
}

// RoundReader exposes the last round summary.
type RoundReader interface {
	LastRound() (engine.RoundSummary, bool)
}

// WarningReader lists journaled consistency warnings.
type WarningReader interface {
	ListWarnings(limit int) ([]domain.ConsistencyWarning, error)
}

// Handler serves the status endpoints. rounds and warnings may be nil.
type Handler struct {
	ledger   LedgerReader
	rounds   RoundReader
	warnings WarningReader
}

func NewHandler(l LedgerReader, rounds RoundReader, warnings WarningReader) *Handler {
	return &Handler{ledger: l, rounds: rounds, warnings: warnings}
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	RegisterRoutes(router, h)
	return router
}

func RegisterRoutes(router *gin.Engine, h *Handler) {
	router.GET("/healthz", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.GET("/ledger", h.GetLedger)
		api.GET("/orders", h.ListOrders)
		api.GET("/orders/:id", h.GetOrder)
		api.GET("/warnings", h.ListWarnings)
		api.GET("/rounds/last", h.GetLastRound)
	}
}

// LedgerView is the JSON shape of GET /api/ledger. Cent amounts are also
// given in dollars.
type LedgerView struct {
	Account              string           `json:"account"`
	Instrument           string           `json:"instrument"`
	Position             int64            `json:"position"`
	PositionWithOpenAsks int64            `json:"position_with_open_asks"`
	PositionWithOpenBids int64            `json:"position_with_open_bids"`
	Basis                int64            `json:"basis"`
	BasisUSD             decimal.Decimal  `json:"basis_usd"`
	LastPrice            *int64           `json:"last_price,omitempty"`
	LastPriceUSD         *decimal.Decimal `json:"last_price_usd,omitempty"`
	Value                *int64           `json:"value,omitempty"`
	ValueUSD             *decimal.Decimal `json:"value_usd,omitempty"`
	OpenBids             int              `json:"open_bids"`
	OpenAsks             int              `json:"open_asks"`
	ClosedOrders         int              `json:"closed_orders"`
}

func newLedgerView(s ledger.Snapshot) LedgerView {
	v := LedgerView{
		Account:              s.Account,
		Instrument:           s.Instrument.String(),
		Position:             s.Position,
		PositionWithOpenAsks: s.PositionWithOpenAsks,
		PositionWithOpenBids: s.PositionWithOpenBids,
		Basis:                s.Basis,
		BasisUSD:             domain.CentsToDollars(s.Basis),
		LastPrice:            s.LastPrice,
		Value:                s.Value,
		OpenBids:             len(s.OpenBids),
		OpenAsks:             len(s.OpenAsks),
		ClosedOrders:         len(s.ClosedBids) + len(s.ClosedAsks),
	}
	if s.LastPrice != nil {
		d := domain.CentsToDollars(*s.LastPrice)
		v.LastPriceUSD = &d
	}
	if s.Value != nil {
		d := domain.CentsToDollars(*s.Value)
		v.ValueUSD = &d
	}
	return v
}

// GET /healthz
func (h *Handler) Health(c *gin.Context) {
	snap := infra.GlobalMetrics.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": snap.ActiveConnections,
		"errors":      snap.ErrorsTotal,
	})
}

// GET /api/ledger
func (h *Handler) GetLedger(c *gin.Context) {
	c.JSON(http.StatusOK, newLedgerView(h.ledger.Snapshot()))
}

// GET /api/orders?state=open|closed
func (h *Handler) ListOrders(c *gin.Context) {
	s := h.ledger.Snapshot()

	var orders []*domain.Order
	switch c.DefaultQuery("state", "all") {
	case "open":
		orders = append(append(orders, s.OpenBids...), s.OpenAsks...)
	case "closed":
		orders = append(append(orders, s.ClosedBids...), s.ClosedAsks...)
	case "all":
		orders = append(append(append(append(orders, s.OpenBids...), s.OpenAsks...), s.ClosedBids...), s.ClosedAsks...)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "state must be open, closed or all"})
		return
	}
	if orders == nil {
		orders = []*domain.Order{}
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

// GET /api/orders/:id
func (h *Handler) GetOrder(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order id"})
		return
	}
	o, ok := h.ledger.Order(domain.OrderID(id))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": domain.ErrUnknownOrder.Error()})
		return
	}
	c.JSON(http.StatusOK, o)
}

// GET /api/warnings?limit=50
func (h *Handler) ListWarnings(c *gin.Context) {
	if h.warnings == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "journal disabled"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return
	}
	ws, err := h.warnings.ListWarnings(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"warnings": ws, "count": len(ws)})
}

// GET /api/rounds/last
func (h *Handler) GetLastRound(c *gin.Context) {
	if h.rounds == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no runner"})
		return
	}
	sum, ok := h.rounds.LastRound()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no round completed yet"})
		return
	}
	c.JSON(http.StatusOK, sum)
}

// Server runs the status router until its context ends.
type Server struct {
	srv *http.Server
}

func NewServer(addr string, router http.Handler) *Server {
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Status API listening", slog.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
