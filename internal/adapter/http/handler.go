package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/arnold17091984/dealersys/internal/adapter/codemap"
	gameserverReal "github.com/arnold17091984/dealersys/internal/adapter/gameserver/real"
	"github.com/arnold17091984/dealersys/internal/application/bridge"
	"github.com/arnold17091984/dealersys/internal/application/login"
	"github.com/arnold17091984/dealersys/internal/application/record"
	"github.com/arnold17091984/dealersys/internal/application/table"
	"github.com/arnold17091984/dealersys/internal/domain/baccarat"
	"github.com/arnold17091984/dealersys/internal/domain/round"
	"github.com/gin-gonic/gin"
)

// Authenticator 交換荷官憑證，由 login.Service 實作。
type Authenticator interface {
	Authenticate(ctx context.Context) (login.Credential, error)
}

// HealthProvider 回報上游連線狀態，由 bridge.Service 實作。
type HealthProvider interface {
	Status() []bridge.SessionStatus
}

// TableProvider 依桌號取得桌台服務，由 table.Registry 實作。
type TableProvider interface {
	Table(tableNo int) (*table.Service, error)
	Tables() []int
}

// HistoryProvider 查詢牌局紀錄與轉送狀態，由 record.Service 實作。
type HistoryProvider interface {
	RecentRounds(ctx context.Context, limit int) ([]record.RoundRecord, error)
	RoundScans(ctx context.Context, roundID string) ([]record.CardScan, error)
	ForwardStats(ctx context.Context) (record.ForwardStats, error)
}

// CodeMap 維護讀卡機代碼與 slot 對應，由 codemap.Store 實作。
type CodeMap interface {
	Resolve(code string) (baccarat.Card, bool)
	Codes() []codemap.Entry
	Upsert(code string, card baccarat.Card) error
	Delete(code string) error
	Positions() []codemap.Position
	SetPosition(slot baccarat.Slot, intPosi, bankerIntPosi int) error
}

// PublicConfig 是可以公開給操作介面的設定，不含任何金鑰。
type PublicConfig struct {
	TableNo    int    `json:"tableNo"`
	Mode       string `json:"mode"`
	GameServer string `json:"gameServerUrl"`
	WSURL      string `json:"wsUrl"`
	Forwarding bool   `json:"forwardingEnabled"`
	Database   string `json:"database"`
}

// Handler 處理所有 REST API 請求。
type Handler struct {
	auth    Authenticator
	health  HealthProvider
	tables  TableProvider
	history HistoryProvider
	codes   CodeMap
	cfg     PublicConfig
}

// NewHandler 建立一個新的 HTTP Handler。
func NewHandler(cfg PublicConfig, auth Authenticator, health HealthProvider, tables TableProvider, history HistoryProvider, codes CodeMap) *Handler {
	return &Handler{
		auth:    auth,
		health:  health,
		tables:  tables,
		history: history,
		codes:   codes,
		cfg:     cfg,
	}
}

// RegisterRoutes 把所有 API 掛到 r 之下。
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	api := r.Group("/api")
	api.GET("/health", h.HandleHealth)
	api.GET("/config", h.HandleConfig)
	api.POST("/dealer/auth", h.HandleAuth)

	tables := api.Group("/tables/:table")
	{
		tables.GET("", h.HandleTableState)
		tables.POST("/info", h.HandleTableInfo)
		tables.POST("/start", h.tableOp((*table.Service).StartRound))
		tables.POST("/stop", h.tableOp((*table.Service).StopBetting))
		tables.POST("/scan", h.HandleScan)
		tables.POST("/finish", h.tableOp((*table.Service).Finish))
		tables.POST("/next", h.tableOp((*table.Service).NextRound))
		tables.POST("/shuffle", h.tableOp((*table.Service).Shuffle))
		tables.POST("/setlast", h.tableOp((*table.Service).SetLast))
		tables.POST("/pause", h.tableOp((*table.Service).Pause))
		tables.POST("/resume", h.tableOp((*table.Service).Resume))
	}

	data := api.Group("/data")
	{
		data.GET("/rounds", h.HandleRecentRounds)
		data.GET("/rounds/:roundID/scans", h.HandleRoundScans)
		data.GET("/forward/status", h.HandleForwardStatus)
		data.GET("/card-codes", h.HandleListCodes)
		data.GET("/card-codes/:code", h.HandleGetCode)
		data.PUT("/card-codes/:code", h.HandlePutCode)
		data.DELETE("/card-codes/:code", h.HandleDeleteCode)
		data.GET("/scan-positions", h.HandleListPositions)
		data.PUT("/scan-positions/:slot", h.HandlePutPosition)
	}
}

// HandleHealth 回傳上游連線與轉送狀態。
func (h *Handler) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":            "ok",
		"mode":              h.cfg.Mode,
		"sessions":          h.health.Status(),
		"tables":            h.tables.Tables(),
		"forwardingEnabled": h.cfg.Forwarding,
	})
}

func (h *Handler) HandleConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.cfg)
}

// HandleAuth 重新向遊戲伺服器取得荷官憑證。
func (h *Handler) HandleAuth(c *gin.Context) {
	cred, err := h.auth.Authenticate(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": cred.Token, "idx": cred.Index})
}

func (h *Handler) HandleTableState(c *gin.Context) {
	svc, ok := h.table(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, svc.State())
}

// HandleTableInfo 轉發上游的桌台資訊。
func (h *Handler) HandleTableInfo(c *gin.Context) {
	svc, ok := h.table(c)
	if !ok {
		return
	}
	info, err := svc.TableInfo(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", info)
}

type scanRequest struct {
	Code string `json:"code" binding:"required"`
}

// HandleScan 處理讀卡機送來的一張牌。
func (h *Handler) HandleScan(c *gin.Context) {
	svc, ok := h.table(c)
	if !ok {
		return
	}
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := svc.Scan(c.Request.Context(), req.Code); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, svc.State())
}

// tableOp 把沒有參數的桌台指令包成 gin handler，成功時回傳最新狀態。
func (h *Handler) tableOp(op func(*table.Service, context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		svc, ok := h.table(c)
		if !ok {
			return
		}
		if err := op(svc, c.Request.Context()); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, svc.State())
	}
}

func (h *Handler) table(c *gin.Context) (*table.Service, bool) {
	n, err := strconv.Atoi(c.Param("table"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "table must be a number"})
		return nil, false
	}
	svc, err := h.tables.Table(n)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	return svc, true
}

// HandleRecentRounds 回傳最近的牌局紀錄。
func (h *Handler) HandleRecentRounds(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(record.DefaultRecentLimit)))
	if err != nil {
		limit = record.DefaultRecentLimit
	}
	rounds, err := h.history.RecentRounds(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rounds": rounds})
}

func (h *Handler) HandleRoundScans(c *gin.Context) {
	roundID := c.Param("roundID")
	scans, err := h.history.RoundScans(c.Request.Context(), roundID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"gameId": roundID, "scans": scans})
}

func (h *Handler) HandleForwardStatus(c *gin.Context) {
	stats, err := h.history.ForwardStats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) HandleListCodes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"codes": h.codes.Codes()})
}

func (h *Handler) HandleGetCode(c *gin.Context) {
	code := c.Param("code")
	card, ok := h.codes.Resolve(code)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "card code not found"})
		return
	}
	c.JSON(http.StatusOK, codemap.Entry{Code: card.Code, Card: card})
}

type codeRequest struct {
	// Card 是 "sA"、"h10" 格式的牌。
	Card string `json:"card" binding:"required"`
}

func (h *Handler) HandlePutCode(c *gin.Context) {
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	card, err := codemap.ParseLabel(req.Card)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.codes.Upsert(c.Param("code"), card); err != nil {
		writeError(c, err)
		return
	}
	card, _ = h.codes.Resolve(c.Param("code"))
	c.JSON(http.StatusOK, codemap.Entry{Code: card.Code, Card: card})
}

func (h *Handler) HandleDeleteCode(c *gin.Context) {
	if err := h.codes.Delete(c.Param("code")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) HandleListPositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": h.codes.Positions()})
}

type positionRequest struct {
	IntPosi       int `json:"intposi" binding:"required"`
	BankerIntPosi int `json:"bankerIntposi"`
}

func (h *Handler) HandlePutPosition(c *gin.Context) {
	slot, err := strconv.Atoi(c.Param("slot"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "slot must be a number"})
		return
	}
	var req positionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.codes.SetPosition(baccarat.Slot(slot), req.IntPosi, req.BankerIntPosi); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.codes.Positions()[slot])
}

// statusOf 把領域錯誤對應到 HTTP 狀態碼。
func statusOf(err error) int {
	switch {
	case errors.Is(err, round.ErrStateConflict),
		errors.Is(err, round.ErrAlreadySettled),
		errors.Is(err, round.ErrRoundFull):
		return http.StatusConflict
	case errors.Is(err, table.ErrPassiveMode):
		return http.StatusForbidden
	case errors.Is(err, baccarat.ErrDecode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, codemap.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, codemap.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, bridge.ErrUpstreamUnavailable),
		errors.Is(err, login.ErrNotAuthenticated):
		return http.StatusServiceUnavailable
	case errors.Is(err, gameserverReal.ErrRejected):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusOf(err), gin.H{"error": err.Error()})
}
