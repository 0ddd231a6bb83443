package handler

import (
	"encoding/json"
	"strconv"

	"escrowsystem/internal/service"
	"escrowsystem/pkg/response"

	"github.com/gin-gonic/gin"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	escrowService     *service.EscrowService
	settlementService *service.SettlementService
	commissionService *service.CommissionService
}

func NewHandler(escrowService *service.EscrowService, settlementService *service.SettlementService, commissionService *service.CommissionService) *Handler {
	return &Handler{
		escrowService:     escrowService,
		settlementService: settlementService,
		commissionService: commissionService,
	}
}

// ============================================================
// 托管相关接口
// ============================================================

// CreateEscrow 创建托管及其里程碑，request_id 幂等
// POST /api/v1/escrow/create
func (h *Handler) CreateEscrow(c *gin.Context) {
	var req service.CreateEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	detail, err := h.escrowService.CreateEscrow(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, detail)
}

// GetEscrow 查询托管详情
// GET /api/v1/escrow/detail?escrow_id=xxx
func (h *Handler) GetEscrow(c *gin.Context) {
	escrowID := c.Query("escrow_id")
	if escrowID == "" {
		response.ParamError(c, "escrow_id 参数不能为空")
		return
	}

	detail, err := h.escrowService.GetEscrow(c.Request.Context(), escrowID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, detail)
}

// ListMilestones 查询里程碑
// GET /api/v1/escrow/milestones?escrow_id=xxx
func (h *Handler) ListMilestones(c *gin.Context) {
	escrowID := c.Query("escrow_id")
	if escrowID == "" {
		response.ParamError(c, "escrow_id 参数不能为空")
		return
	}

	milestones, err := h.escrowService.ListMilestones(c.Request.Context(), escrowID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{"list": milestones})
}

// ListTransactions 托管流水
// GET /api/v1/escrow/ledger?escrow_id=xxx&page=1&page_size=20
func (h *Handler) ListTransactions(c *gin.Context) {
	escrowID := c.Query("escrow_id")
	if escrowID == "" {
		response.ParamError(c, "escrow_id 参数不能为空")
		return
	}

	page, pageSize := pageParams(c)

	list, total, err := h.escrowService.ListTransactions(c.Request.Context(), escrowID, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      list,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ListEscrows 参与方的托管列表
// GET /api/v1/escrow/list?party_id=xxx&page=1&page_size=20
func (h *Handler) ListEscrows(c *gin.Context) {
	partyID := c.Query("party_id")
	if partyID == "" {
		response.ParamError(c, "party_id 参数不能为空")
		return
	}

	page, pageSize := pageParams(c)

	list, total, err := h.escrowService.ListByParty(c.Request.Context(), partyID, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      list,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 结算动作
// ============================================================

// ApplyRequest payload 的结构由 action 决定，多余字段或缺失字段直接拒绝
type ApplyRequest struct {
	EscrowID string          `json:"escrow_id" binding:"required"`
	ActorID  string          `json:"actor_id" binding:"required"`
	Action   string          `json:"action" binding:"required"`
	Payload  json.RawMessage `json:"payload"`
}

// Apply 执行结算动作
// POST /api/v1/escrow/apply
func (h *Handler) Apply(c *gin.Context) {
	var req ApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	action, err := service.DecodeAction(req.Action, req.Payload)
	if err != nil {
		writeError(c, err)
		return
	}

	result, err := h.settlementService.Apply(c.Request.Context(), req.EscrowID, req.ActorID, action)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, result)
}

// ============================================================
// 佣金报价
// ============================================================

// Quote 佣金与代扣税试算
// POST /api/v1/commission/quote
func (h *Handler) Quote(c *gin.Context) {
	var req service.QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	breakdown, err := h.commissionService.Calculate(&req)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"breakdown": breakdown,
		"net":       breakdown.Net(),
	})
}

// pageParams 返回值与服务层实际使用的分页一致
func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return service.NormalizePage(page, pageSize)
}
