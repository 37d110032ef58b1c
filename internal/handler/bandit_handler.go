package handler

import (
	"errors"
	"net/http"
	"strconv"

	"agent-lab/internal/service"

	"github.com/gin-gonic/gin"
)

type BanditHandler struct {
	banditService  *service.BanditService
	explainService *service.ExplainService
}

func NewBanditHandler(banditService *service.BanditService, explainService *service.ExplainService) *BanditHandler {
	return &BanditHandler{
		banditService:  banditService,
		explainService: explainService,
	}
}

// statusFromError 错误分类到 HTTP 状态码
func statusFromError(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	c.JSON(statusFromError(err), gin.H{"error": err.Error()})
}

func parseIDParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的ID: " + c.Param(name)})
		return 0, false
	}
	return uint(id), true
}

// CreateExperiment 创建实验
func (h *BanditHandler) CreateExperiment(c *gin.Context) {
	var req struct {
		Name    string   `json:"name"`
		Arms    []string `json:"arms" binding:"required"`
		Policy  string   `json:"policy"`
		Epsilon *float64 `json:"epsilon"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Policy == "" {
		req.Policy = service.PolicyEpsilonGreedy
	}
	epsilon := service.DefaultEpsilon
	if req.Epsilon != nil {
		epsilon = *req.Epsilon
	}

	exp, err := h.banditService.CreateExperiment(c.Request.Context(), req.Name, req.Arms, service.PolicyConfig{
		Kind:    req.Policy,
		Epsilon: epsilon,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"experiment": exp,
		"arms":       exp.Arms(),
	})
}

// ListExperiments 列出所有实验
func (h *BanditHandler) ListExperiments(c *gin.Context) {
	exps, err := h.banditService.ListExperiments(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"experiments": exps,
		"count":       len(exps),
	})
}

// GetExperiment 查询单个实验
func (h *BanditHandler) GetExperiment(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	exp, err := h.banditService.GetExperiment(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"experiment": exp,
		"arms":       exp.Arms(),
	})
}

// Pick 按策略选臂
func (h *BanditHandler) Pick(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req struct {
		Context map[string]interface{} `json:"context"`
	}
	// 允许空 body
	_ = c.ShouldBindJSON(&req)

	pick, err := h.banditService.RecordPick(c.Request.Context(), id, req.Context)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"pick": pick})
}

// Reward 结算回报
func (h *BanditHandler) Reward(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req struct {
		PickID *uint    `json:"pick_id"`
		ArmID  *int     `json:"arm_id"`
		Reward *float64 `json:"reward" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pick, err := h.banditService.RecordReward(c.Request.Context(), id, req.PickID, req.ArmID, *req.Reward)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"pick": pick})
}

// Metrics 全部臂的统计
func (h *BanditHandler) Metrics(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	metrics, err := h.banditService.GetMetrics(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"experiment_id": id,
		"metrics":       metrics,
	})
}

// Explain 为某次 Pick 生成解释
func (h *BanditHandler) Explain(c *gin.Context) {
	if _, ok := parseIDParam(c, "id"); !ok {
		return
	}

	var req struct {
		PickID uint `json:"pick_id" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	explanation, err := h.explainService.Explain(c.Request.Context(), req.PickID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"explanation": explanation})
}
