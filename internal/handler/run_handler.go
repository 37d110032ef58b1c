package handler

import (
	"net/http"

	"agent-lab/internal/service"

	"github.com/gin-gonic/gin"
)

type RunHandler struct {
	runService *service.RunService
}

func NewRunHandler(runService *service.RunService) *RunHandler {
	return &RunHandler{runService: runService}
}

// CreateChatRun 提交聊天实验，立即返回，不等待推理
func (h *RunHandler) CreateChatRun(c *gin.Context) {
	var req struct {
		Prompt string `json:"prompt" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	run, err := h.runService.SubmitChat(c.Request.Context(), req.Prompt)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id": run.ID,
		"status": run.Status,
	})
}

// CreateCodeAnalysisRun 提交代码分析实验
func (h *RunHandler) CreateCodeAnalysisRun(c *gin.Context) {
	var req struct {
		Code string `json:"code" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	run, err := h.runService.SubmitCodeAnalysis(c.Request.Context(), req.Code)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id": run.ID,
		"status": run.Status,
	})
}

// ListRuns 列出运行记录
func (h *RunHandler) ListRuns(c *gin.Context) {
	runs, err := h.runService.ListRuns(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun 查询单条运行记录
func (h *RunHandler) GetRun(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	run, err := h.runService.GetRun(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run":           run,
		"input_payload": run.GetInputPayload(),
	})
}
