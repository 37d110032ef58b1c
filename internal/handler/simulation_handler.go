package handler

import (
	"net/http"

	"agent-lab/internal/service"

	"github.com/gin-gonic/gin"
)

type SimulationHandler struct{}

func NewSimulationHandler() *SimulationHandler {
	return &SimulationHandler{}
}

// Run 跑一段梯度下降演示轨迹
func (h *SimulationHandler) Run(c *gin.Context) {
	var req struct {
		Steps        int      `json:"steps" binding:"required"`
		LearningRate float64  `json:"learning_rate" binding:"required"`
		X0           float64  `json:"x0"`
		Target       *float64 `json:"target"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	target := service.DefaultSimulationTarget
	if req.Target != nil {
		target = *req.Target
	}

	steps, err := service.RunSimulation(req.Steps, req.LearningRate, req.X0, target)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"target": target,
		"steps":  steps,
	})
}
