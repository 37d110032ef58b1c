package router

import (
	"agent-lab/internal/handler"
	"agent-lab/internal/service"

	"github.com/gin-gonic/gin"
)

func SetupRouter(svcCtx *service.ServiceContext) *gin.Engine {
	r := gin.Default()

	// CORS
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// 初始化handlers
	banditHandler := handler.NewBanditHandler(svcCtx.BanditService, svcCtx.ExplainService)
	simulationHandler := handler.NewSimulationHandler()
	runHandler := handler.NewRunHandler(svcCtx.RunService)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "healthy", "service": "agent-lab"})
	})

	// 事件推送
	r.GET("/ws", handler.HandleWebSocket(svcCtx.Hub))

	// API路由
	api := r.Group("/api")
	{
		// 老虎机实验
		bandits := api.Group("/bandits")
		{
			bandits.POST("", banditHandler.CreateExperiment)
			bandits.GET("", banditHandler.ListExperiments)
			bandits.GET("/:id", banditHandler.GetExperiment)
			bandits.POST("/:id/pick", banditHandler.Pick)
			bandits.POST("/:id/reward", banditHandler.Reward)
			bandits.GET("/:id/metrics", banditHandler.Metrics)
			bandits.POST("/:id/explain", banditHandler.Explain)
		}

		// 梯度下降演示
		api.POST("/simulate", simulationHandler.Run)

		// 后台模型运行
		runs := api.Group("/runs")
		{
			runs.POST("/chat", runHandler.CreateChatRun)
			runs.POST("/code-analysis", runHandler.CreateCodeAnalysisRun)
			runs.GET("", runHandler.ListRuns)
			runs.GET("/:id", runHandler.GetRun)
		}
	}

	return r
}
