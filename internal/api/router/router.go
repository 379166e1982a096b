package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"stagekeeper/config"
	"stagekeeper/internal/api/handler"
	"stagekeeper/internal/api/middleware"
	"stagekeeper/internal/model"
	"stagekeeper/pkg/jwt"
	"stagekeeper/pkg/redis"
)

// maxBodyBytes 请求体上限（成果内容最长 20000 字符）
const maxBodyBytes = 1 << 20

// Setup 初始化并返回 Gin 路由引擎
func Setup(cfg *config.Config, h *handler.Handler, jwtMgr *jwt.Manager, rdb *redis.Client, logger *zap.Logger) *gin.Engine {
	r := gin.New()

	// ── 全局中间件 ──
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS(cfg.Server.CORS.AllowOrigins))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.BodyLimit(maxBodyBytes))

	// ── 健康检查 ──
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	adminOnly := middleware.RoleAuth(model.RoleAdmin)

	// ── API v1 ──
	v1 := r.Group("/api/v1")
	{
		// 会话模块（令牌由 SessionService 校验）
		session := v1.Group("/session")
		session.Use(middleware.SessionToken())
		{
			session.GET("/me", h.Session.Me)
			session.POST("/revoke", h.Session.Revoke)
		}

		// 门控写操作：会话与阶段状态由 SecureValidate 统一校验
		gated := v1.Group("/projects/:project_id/stages/:stage_id")
		gated.Use(middleware.SessionToken())
		{
			gated.POST("/submissions", h.StageOps.SubmitDeliverable)
			gated.POST("/ranking-votes", h.StageOps.CastRankingVote)
			gated.POST("/comment-rankings", h.StageOps.SubmitCommentRanking)
			gated.POST("/teacher-votes", h.StageOps.CastTeacherVote)
			gated.POST("/proposal-votes", h.StageOps.CastProposalVote)
		}

		// 需要认证的路由
		authorized := v1.Group("")
		authorized.Use(middleware.JWTAuth(jwtMgr, rdb))
		{
			// 阶段模块
			stages := authorized.Group("/projects/:project_id/stages")
			{
				stages.GET("", h.Stage.ListStages)
				stages.GET("/:stage_id", h.Stage.GetStage)
				stages.PUT("/:stage_id/status", adminOnly, h.Stage.OverrideStatus)
				stages.POST("/:stage_id/sync", adminOnly, h.Stage.SyncStage)
				stages.POST("/:stage_id/settle", adminOnly,
					middleware.RateLimit(rdb, cfg.Stage.SettleRateLimit, cfg.Stage.SettleRateWindow),
					h.Settlement.SettleStage)
				stages.POST("/:stage_id/unlock", adminOnly, h.Settlement.UnlockStage)
			}

			// 结算模块
			settlements := authorized.Group("/settlements")
			{
				settlements.POST("/recover", adminOnly, h.Settlement.RecoverStale)
				settlements.GET("/:id", h.Settlement.GetSettlement)
				settlements.GET("/:id/export", middleware.RoleAuth(model.RoleAdmin, model.RoleTeacher), h.Export.ExportSettlement)
			}
		}
	}

	return r
}
