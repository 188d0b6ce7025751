package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"enom_tracker/config"
	"enom_tracker/metrics"
	"enom_tracker/middleware"
	"enom_tracker/models"
	"enom_tracker/services"
)

// Services набор сервисов, которые обслуживает HTTP слой
type Services struct {
	Users     *services.UserService
	Sites     *services.SiteService
	Tickets   *services.TicketService
	Alarms    *services.AlarmService
	Imports   *services.ImportService
	Plans     *services.PlanService
	Priority  *services.PriorityService
	Dashboard *services.DashboardService
	Exports   *services.ExportService
	Cache     *services.CacheService
}

// RouterOptions зависимости маршрутизатора
type RouterOptions struct {
	Services    Services
	Tokens      *middleware.TokenIssuer
	RateLimiter *middleware.RateLimiter
	Metrics     *metrics.Metrics
	CORS        config.CORSConfig
	MaxUploadMB int
	Logger      *zap.Logger
}

// NewRouter собирает gin маршрутизатор
func NewRouter(opts RouterOptions) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := opts.RateLimiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(nil)
	}

	r := gin.New()
	r.Use(middleware.Recovery(logger), middleware.RequestLogger(logger))
	if opts.Metrics != nil {
		r.Use(opts.Metrics.GinMiddleware())
	}
	r.Use(cors.New(corsConfig(opts.CORS)))

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "success",
			"message": "pong",
		})
	})
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}

	svc := opts.Services
	authAPI := NewAuthAPI(svc.Users, opts.Tokens, logger)
	ticketAPI := NewTicketAPI(svc.Tickets)
	alarmAPI := NewAlarmAPI(svc.Alarms, svc.Imports, svc.Sites, opts.MaxUploadMB)
	planAPI := NewPlanAPI(svc.Plans, svc.Exports)
	dashboardAPI := NewDashboardAPI(svc.Dashboard, svc.Priority, svc.Exports, svc.Cache)

	r.POST("/api/auth/token", limiter.AuthRateLimit(), authAPI.IssueToken)

	apiGroup := r.Group("/api")
	apiGroup.Use(opts.Tokens.RequireActor())
	dispatcherOnly := middleware.RequireRole(models.RoleDispatcher)

	apiGroup.GET("/auth/me", authAPI.Me)
	apiGroup.POST("/auth/password", authAPI.ChangePassword)
	apiGroup.GET("/users/technicians", authAPI.ListTechnicians)
	apiGroup.POST("/users", dispatcherOnly, authAPI.CreateUser)

	tickets := apiGroup.Group("/tickets")
	{
		tickets.GET("", ticketAPI.ListTickets)
		tickets.POST("", ticketAPI.CreateTicket)
		tickets.POST("/backfill-assignments", ticketAPI.BackfillAssignments)
		tickets.GET("/:id", ticketAPI.GetTicket)
		tickets.PUT("/:id", ticketAPI.UpdateDescription)
		tickets.DELETE("/:id", ticketAPI.DeleteTicket)
		tickets.POST("/:id/status", ticketAPI.TransitionTicket)
		tickets.POST("/:id/assign", ticketAPI.AssignTicket)
		tickets.POST("/:id/actions", ticketAPI.AddAction)
	}

	alarms := apiGroup.Group("/alarms")
	{
		alarms.GET("", alarmAPI.ListAlarms)
		alarms.GET("/stats", alarmAPI.Stats)
		alarms.GET("/:id", alarmAPI.GetAlarm)
		alarms.DELETE("/:id", alarmAPI.DeleteAlarm)
		alarms.POST("/:id/acknowledge", alarmAPI.Acknowledge)
		alarms.POST("/:id/remarks", alarmAPI.AddRemark)
		alarms.POST("/:id/resolve", alarmAPI.Resolve)
		alarms.POST("/:id/close", alarmAPI.Close)
	}

	imports := apiGroup.Group("/imports")
	{
		imports.POST("", limiter.UploadRateLimit(), alarmAPI.UploadAlarms)
		imports.GET("/:token", alarmAPI.GetImport)
		imports.POST("/:token/commit", alarmAPI.CommitImport)
		imports.DELETE("/:token", alarmAPI.DiscardImport)
	}

	sites := apiGroup.Group("/sites")
	{
		sites.GET("", alarmAPI.ListSites)
		sites.POST("", alarmAPI.UpsertSites)
		sites.GET("/:code/alarms", alarmAPI.SiteAlarms)
	}

	plans := apiGroup.Group("/plans")
	{
		plans.GET("", planAPI.ListPlans)
		plans.POST("", planAPI.CreatePlan)
		plans.GET("/:id", planAPI.GetPlan)
		plans.GET("/:id/export", planAPI.ExportPlan)
		plans.PUT("/:id", planAPI.UpdatePlan)
		plans.DELETE("/:id", planAPI.DeletePlan)
		plans.POST("/:id/submit", planAPI.SubmitPlan)
		plans.POST("/:id/approve", planAPI.ApprovePlan)
		plans.POST("/:id/reject", planAPI.RejectPlan)
		plans.POST("/:id/comments", planAPI.AddComment)
	}

	dashboard := apiGroup.Group("/dashboard")
	{
		dashboard.GET("/summary", dashboardAPI.GetSummary)
		dashboard.GET("/workload", dashboardAPI.GetWorkload)
		dashboard.GET("/backlog", dashboardAPI.GetBacklog)
		dashboard.GET("/cache", dispatcherOnly, dashboardAPI.CacheStats)
		dashboard.POST("/recompute", dispatcherOnly, dashboardAPI.RecomputeScores)
	}

	exports := apiGroup.Group("/exports")
	{
		exports.GET("/backlog.xlsx", dashboardAPI.ExportBacklog)
		exports.GET("/dashboard.pdf", dashboardAPI.ExportDashboard)
	}

	return r
}

func corsConfig(cfg config.CORSConfig) cors.Config {
	c := cors.Config{
		AllowMethods:     cfg.AllowedMethods,
		AllowHeaders:     cfg.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Disposition", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 || (len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*") {
		c.AllowAllOrigins = true
		c.AllowCredentials = false
	} else {
		c.AllowOrigins = cfg.AllowedOrigins
	}
	if len(c.AllowHeaders) == 0 {
		c.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	}
	if len(c.AllowMethods) == 0 {
		c.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	}
	return c
}
