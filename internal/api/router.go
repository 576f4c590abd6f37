package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/visionguard/internal/api/handlers"
	"github.com/your-org/visionguard/internal/api/ws"
	"github.com/your-org/visionguard/internal/auth"
	"github.com/your-org/visionguard/internal/config"
	"github.com/your-org/visionguard/internal/queue"
	"github.com/your-org/visionguard/internal/storage"
	"github.com/your-org/visionguard/internal/stream"
	"github.com/your-org/visionguard/internal/vision"
)

type RouterConfig struct {
	Cfg      *config.Config
	Verifier auth.Verifier
	DB       *storage.PostgresStore
	MinIO    *storage.MinIOStore
	Producer *queue.Producer
	Hub      *ws.Hub
	Registry *stream.Registry
	Manager  *vision.Manager
	Sink     stream.AnomalySink
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(CORSMiddleware(cfg.Cfg.Environment, cfg.Cfg.Server.AllowedOrigins))

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.MinIO, cfg.Producer, cfg.Manager, cfg.Hub)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Alert channel: auth happens inside the upgrade (token query param)
	r.GET("/ws/alerts/:user_id", cfg.Hub.HandleWS)

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.Middleware(cfg.Verifier))

	// Signaling
	signalH := handlers.NewSignalHandler(cfg.Registry, cfg.Manager, cfg.Sink,
		cfg.DB, cfg.Cfg.WebRTC, cfg.Cfg.Detection)
	v1.POST("/offer", signalH.Offer)

	// Streams
	streamH := handlers.NewStreamHandler(cfg.Registry)
	v1.GET("/users/:user_id/streams", streamH.List)
	v1.DELETE("/users/:user_id/streams/:stream_id", streamH.Stop)
	v1.DELETE("/users/:user_id", streamH.StopUser)
	v1.GET("/streams/:stream_id/stats", streamH.Stats)

	// Alert channel introspection
	v1.GET("/ws/connections", systemH.Connections)
	v1.GET("/ws/connections/:user_id", systemH.Connection)

	// Anomalies
	anomalyH := handlers.NewAnomalyHandler(cfg.DB, cfg.MinIO)
	v1.GET("/anomalies", anomalyH.List)
	v1.GET("/anomalies/:id", anomalyH.Get)
	v1.PATCH("/anomalies/:id/status", anomalyH.UpdateStatus)
	v1.GET("/anomalies/:id/evidence", anomalyH.Evidence)

	// Training data
	trainingH := handlers.NewTrainingHandler(cfg.DB)
	v1.GET("/training-data", trainingH.ListUnlabeled)
	v1.POST("/training-data/:id/feedback", trainingH.Feedback)
	v1.GET("/training-data/:id/similar", trainingH.Similar)
	v1.POST("/training-batches", trainingH.ExportBatch)

	// Shop settings
	shopH := handlers.NewShopHandler(cfg.DB)
	v1.PATCH("/shops/:id/telegram", shopH.SetTelegramChat)

	return r
}
