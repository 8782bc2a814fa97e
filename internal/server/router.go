package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"marketdash/internal/domain/dashboard"
	"marketdash/internal/domain/realtime"
	"marketdash/internal/middleware"
	jwtsvc "marketdash/internal/pkg/jwt"
)

// Deps is everything the HTTP surface needs. DB is only used by /healthz.
type Deps struct {
	DB          *gorm.DB
	JWT         *jwtsvc.Service
	Dashboard   *dashboard.Handler
	WebSocket   *realtime.WSHandler
	Logger      *zap.Logger
	CORSOrigins []string
}

// NewRouter mounts:
//
//	GET  /healthz
//	GET  /metrics
//	GET  /ws/bookings/:id        (token in query)
//	     /api/v1/...             (bearer JWT)
func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	r := gin.New()
	r.Use(middleware.ErrorLogger(d.Logger), middleware.Metrics(), middleware.CORS(d.CORSOrigins))

	r.GET("/healthz", func(c *gin.Context) {
		if err := ping(c, d.DB); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if d.WebSocket != nil {
		realtime.RegisterRoutes(r, d.WebSocket)
	}

	v1 := r.Group("/api/v1")
	v1.Use(middleware.JWTAuth(d.JWT))
	d.Dashboard.RegisterRoutes(v1)

	return r
}

func ping(c *gin.Context, db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(c.Request.Context())
}
