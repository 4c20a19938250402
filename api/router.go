// Package api exposes the comparison pipeline over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/seo-optimizer/competitive-insights/compare"
	"github.com/seo-optimizer/competitive-insights/contentupdates"
	"github.com/seo-optimizer/competitive-insights/logging"
	"github.com/seo-optimizer/competitive-insights/middleware"
	"github.com/seo-optimizer/competitive-insights/result"
	"github.com/seo-optimizer/competitive-insights/sources"
	"github.com/seo-optimizer/competitive-insights/stats"
	"github.com/seo-optimizer/competitive-insights/store"
)

// Comparer produces comparison reports. *compare.Comparator satisfies it.
type Comparer interface {
	CompareWebsites(ctx context.Context, yourSite, competitorSite, email string) (*compare.Report, error)
}

// TrafficFetcher reads traffic for one domain. *sources.Traffic satisfies it.
type TrafficFetcher interface {
	Fetch(ctx context.Context, site, email string, isUserSite bool, days int) result.Result[sources.TrafficData]
}

// ContentChecker inspects a site's feeds and sitemaps. *contentupdates.Service satisfies it.
type ContentChecker interface {
	GetContentUpdates(ctx context.Context, site string) contentupdates.Snapshot
}

// Accounts manages connected OAuth accounts. *oauth.Service satisfies it.
type Accounts interface {
	AuthURL(email, provider string) (string, error)
	Exchange(ctx context.Context, provider, state, code string) (*store.Token, error)
	Connected(ctx context.Context, email, provider string) (bool, error)
	SetMetadata(ctx context.Context, email, provider, key, value string) error
	Disconnect(ctx context.Context, email, provider string) error
}

// ReportCache stores serialized reports. Every store.Store satisfies it.
type ReportCache interface {
	GetReport(ctx context.Context, key string) ([]byte, time.Time, error)
	PutReport(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}

// Deps are the collaborators the handlers call
type Deps struct {
	Comparer  Comparer
	Traffic   TrafficFetcher
	Content   ContentChecker
	Accounts  Accounts
	Reports   ReportCache
	ReportTTL time.Duration
	Counters  *stats.Storage
	Requests  *logging.Statistics
}

type Handler struct {
	deps Deps
}

// NewRouter builds the gin engine with middlewares and all routes
func NewRouter(deps Deps, limiter *middleware.RateLimiter) *gin.Engine {
	h := &Handler{deps: deps}

	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.ErrorHandler())
	if limiter != nil {
		r.Use(limiter.RateLimit())
	}
	r.Use(middleware.CORS())
	if deps.Requests != nil {
		r.Use(middleware.Stats(deps.Requests))
	}

	api := r.Group("/api")
	{
		api.GET("/health", h.health)

		api.POST("/competitor/analyze", h.analyzeCompetitor)
		api.GET("/traffic/data", h.trafficData)
		api.GET("/content-updates", h.contentUpdates)

		oauthRoutes := api.Group("/oauth/:provider")
		{
			oauthRoutes.GET("/connect", h.oauthConnect)
			oauthRoutes.GET("/callback", h.oauthCallback)
			oauthRoutes.GET("/status", h.oauthStatus)
			oauthRoutes.PUT("/property", h.oauthProperty)
			oauthRoutes.DELETE("", h.oauthDisconnect)
		}

		api.GET("/statistics", h.statistics)
	}

	return r
}

func (h *Handler) health(c *gin.Context) {
	log.Debug().Str("ip", c.ClientIP()).Msg("Health check request received")
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func (h *Handler) statistics(c *gin.Context) {
	out := gin.H{}
	if h.deps.Requests != nil {
		out["requests"] = h.deps.Requests.GetStatistics()
	}
	if h.deps.Counters != nil {
		out["monthly"] = h.deps.Counters.GetCurrentStats()
	}
	c.JSON(http.StatusOK, out)
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"error":   message,
	})
}
