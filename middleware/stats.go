package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/seo-optimizer/competitive-insights/logging"
)

// ComparisonKey is the context key handlers use to name the compared pair
const ComparisonKey = "comparison"

// AnalyzePath is the only route whose load time is tracked
const AnalyzePath = "/api/competitor/analyze"

// Stats tracks visitors for every request and load time for comparisons
func Stats(stats *logging.Statistics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		stats.TrackVisitor(c.ClientIP())

		c.Next()

		if c.FullPath() != AnalyzePath || c.Request.Method != http.MethodPost {
			return
		}

		loadTime := float64(time.Since(start).Milliseconds())
		stats.TrackComparison(c.GetString(ComparisonKey), loadTime, c.Writer.Status() >= 400)

		// Periodically save statistics
		if stats.TotalRequests()%100 == 0 {
			go func() {
				if err := stats.Save(); err != nil {
					log.Warn().Err(err).Msg("Failed to save request statistics")
				}
			}()
		}
	}
}

// CORS allows the dashboard to call the API from any origin
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
