package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/seo-optimizer/competitive-insights/compare"
	"github.com/seo-optimizer/competitive-insights/domain"
	"github.com/seo-optimizer/competitive-insights/middleware"
	"github.com/seo-optimizer/competitive-insights/oauth"
	"github.com/seo-optimizer/competitive-insights/store"
)

type analyzeRequest struct {
	Email               string `json:"email"`
	YourSite            string `json:"yourSite" binding:"required"`
	CompetitorSite      string `json:"competitorSite" binding:"required"`
	YourInstagram       string `json:"yourInstagram"`
	CompetitorInstagram string `json:"competitorInstagram"`
	YourFacebook        string `json:"yourFacebook"`
	CompetitorFacebook  string `json:"competitorFacebook"`
	ForceRefresh        bool   `json:"forceRefresh"`
}

type socialHandles struct {
	Instagram string `json:"instagram,omitempty"`
	Facebook  string `json:"facebook,omitempty"`
}

// social echoes the handles the caller sent; nil when none were sent
func (r analyzeRequest) social() gin.H {
	if r.YourInstagram == "" && r.CompetitorInstagram == "" && r.YourFacebook == "" && r.CompetitorFacebook == "" {
		return nil
	}
	return gin.H{
		"your":       socialHandles{Instagram: r.YourInstagram, Facebook: r.YourFacebook},
		"competitor": socialHandles{Instagram: r.CompetitorInstagram, Facebook: r.CompetitorFacebook},
	}
}

// cachedReport mirrors compare.Report without decoding the analyses again
type cachedReport struct {
	YourSite       json.RawMessage `json:"yourSite"`
	CompetitorSite json.RawMessage `json:"competitorSite"`
	Comparison     json.RawMessage `json:"comparison"`
	GeneratedAt    time.Time       `json:"generatedAt"`
}

func (h *Handler) analyzeCompetitor(c *gin.Context) {
	var request analyzeRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		fail(c, http.StatusBadRequest, "yourSite and competitorSite are required")
		return
	}

	your, err := domain.Normalize(request.YourSite)
	if err != nil {
		fail(c, http.StatusBadRequest, "Invalid yourSite: "+err.Error())
		return
	}
	competitor, err := domain.Normalize(request.CompetitorSite)
	if err != nil {
		fail(c, http.StatusBadRequest, "Invalid competitorSite: "+err.Error())
		return
	}

	c.Set(middleware.ComparisonKey, your+" vs "+competitor)
	logger := log.With().Str("request_id", middleware.RequestIDFrom(c)).Str("your_site", your).Str("competitor_site", competitor).Logger()
	ctx := c.Request.Context()
	key := store.ReportKey(your, competitor)

	if !request.ForceRefresh && h.deps.Reports != nil {
		if cached, ok := h.cachedReport(ctx, key); ok {
			logger.Info().Msg("Serving cached comparison")
			h.count(0, 1, 0)
			c.JSON(http.StatusOK, gin.H{
				"success":        true,
				"yourSite":       cached.YourSite,
				"competitorSite": cached.CompetitorSite,
				"comparison":     cached.Comparison,
				"generatedAt":    cached.GeneratedAt,
				"cached":         true,
				"social":         request.social(),
			})
			return
		}
		h.count(0, 0, 1)
	}

	report, err := h.deps.Comparer.CompareWebsites(ctx, your, competitor, request.Email)
	if err != nil {
		logger.Warn().Err(err).Msg("Comparison failed")
		switch {
		case errors.Is(err, compare.ErrInvalidDomain):
			fail(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, compare.ErrNoData):
			fail(c, http.StatusBadGateway, err.Error())
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			fail(c, http.StatusGatewayTimeout, "Comparison did not finish in time")
		default:
			fail(c, http.StatusInternalServerError, "Failed to compare websites")
		}
		return
	}
	h.count(1, 0, 0)

	if h.deps.Reports != nil {
		if payload, err := json.Marshal(report); err != nil {
			logger.Warn().Err(err).Msg("Failed to encode report for caching")
		} else if err := h.deps.Reports.PutReport(ctx, key, payload, h.deps.ReportTTL); err != nil {
			logger.Warn().Err(err).Msg("Failed to cache report")
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"yourSite":       report.YourSite,
		"competitorSite": report.CompetitorSite,
		"comparison":     report.Comparison,
		"generatedAt":    report.GeneratedAt,
		"cached":         false,
		"social":         request.social(),
	})
}

func (h *Handler) cachedReport(ctx context.Context, key string) (*cachedReport, bool) {
	payload, _, err := h.deps.Reports.GetReport(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn().Err(err).Str("key", key).Msg("Report cache lookup failed")
		}
		return nil, false
	}

	var cached cachedReport
	if err := json.Unmarshal(payload, &cached); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Discarding unreadable cached report")
		return nil, false
	}
	return &cached, true
}

func (h *Handler) count(comparisons, hits, misses int) {
	if h.deps.Counters != nil {
		h.deps.Counters.IncrementStats(comparisons, hits, misses)
	}
}

func (h *Handler) trafficData(c *gin.Context) {
	site, err := domain.Normalize(c.Query("domain"))
	if err != nil {
		fail(c, http.StatusBadRequest, "A valid domain is required")
		return
	}

	days := 30
	if raw := c.Query("days"); raw != "" {
		days, err = strconv.Atoi(raw)
		if err != nil || days < 1 || days > 365 {
			fail(c, http.StatusBadRequest, "days must be between 1 and 365")
			return
		}
	}

	email := c.Query("email")
	traffic := h.deps.Traffic.Fetch(c.Request.Context(), site, email, email != "", days)

	c.JSON(http.StatusOK, gin.H{
		"success": traffic.OK,
		"domain":  site,
		"days":    days,
		"traffic": traffic,
	})
}

func (h *Handler) contentUpdates(c *gin.Context) {
	site, err := domain.Normalize(c.Query("domain"))
	if err != nil {
		fail(c, http.StatusBadRequest, "A valid domain is required")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"domain":         site,
		"contentUpdates": h.deps.Content.GetContentUpdates(c.Request.Context(), site),
	})
}

func (h *Handler) accounts(c *gin.Context) (Accounts, bool) {
	if h.deps.Accounts == nil {
		fail(c, http.StatusNotFound, "OAuth is not configured")
		return nil, false
	}
	return h.deps.Accounts, true
}

func (h *Handler) oauthConnect(c *gin.Context) {
	accounts, ok := h.accounts(c)
	if !ok {
		return
	}
	email := c.Query("email")
	if email == "" {
		fail(c, http.StatusBadRequest, "email is required")
		return
	}

	target, err := accounts.AuthURL(email, c.Param("provider"))
	if err != nil {
		h.oauthError(c, err)
		return
	}
	c.Redirect(http.StatusFound, target)
}

func (h *Handler) oauthCallback(c *gin.Context) {
	accounts, ok := h.accounts(c)
	if !ok {
		return
	}
	if reason := c.Query("error"); reason != "" {
		fail(c, http.StatusBadRequest, "Authorization denied: "+reason)
		return
	}

	token, err := accounts.Exchange(c.Request.Context(), c.Param("provider"), c.Query("state"), c.Query("code"))
	if err != nil {
		h.oauthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"email":    token.Email,
		"provider": token.Provider,
	})
}

func (h *Handler) oauthStatus(c *gin.Context) {
	accounts, ok := h.accounts(c)
	if !ok {
		return
	}
	connected, err := accounts.Connected(c.Request.Context(), c.Query("email"), c.Param("provider"))
	if err != nil {
		h.oauthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"connected": connected})
}

func (h *Handler) oauthProperty(c *gin.Context) {
	accounts, ok := h.accounts(c)
	if !ok {
		return
	}
	var request struct {
		Email      string `json:"email" binding:"required"`
		PropertyID string `json:"propertyId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		fail(c, http.StatusBadRequest, "email and propertyId are required")
		return
	}

	if err := accounts.SetMetadata(c.Request.Context(), request.Email, c.Param("provider"), "propertyId", request.PropertyID); err != nil {
		h.oauthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) oauthDisconnect(c *gin.Context) {
	accounts, ok := h.accounts(c)
	if !ok {
		return
	}
	if err := accounts.Disconnect(c.Request.Context(), c.Query("email"), c.Param("provider")); err != nil {
		h.oauthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) oauthError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, oauth.ErrUnknownProvider), errors.Is(err, oauth.ErrNotConnected):
		fail(c, http.StatusNotFound, err.Error())
	case errors.Is(err, oauth.ErrUnknownState):
		fail(c, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Str("provider", c.Param("provider")).Msg("OAuth request failed")
		fail(c, http.StatusBadGateway, "OAuth provider request failed")
	}
}
