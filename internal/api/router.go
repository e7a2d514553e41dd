package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"charging-alert-backend/config"
	"charging-alert-backend/internal/mw"
	"charging-alert-backend/internal/store"
)

// NewRouter builds the admin API router. Mutating alert endpoints stay
// outside the response cache; everything under /api shares the per-IP
// rate limit.
func NewRouter(s store.Store, holder *config.Holder, ticker TickRunner, cfg config.ServerConfig) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(s, holder, ticker)

	limit := cfg.RateLimitPerSec
	if limit <= 0 {
		limit = 10
	}
	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	rateLimiter := mw.RateLimiter(rate.Limit(limit), 5)
	cacheStore := cache.New(ttl, 2*ttl)
	caching := mw.Cache(cacheStore, ttl)

	r.GET("/healthz", handler.Health)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/status", caching, handler.GetStatus)
		api.GET("/events", caching, handler.GetEvents)

		api.GET("/alert/config", handler.GetAlertConfig)
		api.PUT("/alert/config", handler.PutAlertConfig)
		api.POST("/alert/trigger", handler.TriggerTick)
	}

	return r
}
