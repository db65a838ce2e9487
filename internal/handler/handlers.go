package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"redis-limiter/internal/domain"
	"redis-limiter/internal/logger"
	"redis-limiter/internal/middleware"
)

// HealthChecker é a parte do storage usada pelo health check
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Handlers contém os handlers da API
type Handlers struct {
	limiter        domain.Limiter
	health         HealthChecker
	logger         domain.Logger
	gatherer       prometheus.Gatherer
	middlewareOpts middleware.Options
	startTime      time.Time
}

// Options agrupa as dependências opcionais dos handlers
type Options struct {
	Health        HealthChecker
	Gatherer      prometheus.Gatherer
	ElementHeader string

	// TrustProxyHeaders usa X-Forwarded-For/X-Real-IP como IP do cliente
	TrustProxyHeaders bool
}

// NewHandlers cria uma nova instância dos handlers
func NewHandlers(limiter domain.Limiter, log domain.Logger, opts Options) *Handlers {
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &Handlers{
		limiter:  limiter,
		health:   opts.Health,
		logger:   log,
		gatherer: gatherer,
		middlewareOpts: middleware.Options{
			ElementHeader:     opts.ElementHeader,
			TrustProxyHeaders: opts.TrustProxyHeaders,
		},
		startTime: time.Now(),
	}
}

// SetupRoutes configura as rotas da API
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	rateLimiterMiddleware := middleware.NewRateLimiterMiddleware(h.limiter, h.logger, h.middlewareOpts)

	// Rotas públicas (sem rate limiting)
	router.GET("/health", h.HealthHandler)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))

	// Rotas protegidas por rate limiting
	protected := router.Group("/")
	protected.Use(rateLimiterMiddleware)
	{
		protected.GET("/", h.ExampleHandler)
	}

	// Rotas administrativas (sem rate limiting)
	admin := router.Group("/admin")
	{
		admin.GET("/limits", h.AdminLimitsHandler)
		admin.GET("/status", h.AdminStatusHandler)
		admin.GET("/check", h.AdminCheckHandler)
		admin.POST("/reset", h.AdminResetHandler)
	}
}

// HealthHandler verifica o storage compartilhado
func (h *Handlers) HealthHandler(c *gin.Context) {
	response := gin.H{
		"status":    "healthy",
		"service":   "Rate Limiter API",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(h.startTime).String(),
	}

	if h.health != nil {
		if err := h.health.Health(c.Request.Context()); err != nil {
			response["status"] = "unhealthy"
			response["error"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, response)
			return
		}
	}

	c.JSON(http.StatusOK, response)
}

// ExampleHandler implementa um endpoint de exemplo protegido por rate limiting
func (h *Handlers) ExampleHandler(c *gin.Context) {
	clientIP := middleware.RemoteIP(c)
	if h.middlewareOpts.TrustProxyHeaders {
		clientIP = middleware.GetClientIP(c)
	}
	apiToken := middleware.GetAPIToken(c)

	response := gin.H{
		"message":   "Hello from Rate Limiter API!",
		"service":   "Rate Limiter API",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"client_ip": clientIP,
		"path":      c.Request.URL.Path,
		"method":    c.Request.Method,
	}

	if apiToken != "" {
		response["api_token"] = logger.MaskToken(apiToken)
	}

	c.JSON(http.StatusOK, response)
}

// AdminLimitsHandler lista as regras na ordem de avaliação
func (h *Handlers) AdminLimitsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"limiter": h.limiter.Name(),
		"limits":  h.limiter.Rules(),
	})
}

// AdminStatusHandler retorna o estado de cada regra para uma chave
func (h *Handlers) AdminStatusHandler(c *gin.Context) {
	key, ok := requiredKey(c)
	if !ok {
		return
	}

	statuses, err := h.limiter.Status(c.Request.Context(), key)
	if err != nil {
		h.storeFailure(c, "Failed to get rate limiter status", key, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"limiter":   h.limiter.Name(),
		"key":       logger.MaskToken(key),
		"rules":     statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// AdminCheckHandler confirma se a chave está bloqueada, sem contar o acesso
func (h *Handlers) AdminCheckHandler(c *gin.Context) {
	key, ok := requiredKey(c)
	if !ok {
		return
	}

	err := h.limiter.Check(c.Request.Context(), key)
	if limitErr, blocked := domain.AsLimitExceeded(err); blocked {
		c.JSON(http.StatusOK, gin.H{
			"limiter": limitErr.Limiter,
			"blocked": true,
			"rule":    limitErr.Rule,
			"ttl":     limitErr.TTL,
		})
		return
	}
	if err != nil {
		h.storeFailure(c, "Failed to check rate limiter", key, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"limiter": h.limiter.Name(),
		"blocked": false,
	})
}

// AdminResetRequest representa o corpo da requisição para reset
type AdminResetRequest struct {
	Key   string   `json:"key" binding:"required"`
	Rules []string `json:"rules"`
}

// AdminResetHandler implementa endpoint de reset administrativo
func (h *Handlers) AdminResetHandler(c *gin.Context) {
	var req AdminResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	req.Key = strings.TrimSpace(req.Key)
	if req.Key == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "key cannot be empty",
		})
		return
	}

	if err := h.limiter.Reset(c.Request.Context(), req.Key, req.Rules...); err != nil {
		h.storeFailure(c, "Failed to reset rate limiter", req.Key, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"message":   "Rate limiter reset successfully",
		"key":       logger.MaskToken(req.Key),
		"rules":     req.Rules,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// storeFailure registra e responde erros do storage
func (h *Handlers) storeFailure(c *gin.Context, msg, key string, err error) {
	if h.logger != nil {
		h.logger.WithContext(c.Request.Context()).Error(msg, err, map[string]interface{}{
			"key": logger.MaskToken(key),
		})
	}

	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_server_error",
		"message": msg,
	})
}

// requiredKey lê o parâmetro key e responde 400 se estiver ausente
func requiredKey(c *gin.Context) (string, bool) {
	key := strings.TrimSpace(c.Query("key"))
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "key parameter is required",
		})
		return "", false
	}
	return key, true
}
