package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"redis-limiter/internal/domain"
	"redis-limiter/internal/logger"
)

// Options configura o middleware
type Options struct {
	// ElementHeader ativa o modo unicidade: o valor do header é o elemento contado.
	// Com o header configurado, requisições sem ele são rejeitadas com 400, pois
	// um hit em modo contador sobre o mesmo registro falharia no storage.
	ElementHeader string

	// TrustProxyHeaders usa X-Forwarded-For/X-Real-IP para a chave.
	// Só deve ser ligado atrás de um proxy que sobrescreve esses headers.
	TrustProxyHeaders bool
}

// RateLimiterMiddleware aplica o limitador a cada requisição
type RateLimiterMiddleware struct {
	limiter domain.Limiter
	logger  domain.Logger
	opts    Options
}

// NewRateLimiterMiddleware cria uma nova instância do middleware
func NewRateLimiterMiddleware(
	limiter domain.Limiter,
	logger domain.Logger,
	opts Options,
) gin.HandlerFunc {
	middleware := &RateLimiterMiddleware{
		limiter: limiter,
		logger:  logger,
		opts:    opts,
	}

	return middleware.Handle
}

// Handle é o handler principal do middleware
func (m *RateLimiterMiddleware) Handle(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	requestID := GetRequestID(c)
	clientIP := RemoteIP(c)
	if m.opts.TrustProxyHeaders {
		clientIP = GetClientIP(c)
	}
	apiToken := GetAPIToken(c)

	ctx = logger.ContextWithRequestInfo(ctx, requestID, clientIP, apiToken, c.GetHeader("User-Agent"))

	// Token tem prioridade sobre IP
	key := clientIP
	if apiToken != "" {
		key = apiToken
	}

	var element string
	if m.opts.ElementHeader != "" {
		element = strings.TrimSpace(c.GetHeader(m.opts.ElementHeader))
		if element == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": "missing required header " + m.opts.ElementHeader,
			})
			c.Abort()
			return
		}
	}

	err := m.limiter.Hit(ctx, key, element)
	if err == nil {
		c.Next()
		return
	}

	if limitErr, ok := domain.AsLimitExceeded(err); ok {
		setRateLimitHeaders(c, limitErr)

		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":   "rate_limit_exceeded",
			"message": "you have reached the maximum number of requests or actions allowed within a certain time frame",
			"details": gin.H{
				"limiter": limitErr.Limiter,
				"rule":    limitErr.Rule,
				"ttl":     limitErr.TTL,
			},
		})
		c.Abort()
		return
	}

	if m.logger != nil {
		m.logger.WithContext(ctx).Error("Rate limiter store error", err, map[string]interface{}{
			"client_ip": clientIP,
			"api_token": logger.MaskToken(apiToken),
		})
	}

	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal server error",
		"message": "Unable to process rate limit check",
	})
	c.Abort()
}

// setRateLimitHeaders define headers informativos do bloqueio
func setRateLimitHeaders(c *gin.Context, limitErr *domain.LimitExceededError) {
	c.Header("X-RateLimit-Limiter", limitErr.Limiter)
	c.Header("X-RateLimit-Rule", limitErr.Rule)

	if retryAfter := int64(limitErr.RetryAfter().Seconds()); retryAfter > 0 {
		c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
	}
}

// GetClientIP extrai o IP do cliente considerando proxies e load balancers.
// Os headers vêm do cliente: sem um proxy confiável na frente, podem ser forjados.
func GetClientIP(c *gin.Context) string {
	// Prioridade: X-Forwarded-For > X-Real-IP > RemoteAddr

	// O primeiro IP do X-Forwarded-For é o do cliente original
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		if clientIP := strings.TrimSpace(strings.Split(xff, ",")[0]); clientIP != "" {
			return clientIP
		}
	}

	if xri := c.GetHeader("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	return RemoteIP(c)
}

// RemoteIP retorna o IP da conexão, ignorando headers de proxy
func RemoteIP(c *gin.Context) string {
	if host, _, err := net.SplitHostPort(c.Request.RemoteAddr); err == nil {
		return host
	}

	return c.Request.RemoteAddr
}

// GetAPIToken extrai o token de API dos headers
func GetAPIToken(c *gin.Context) string {
	// Prioridade: API_KEY > X-Api-Token > Api-Token
	for _, header := range []string{"API_KEY", "X-Api-Token", "Api-Token"} {
		if token := strings.TrimSpace(c.GetHeader(header)); token != "" {
			return token
		}
	}
	return ""
}

// GetRequestID obtém ou gera um Request ID para tracking
func GetRequestID(c *gin.Context) string {
	if requestID := c.GetHeader("X-Request-ID"); requestID != "" {
		c.Header("X-Request-ID", requestID)
		return requestID
	}

	requestID := uuid.New().String()
	c.Header("X-Request-ID", requestID)
	return requestID
}
