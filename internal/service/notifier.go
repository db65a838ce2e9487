package service

import (
	"context"

	"redis-limiter/internal/domain"
	"redis-limiter/internal/metrics"
)

// Notifier chama o callback da regra violada antes de sinalizar o limite
type Notifier struct {
	limiter   string
	callbacks map[string]domain.ViolationCallback
	logger    domain.Logger
	metrics   *metrics.Metrics
}

// NewNotifier cria o notifier com o mapa imutável de callbacks
func NewNotifier(limiter string, callbacks map[string]domain.ViolationCallback, logger domain.Logger, m *metrics.Metrics) *Notifier {
	return &Notifier{
		limiter:   limiter,
		callbacks: callbacks,
		logger:    logger,
		metrics:   m,
	}
}

// Notify executa o callback (se houver) e devolve o LimitExceededError.
// Falha do callback é registrada e anexada ao erro, nunca o substitui.
func (n *Notifier) Notify(ctx context.Context, operation, key string, violation *domain.Violation) error {
	limitErr := &domain.LimitExceededError{
		Limiter: n.limiter,
		Rule:    violation.Rule,
		TTL:     violation.TTL,
	}

	n.metrics.ObserveViolation(n.limiter, violation.Rule, operation)

	if n.logger != nil {
		n.logger.WithContext(ctx).Info("Rate limit exceeded", map[string]interface{}{
			"limiter":   n.limiter,
			"rule":      violation.Rule,
			"key":       key,
			"ttl":       violation.TTL,
			"operation": operation,
		})
	}

	callback, ok := n.callbacks[violation.Rule]
	if !ok {
		return limitErr
	}

	if err := callback(violation.TTL); err != nil {
		limitErr.CallbackErr = err
		n.metrics.ObserveCallbackError(n.limiter, violation.Rule)

		if n.logger != nil {
			n.logger.WithContext(ctx).Error("Violation callback failed", err, map[string]interface{}{
				"limiter": n.limiter,
				"rule":    violation.Rule,
				"key":     key,
			})
		}
	}

	return limitErr
}
