package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"redis-limiter/internal/domain"
	"redis-limiter/internal/metrics"
)

// RateLimiterService avalia as regras de um limitador contra o storage compartilhado.
// Não guarda estado além da configuração imutável; várias instâncias podem
// apontar para o mesmo storage.
type RateLimiterService struct {
	name     string
	prefix   string
	store    domain.RecordStore
	registry *Registry
	notifier *Notifier
	logger   domain.Logger
	metrics  *metrics.Metrics
}

var _ domain.Limiter = (*RateLimiterService)(nil)

// Option configura o RateLimiterService
type Option func(*RateLimiterService)

// WithLogger define o logger estruturado
func WithLogger(logger domain.Logger) Option {
	return func(s *RateLimiterService) { s.logger = logger }
}

// WithMetrics define os coletores Prometheus
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *RateLimiterService) { s.metrics = m }
}

// WithKeyPrefix muda o namespace das chaves no storage
func WithKeyPrefix(prefix string) Option {
	return func(s *RateLimiterService) { s.prefix = prefix }
}

// NewRateLimiterService valida as regras e cria o limitador.
// Erros de configuração são sempre *domain.ConfigurationError.
func NewRateLimiterService(store domain.RecordStore, name string, rules []domain.RuleConfig, opts ...Option) (*RateLimiterService, error) {
	if store == nil {
		return nil, &domain.ConfigurationError{Reason: "record store cannot be nil"}
	}
	if name == "" {
		return nil, &domain.ConfigurationError{Reason: "limiter name cannot be empty"}
	}

	registry, err := NewRegistry(rules)
	if err != nil {
		return nil, err
	}

	s := &RateLimiterService{
		name:     name,
		prefix:   domain.DefaultKeyPrefix,
		store:    store,
		registry: registry,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.notifier = NewNotifier(name, registry.Callbacks(), s.logger, s.metrics)

	if s.logger != nil {
		s.logger.Info("Rate limiter configured", map[string]interface{}{
			"limiter": name,
			"prefix":  s.prefix,
			"rules":   registry.Names(),
		})
	}

	return s, nil
}

// Name retorna o nome do limitador
func (s *RateLimiterService) Name() string {
	return s.name
}

// Rules retorna as regras na ordem de avaliação
func (s *RateLimiterService) Rules() []domain.LimitRule {
	return s.registry.Rules()
}

// Hit avalia atomicamente todas as regras para a chave.
// element vazio conta requisições; não vazio conta elementos distintos.
func (s *RateLimiterService) Hit(ctx context.Context, key, element string) error {
	req := &domain.HitRequest{
		Limiter:    s.name,
		Key:        key,
		Element:    element,
		RecordKeys: s.recordKeys(key, s.registry.Names()),
		Rules:      s.registry.Rules(),
	}

	start := time.Now()
	violation, err := s.store.EvaluateHit(ctx, req)
	s.metrics.ObserveStore("hit", time.Since(start))
	if err != nil {
		s.metrics.ObserveHit(s.name, metrics.OutcomeError)
		s.metrics.ObserveStoreError(s.name, "hit")
		return err
	}

	if violation == nil {
		s.metrics.ObserveHit(s.name, metrics.OutcomeAllowed)
		if s.logger != nil {
			s.logger.WithContext(ctx).Debug("Hit allowed", map[string]interface{}{
				"limiter": s.name,
				"key":     key,
				"element": element,
			})
		}
		return nil
	}

	s.metrics.ObserveHit(s.name, metrics.OutcomeBlocked)
	return s.notifier.Notify(ctx, "hit", key, violation)
}

// Check confirma se alguma regra está bloqueada, sem contar nada
func (s *RateLimiterService) Check(ctx context.Context, key string) error {
	names := s.registry.Names()

	states, err := s.readStates(ctx, "check", key, names)
	if err != nil {
		return err
	}

	for i, state := range states {
		if state.IsBlocked() {
			return s.notifier.Notify(ctx, "check", key, &domain.Violation{Rule: names[i], TTL: state.TTL})
		}
	}

	return nil
}

// Status retorna o estado de cada regra para a chave, sem modificar nada
func (s *RateLimiterService) Status(ctx context.Context, key string) ([]domain.RuleStatus, error) {
	rules := s.registry.Rules()

	states, err := s.readStates(ctx, "status", key, s.registry.Names())
	if err != nil {
		return nil, err
	}

	statuses := make([]domain.RuleStatus, len(rules))
	for i, state := range states {
		status := domain.RuleStatus{Rule: rules[i], Status: domain.StatusAbsent, TTL: state.TTL}

		switch {
		case state.IsBlocked():
			status.Status = domain.StatusBlocked
		case state.Exists:
			status.Status = domain.StatusCounting
			if count, err := strconv.ParseInt(state.Value, 10, 64); err == nil {
				status.Count = count
			}
		}

		statuses[i] = status
	}

	return statuses, nil
}

// Reset remove os registros da chave. Sem nomes (nil), remove todas as regras
// configuradas; uma lista vazia não remove nada e não chama o storage.
// Nomes desconhecidos são aceitos: apagar um registro ausente não faz nada.
func (s *RateLimiterService) Reset(ctx context.Context, key string, ruleNames ...string) error {
	if ruleNames == nil {
		ruleNames = s.registry.Names()
	}

	seen := make(map[string]struct{}, len(ruleNames))
	keys := make([]string, 0, len(ruleNames))
	for _, recordKey := range s.recordKeys(key, ruleNames) {
		if _, dup := seen[recordKey]; dup {
			continue
		}
		seen[recordKey] = struct{}{}
		keys = append(keys, recordKey)
	}

	if len(keys) == 0 {
		return nil
	}

	start := time.Now()
	err := s.store.Delete(ctx, keys)
	s.metrics.ObserveStore("reset", time.Since(start))
	if err != nil {
		s.metrics.ObserveStoreError(s.name, "reset")
		return err
	}

	if s.logger != nil {
		s.logger.WithContext(ctx).Info("Rate limit reset", map[string]interface{}{
			"limiter": s.name,
			"key":     key,
			"rules":   ruleNames,
		})
	}

	return nil
}

// readStates lê os registros das regras e garante o pareamento posicional
func (s *RateLimiterService) readStates(ctx context.Context, operation, key string, names []string) ([]domain.RecordState, error) {
	keys := s.recordKeys(key, names)

	start := time.Now()
	states, err := s.store.ReadRecords(ctx, keys)
	s.metrics.ObserveStore(operation, time.Since(start))
	if err != nil {
		s.metrics.ObserveStoreError(s.name, operation)
		return nil, err
	}

	if len(states) != len(keys) {
		s.metrics.ObserveStoreError(s.name, operation)
		return nil, fmt.Errorf("store returned %d records for %d keys", len(states), len(keys))
	}

	return states, nil
}

// recordKeys monta <prefix><limiter>:<key>:<rule> para cada regra.
// É o único lugar que monta chaves: hit, check e reset endereçam os mesmos registros.
func (s *RateLimiterService) recordKeys(key string, ruleNames []string) []string {
	keys := make([]string, len(ruleNames))
	for i, rule := range ruleNames {
		keys[i] = s.prefix + s.name + ":" + key + ":" + rule
	}
	return keys
}
