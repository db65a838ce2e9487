package service

import (
	"redis-limiter/internal/domain"
)

// Registry guarda as regras validadas de um limitador, na ordem de avaliação
type Registry struct {
	rules     []domain.LimitRule
	index     map[string]int
	callbacks map[string]domain.ViolationCallback
}

// NewRegistry valida as regras e monta o registro imutável.
// A ordem do slice define a prioridade: a primeira regra violada vence.
func NewRegistry(configs []domain.RuleConfig) (*Registry, error) {
	if len(configs) == 0 {
		return nil, &domain.ConfigurationError{Reason: "at least one rule is required"}
	}

	r := &Registry{
		rules:     make([]domain.LimitRule, 0, len(configs)),
		index:     make(map[string]int, len(configs)),
		callbacks: make(map[string]domain.ViolationCallback),
	}

	for _, cfg := range configs {
		if err := validateRule(cfg); err != nil {
			return nil, err
		}
		if _, dup := r.index[cfg.Name]; dup {
			return nil, &domain.ConfigurationError{Rule: cfg.Name, Reason: "duplicate rule name"}
		}

		r.index[cfg.Name] = len(r.rules)
		r.rules = append(r.rules, domain.LimitRule{
			Name:          cfg.Name,
			Limit:         cfg.Limit,
			Window:        cfg.Window,
			BlockDuration: cfg.BlockDuration,
			Description:   cfg.Description,
		})
		if cfg.OnViolation != nil {
			r.callbacks[cfg.Name] = cfg.OnViolation
		}
	}

	return r, nil
}

func validateRule(cfg domain.RuleConfig) error {
	switch {
	case cfg.Name == "":
		return &domain.ConfigurationError{Reason: "rule name cannot be empty"}
	case cfg.Limit <= 0:
		return &domain.ConfigurationError{Rule: cfg.Name, Reason: "limit must be greater than 0"}
	case cfg.Window <= 0:
		return &domain.ConfigurationError{Rule: cfg.Name, Reason: "window must be greater than 0"}
	case cfg.BlockDuration < 0:
		return &domain.ConfigurationError{Rule: cfg.Name, Reason: "block duration cannot be negative"}
	}
	return nil
}

// Rules retorna uma cópia das regras na ordem configurada
func (r *Registry) Rules() []domain.LimitRule {
	rules := make([]domain.LimitRule, len(r.rules))
	copy(rules, r.rules)
	return rules
}

// Names retorna os nomes das regras na ordem configurada
func (r *Registry) Names() []string {
	names := make([]string, len(r.rules))
	for i, rule := range r.rules {
		names[i] = rule.Name
	}
	return names
}

// Rule busca uma regra pelo nome
func (r *Registry) Rule(name string) (domain.LimitRule, bool) {
	i, ok := r.index[name]
	if !ok {
		return domain.LimitRule{}, false
	}
	return r.rules[i], true
}

// Callbacks retorna o mapa nome -> callback (apenas regras com callback)
func (r *Registry) Callbacks() map[string]domain.ViolationCallback {
	callbacks := make(map[string]domain.ViolationCallback, len(r.callbacks))
	for name, cb := range r.callbacks {
		callbacks[name] = cb
	}
	return callbacks
}
