package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrLimitExceeded é o alvo de errors.Is para qualquer LimitExceededError
	ErrLimitExceeded = errors.New("limit exceeded")

	// ErrInvalidConfig é o alvo de errors.Is para qualquer ConfigurationError
	ErrInvalidConfig = errors.New("invalid limiter configuration")
)

// ConfigurationError indica um conjunto de regras malformado
type ConfigurationError struct {
	Rule   string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Rule == "" {
		return fmt.Sprintf("invalid limiter configuration: %s", e.Reason)
	}
	return fmt.Sprintf("invalid limiter configuration: rule %q: %s", e.Rule, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrInvalidConfig
}

// LimitExceededError é retornado quando uma regra bloqueia a chave
type LimitExceededError struct {
	Limiter string
	Rule    string
	TTL     int64 // segundos restantes do bloqueio

	// CallbackErr guarda a falha do callback da regra, se houver.
	// A falha não substitui o erro de limite.
	CallbackErr error
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("limit exceeded: limiter %q rule %q (ttl %ds)", e.Limiter, e.Rule, e.TTL)
}

func (e *LimitExceededError) Is(target error) bool {
	return target == ErrLimitExceeded
}

// RetryAfter converte o TTL para time.Duration (zero se o TTL for negativo)
func (e *LimitExceededError) RetryAfter() time.Duration {
	if e.TTL <= 0 {
		return 0
	}
	return time.Duration(e.TTL) * time.Second
}

// AsLimitExceeded extrai um LimitExceededError da cadeia de erros
func AsLimitExceeded(err error) (*LimitExceededError, bool) {
	var limitErr *LimitExceededError
	if errors.As(err, &limitErr) {
		return limitErr, true
	}
	return nil, false
}
