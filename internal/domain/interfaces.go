package domain

import "context"

// RecordStore define o contrato do storage compartilhado entre instâncias
// Implementa o Strategy Pattern (Redis ou memória)
type RecordStore interface {
	// EvaluateHit executa como uma única operação indivisível a sequência
	// de todas as regras do HitRequest. Retorna nil quando nenhuma regra foi violada.
	EvaluateHit(ctx context.Context, req *HitRequest) (*Violation, error)

	// ReadRecords lê valor e TTL de cada chave numa única ida ao storage,
	// preservando a ordem das chaves. Nunca modifica registros.
	ReadRecords(ctx context.Context, keys []string) ([]RecordState, error)

	// Delete remove as chaves numa única operação
	Delete(ctx context.Context, keys []string) error

	// Health verifica se o storage está saudável
	Health(ctx context.Context) error

	// Close fecha a conexão com o storage
	Close() error
}

// Limiter define as operações públicas do limitador
type Limiter interface {
	// Hit contabiliza uma requisição. element vazio = modo contador.
	Hit(ctx context.Context, key, element string) error

	// Check confirma, sem modificar nada, se alguma regra está bloqueada
	Check(ctx context.Context, key string) error

	// Reset remove os registros da chave para as regras informadas (todas se nil, nenhuma se vazia)
	Reset(ctx context.Context, key string, ruleNames ...string) error

	// Status retorna o estado de cada regra para a chave, sem modificar nada
	Status(ctx context.Context, key string) ([]RuleStatus, error)

	// Name retorna o nome do limitador
	Name() string

	// Rules retorna as regras na ordem de avaliação
	Rules() []LimitRule
}

// Logger define a interface para logging estruturado
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, err error, fields map[string]interface{})
	WithContext(ctx context.Context) Logger
}
