package domain

// BlockedSentinel é o valor gravado num registro bloqueado
const BlockedSentinel = "x"

// DefaultKeyPrefix é o namespace padrão das chaves no storage
const DefaultKeyPrefix = "@limiter:"

// ViolationCallback é chamado de forma síncrona quando uma regra é violada.
// Recebe o TTL restante do bloqueio em segundos.
type ViolationCallback func(ttl int64) error

// RuleConfig é a definição de uma regra antes da validação
type RuleConfig struct {
	Name          string            `json:"name" yaml:"name"`
	Limit         int               `json:"limit" yaml:"limit"`                 // Máximo de hits (ou elementos distintos) na janela
	Window        int               `json:"window" yaml:"window"`               // Janela em segundos
	BlockDuration int               `json:"blockDuration" yaml:"blockDuration"` // Duração do bloqueio em segundos (0 = mantém o TTL atual)
	Description   string            `json:"description,omitempty" yaml:"description,omitempty"`
	OnViolation   ViolationCallback `json:"-" yaml:"-"`
}

// LimitRule é uma regra validada e imutável
type LimitRule struct {
	Name          string `json:"name"`
	Limit         int    `json:"limit"`
	Window        int    `json:"window"`
	BlockDuration int    `json:"blockDuration"`
	Description   string `json:"description,omitempty"`
}

// HitRequest reúne os argumentos da avaliação atômica de um hit.
// RecordKeys[i] é a chave do registro de Rules[i].
type HitRequest struct {
	Limiter    string
	Key        string
	Element    string // vazio = modo contador
	RecordKeys []string
	Rules      []LimitRule
}

// Args devolve a lista plana de argumentos: limiter, key, element e
// depois a quádrupla name/limit/window/block de cada regra, em ordem.
func (r *HitRequest) Args() []interface{} {
	args := make([]interface{}, 0, 3+4*len(r.Rules))
	args = append(args, r.Limiter, r.Key, r.Element)
	for _, rule := range r.Rules {
		args = append(args, rule.Name, rule.Limit, rule.Window, rule.BlockDuration)
	}
	return args
}

// Violation identifica a primeira regra violada e o TTL restante em segundos
type Violation struct {
	Rule string `json:"rule"`
	TTL  int64  `json:"ttl"`
}

// RecordState é o estado lido de um registro sem modificá-lo.
// TTL segue a convenção do Redis: -2 ausente, -1 sem expiração.
type RecordState struct {
	Key    string `json:"key"`
	Value  string `json:"value,omitempty"`
	Exists bool   `json:"exists"`
	TTL    int64  `json:"ttl"`
}

// IsBlocked indica se o registro contém o sentinel de bloqueio
func (s RecordState) IsBlocked() bool {
	return s.Exists && s.Value == BlockedSentinel
}

// RecordStatus descreve o estado de um registro
type RecordStatus string

const (
	StatusAbsent   RecordStatus = "absent"
	StatusCounting RecordStatus = "counting"
	StatusBlocked  RecordStatus = "blocked"
)

// RuleStatus é o estado atual de uma regra para uma chave (inspeção administrativa)
type RuleStatus struct {
	Rule   LimitRule    `json:"rule"`
	Status RecordStatus `json:"status"`
	Count  int64        `json:"count"` // 0 quando o registro é um set (modo unicidade)
	TTL    int64        `json:"ttl"`
}
