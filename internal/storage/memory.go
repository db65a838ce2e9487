package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"redis-limiter/internal/domain"
)

// memoryRecord é um registro em memória: contador, set de elementos ou bloqueado
type memoryRecord struct {
	counter  int64
	members  map[string]struct{}
	blocked  bool
	expireAt time.Time // zero = sem expiração
}

// MemoryStorage implementa a interface domain.RecordStore usando memória.
// Só é compartilhado dentro do mesmo processo.
type MemoryStorage struct {
	records map[string]*memoryRecord
	mutex   sync.Mutex
	logger  domain.Logger
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

var _ domain.RecordStore = (*MemoryStorage)(nil)

// NewMemoryStorage cria uma nova instância do MemoryStorage
func NewMemoryStorage(logger domain.Logger) *MemoryStorage {
	return NewMemoryStorageWithClock(logger, time.Now)
}

// NewMemoryStorageWithClock permite injetar o relógio (testes de expiração)
func NewMemoryStorageWithClock(logger domain.Logger, now func() time.Time) *MemoryStorage {
	storage := &MemoryStorage{
		records: make(map[string]*memoryRecord),
		logger:  logger,
		now:     now,
		done:    make(chan struct{}),
	}

	// Inicia goroutine de limpeza
	go storage.cleanup()

	if logger != nil {
		logger.Info("Memory storage initialized", nil)
	}

	return storage
}

// EvaluateHit avalia todas as regras sob o mesmo lock
func (m *MemoryStorage) EvaluateHit(ctx context.Context, req *domain.HitRequest) (*domain.Violation, error) {
	start := time.Now()

	if len(req.RecordKeys) != len(req.Rules) {
		return nil, fmt.Errorf("hit request for key %s has %d record keys for %d rules", req.Key, len(req.RecordKeys), len(req.Rules))
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := m.now()

	for i, rule := range req.Rules {
		recordKey := req.RecordKeys[i]
		record := m.lookup(recordKey, now)

		if record != nil && record.blocked {
			m.logStorageOperation("HIT", req.Key, true, time.Since(start).Seconds()*1000, nil)
			return &domain.Violation{Rule: rule.Name, TTL: record.ttl(now)}, nil
		}

		var valueNew int64
		if req.Element == "" {
			if record == nil {
				record = &memoryRecord{}
				m.records[recordKey] = record
			} else if record.members != nil {
				err := fmt.Errorf("WRONGTYPE record %s holds a set", recordKey)
				m.logStorageOperation("HIT", req.Key, false, time.Since(start).Seconds()*1000, err)
				return nil, err
			}
			record.counter++
			valueNew = record.counter
		} else {
			if record == nil {
				record = &memoryRecord{members: make(map[string]struct{})}
				m.records[recordKey] = record
			} else if record.members == nil {
				err := fmt.Errorf("WRONGTYPE record %s holds a counter", recordKey)
				m.logStorageOperation("HIT", req.Key, false, time.Since(start).Seconds()*1000, err)
				return nil, err
			}
			if _, seen := record.members[req.Element]; seen {
				m.logStorageOperation("HIT", req.Key, true, time.Since(start).Seconds()*1000, nil)
				return nil, nil
			}
			record.members[req.Element] = struct{}{}
			valueNew = int64(len(record.members))
		}

		if valueNew > int64(rule.Limit) {
			// Vira sentinel mantendo o TTL atual
			record.blocked = true
			record.counter = 0
			record.members = nil

			if rule.BlockDuration > 0 {
				record.expireAt = now.Add(time.Duration(rule.BlockDuration) * time.Second)
				m.logStorageOperation("HIT", req.Key, true, time.Since(start).Seconds()*1000, nil)
				return &domain.Violation{Rule: rule.Name, TTL: int64(rule.BlockDuration)}, nil
			}
			m.logStorageOperation("HIT", req.Key, true, time.Since(start).Seconds()*1000, nil)
			return &domain.Violation{Rule: rule.Name, TTL: record.ttl(now)}, nil
		}

		if valueNew == 1 {
			record.expireAt = now.Add(time.Duration(rule.Window) * time.Second)
		}
	}

	m.logStorageOperation("HIT", req.Key, true, time.Since(start).Seconds()*1000, nil)
	return nil, nil
}

// ReadRecords lê o estado das chaves sem modificá-las
func (m *MemoryStorage) ReadRecords(ctx context.Context, keys []string) ([]domain.RecordState, error) {
	start := time.Now()

	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := m.now()
	states := make([]domain.RecordState, len(keys))

	for i, key := range keys {
		state := domain.RecordState{Key: key, TTL: -2}

		// Registros expirados são apenas ignorados, a remoção fica para o cleanup
		if record, exists := m.records[key]; exists && !record.expired(now) {
			state.Exists = true
			state.TTL = record.ttl(now)
			switch {
			case record.blocked:
				state.Value = domain.BlockedSentinel
			case record.members == nil:
				state.Value = strconv.FormatInt(record.counter, 10)
			}
		}

		states[i] = state
	}

	m.logStorageOperation("READ", strings.Join(keys, ","), true, time.Since(start).Seconds()*1000, nil)
	return states, nil
}

// Delete limpa os dados das chaves
func (m *MemoryStorage) Delete(ctx context.Context, keys []string) error {
	start := time.Now()

	m.mutex.Lock()
	defer m.mutex.Unlock()

	for _, key := range keys {
		delete(m.records, key)
	}

	m.logStorageOperation("DELETE", strings.Join(keys, ","), true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// Health verifica se o storage está saudável
func (m *MemoryStorage) Health(ctx context.Context) error {
	start := time.Now()

	m.mutex.Lock()
	dataSize := len(m.records)
	m.mutex.Unlock()

	if m.logger != nil {
		m.logger.Debug("Memory storage health check", map[string]interface{}{
			"data_entries": dataSize,
		})
	}

	m.logStorageOperation("HEALTH", "check", true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// Close para o cleanup e limpa os dados
func (m *MemoryStorage) Close() error {
	m.once.Do(func() { close(m.done) })

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.records = make(map[string]*memoryRecord)

	if m.logger != nil {
		m.logger.Info("Memory storage closed", nil)
	}
	return nil
}

// lookup retorna o registro vivo, removendo-o se já expirou. Exige o lock.
func (m *MemoryStorage) lookup(key string, now time.Time) *memoryRecord {
	record, exists := m.records[key]
	if !exists {
		return nil
	}
	if record.expired(now) {
		delete(m.records, key)
		return nil
	}
	return record
}

// cleanup remove entradas expiradas periodicamente
func (m *MemoryStorage) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanupExpiredEntries()
		case <-m.done:
			return
		}
	}
}

// cleanupExpiredEntries remove entradas expiradas
func (m *MemoryStorage) cleanupExpiredEntries() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := m.now()
	removed := 0

	for key, record := range m.records {
		if record.expired(now) {
			delete(m.records, key)
			removed++
		}
	}

	if removed > 0 && m.logger != nil {
		m.logger.Debug("Memory storage cleanup completed", map[string]interface{}{
			"removed_records": removed,
		})
	}
}

func (r *memoryRecord) expired(now time.Time) bool {
	return !r.expireAt.IsZero() && !now.Before(r.expireAt)
}

// ttl em segundos arredondado como o Redis; -1 sem expiração
func (r *memoryRecord) ttl(now time.Time) int64 {
	if r.expireAt.IsZero() {
		return -1
	}
	remaining := r.expireAt.Sub(now)
	return int64((remaining + 500*time.Millisecond) / time.Second)
}

// logStorageOperation registra operações de storage
func (m *MemoryStorage) logStorageOperation(operation, key string, success bool, latency float64, err error) {
	if m.logger == nil {
		return
	}

	if success {
		m.logger.Debug("Storage operation completed", map[string]interface{}{
			"operation": operation,
			"key":       key,
			"latency":   latency,
		})
	} else {
		m.logger.Error("Storage operation failed", err, map[string]interface{}{
			"operation": operation,
			"key":       key,
			"latency":   latency,
		})
	}
}
