package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"redis-limiter/internal/domain"

	"github.com/go-redis/redis/v8"
)

// hitScript avalia todas as regras de um hit de forma atômica.
// KEYS[n] = chave do registro da n-ésima regra
// ARGV = limiter, key, element, depois name/limit/window/block por regra
var hitScript = redis.NewScript(`
	local element = ARGV[3]
	local rule_index = 0

	for i = 4, #ARGV, 4 do
		rule_index = rule_index + 1
		local record_key = KEYS[rule_index]
		local limit_name = ARGV[i]
		local limit_value = tonumber(ARGV[i + 1])

		local value = redis.pcall('GET', record_key)
		if value == '` + domain.BlockedSentinel + `' then
			return { limit_name, redis.call('TTL', record_key) }
		end

		local value_new = 0
		if element == '' then
			value_new = redis.call('INCR', record_key)
		else
			if redis.call('SADD', record_key, element) == 0 then
				return {}
			end
			value_new = redis.call('SCARD', record_key)
		end

		if value_new > limit_value then
			redis.call('SET', record_key, '` + domain.BlockedSentinel + `', 'KEEPTTL')

			local ttl_block = tonumber(ARGV[i + 3])
			if ttl_block > 0 then
				redis.call('EXPIRE', record_key, ttl_block)
				return { limit_name, ttl_block }
			end
			return { limit_name, redis.call('TTL', record_key) }
		elseif value_new == 1 then
			redis.call('EXPIRE', record_key, tonumber(ARGV[i + 2]))
		end
	end

	return {}
`)

// RedisStorage implementa a interface domain.RecordStore usando Redis
type RedisStorage struct {
	client redis.Cmdable
	logger domain.Logger
}

var _ domain.RecordStore = (*RedisStorage)(nil)

// NewRedisStorage cria uma nova instância do RedisStorage
func NewRedisStorage(host, port, password string, db int, logger domain.Logger) (*RedisStorage, error) {
	// Configura cliente Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: password,
		DB:       db,

		// Configurações de performance
		PoolSize:     20,
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
		IdleTimeout:  5 * time.Minute,
	})

	// Testa a conexão
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if logger != nil {
		logger.Info("Redis connection established", map[string]interface{}{
			"host": host,
			"port": port,
			"db":   db,
		})
	}

	return NewRedisStorageFromClient(rdb, logger), nil
}

// NewRedisStorageFromClient usa um cliente já configurado (cluster, sentinel, testes)
func NewRedisStorageFromClient(client redis.Cmdable, logger domain.Logger) *RedisStorage {
	return &RedisStorage{
		client: client,
		logger: logger,
	}
}

// EvaluateHit executa o script de hit. O script roda inteiro no servidor,
// nenhum outro comando intercala entre as regras.
func (r *RedisStorage) EvaluateHit(ctx context.Context, req *domain.HitRequest) (*domain.Violation, error) {
	start := time.Now()

	if len(req.RecordKeys) != len(req.Rules) {
		return nil, fmt.Errorf("hit request for key %s has %d record keys for %d rules", req.Key, len(req.RecordKeys), len(req.Rules))
	}

	result, err := hitScript.Run(ctx, r.client, req.RecordKeys, req.Args()...).Result()
	if err != nil && err != redis.Nil {
		r.logStorageOperation("HIT", req.Key, false, time.Since(start).Seconds()*1000, err)
		return nil, fmt.Errorf("failed to evaluate hit for key %s: %w", req.Key, err)
	}

	violation, err := parseViolation(result)
	if err != nil {
		r.logStorageOperation("HIT", req.Key, false, time.Since(start).Seconds()*1000, err)
		return nil, fmt.Errorf("invalid hit result for key %s: %w", req.Key, err)
	}

	r.logStorageOperation("HIT", req.Key, true, time.Since(start).Seconds()*1000, nil)
	return violation, nil
}

// ReadRecords lê GET e TTL de cada chave num único MULTI/EXEC
func (r *RedisStorage) ReadRecords(ctx context.Context, keys []string) ([]domain.RecordState, error) {
	start := time.Now()

	if len(keys) == 0 {
		return []domain.RecordState{}, nil
	}

	gets := make([]*redis.StringCmd, len(keys))
	ttls := make([]*redis.DurationCmd, len(keys))

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			gets[i] = pipe.Get(ctx, key)
			ttls[i] = pipe.TTL(ctx, key)
		}
		return nil
	})
	// Respostas de erro do servidor (redis.Nil, WRONGTYPE) são tratadas por comando
	var replyErr redis.Error
	if err != nil && !errors.As(err, &replyErr) {
		r.logStorageOperation("READ", strings.Join(keys, ","), false, time.Since(start).Seconds()*1000, err)
		return nil, fmt.Errorf("failed to read records: %w", err)
	}

	states := make([]domain.RecordState, len(keys))
	for i, key := range keys {
		state := domain.RecordState{Key: key}

		value, err := gets[i].Result()
		switch {
		case err == nil:
			state.Exists = true
			state.Value = value
		case err == redis.Nil:
		case isWrongType(err):
			// Registro em modo unicidade (set): existe, mas não está bloqueado
			state.Exists = true
		default:
			r.logStorageOperation("READ", key, false, time.Since(start).Seconds()*1000, err)
			return nil, fmt.Errorf("failed to get key %s: %w", key, err)
		}

		ttl, err := ttls[i].Result()
		if err != nil {
			r.logStorageOperation("READ", key, false, time.Since(start).Seconds()*1000, err)
			return nil, fmt.Errorf("failed to get ttl for key %s: %w", key, err)
		}
		state.TTL = durationToSeconds(ttl)

		states[i] = state
	}

	r.logStorageOperation("READ", strings.Join(keys, ","), true, time.Since(start).Seconds()*1000, nil)
	return states, nil
}

// Delete remove as chaves com um único DEL
func (r *RedisStorage) Delete(ctx context.Context, keys []string) error {
	start := time.Now()

	if len(keys) == 0 {
		return nil
	}

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		r.logStorageOperation("DELETE", strings.Join(keys, ","), false, time.Since(start).Seconds()*1000, err)
		return fmt.Errorf("failed to delete keys: %w", err)
	}

	r.logStorageOperation("DELETE", strings.Join(keys, ","), true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// Health verifica se o storage está saudável
func (r *RedisStorage) Health(ctx context.Context) error {
	start := time.Now()

	if err := r.client.Ping(ctx).Err(); err != nil {
		r.logStorageOperation("HEALTH", "ping", false, time.Since(start).Seconds()*1000, err)
		return fmt.Errorf("Redis health check failed: %w", err)
	}

	r.logStorageOperation("HEALTH", "ping", true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// Close fecha a conexão com o storage
func (r *RedisStorage) Close() error {
	if client, ok := r.client.(*redis.Client); ok {
		if err := client.Close(); err != nil {
			if r.logger != nil {
				r.logger.Error("Failed to close Redis connection", err, nil)
			}
			return err
		}
		if r.logger != nil {
			r.logger.Info("Redis connection closed", nil)
		}
	}
	return nil
}

// parseViolation converte a resposta do script: {} ou {rule, ttl}
func parseViolation(result interface{}) (*domain.Violation, error) {
	if result == nil {
		return nil, nil
	}

	values, ok := result.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected reply type %T", result)
	}
	if len(values) == 0 {
		return nil, nil
	}
	if len(values) != 2 {
		return nil, fmt.Errorf("unexpected reply length %d", len(values))
	}

	rule, ok := values[0].(string)
	if !ok {
		return nil, fmt.Errorf("unexpected rule name type %T", values[0])
	}

	ttl, err := strconv.ParseInt(fmt.Sprint(values[1]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid ttl in reply: %w", err)
	}

	return &domain.Violation{Rule: rule, TTL: ttl}, nil
}

// durationToSeconds mantém -1/-2 do TTL do Redis e converte o resto para segundos
func durationToSeconds(ttl time.Duration) int64 {
	if ttl < 0 {
		return int64(ttl)
	}
	return int64(ttl / time.Second)
}

func isWrongType(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "WRONGTYPE")
}

// logStorageOperation registra operações de storage
func (r *RedisStorage) logStorageOperation(operation, key string, success bool, latency float64, err error) {
	if r.logger != nil {
		if success {
			r.logger.Debug("Storage operation completed", map[string]interface{}{
				"operation": operation,
				"key":       key,
				"latency":   latency,
			})
		} else {
			r.logger.Error("Storage operation failed", err, map[string]interface{}{
				"operation": operation,
				"key":       key,
				"latency":   latency,
			})
		}
	}
}
