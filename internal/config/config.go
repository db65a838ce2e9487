package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"redis-limiter/internal/domain"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config representa todas as configurações da aplicação
type Config struct {
	// Storage Configuration
	StorageType   string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Limiter Configuration
	LimiterName   string
	KeyPrefix     string
	LimitsFile    string
	ElementHeader string // header opcional que ativa o modo unicidade

	// Regra única usada quando não há arquivo de limites
	RateLimit     int
	RateWindow    int // em segundos
	BlockDuration int // em segundos

	// Server Configuration
	ServerPort        string
	GinMode           string
	TrustProxyHeaders bool // usa X-Forwarded-For/X-Real-IP como IP do cliente

	// Logging Configuration
	LogLevel  string
	LogFormat string

	// Regras na ordem de avaliação
	Rules []domain.RuleConfig
}

// LimitsFile representa a estrutura do arquivo de limites (YAML ou JSON).
// Uma lista, e não um mapa, para que a ordem das regras seja estável.
type LimitsFile struct {
	Limits []domain.RuleConfig `json:"limits" yaml:"limits"`
}

// ConfigLoader carrega a configuração do .env, do ambiente e do arquivo de limites
type ConfigLoader struct {
	config *Config
}

// NewConfigLoader cria uma nova instância do ConfigLoader
func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

// LoadConfig carrega as configurações do .env
func (c *ConfigLoader) LoadConfig() (*Config, error) {
	// Carrega o arquivo .env se existir
	if err := godotenv.Load(); err != nil {
		// Se não encontrar .env, continua com variáveis do sistema
		fmt.Println("Warning: .env file not found, using system environment variables")
	}

	config, err := c.loadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load environment config: %w", err)
	}

	rules, err := c.LoadRules(config)
	if err != nil {
		return nil, fmt.Errorf("failed to load limits: %w", err)
	}
	config.Rules = rules

	c.config = config
	return config, nil
}

// LoadRules carrega as regras do arquivo de limites ou cai na regra única do ambiente
func (c *ConfigLoader) LoadRules(config *Config) ([]domain.RuleConfig, error) {
	if config.LimitsFile == "" {
		return []domain.RuleConfig{defaultRule(config)}, nil
	}

	if _, err := os.Stat(config.LimitsFile); os.IsNotExist(err) {
		fmt.Printf("Warning: limits file %s not found, using only environment defaults\n", config.LimitsFile)
		return []domain.RuleConfig{defaultRule(config)}, nil
	}

	data, err := os.ReadFile(config.LimitsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read limits file: %w", err)
	}

	return ParseLimits(config.LimitsFile, data)
}

// ParseLimits decodifica o conteúdo do arquivo conforme a extensão
func ParseLimits(filename string, data []byte) ([]domain.RuleConfig, error) {
	var file LimitsFile

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse limits file: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse limits file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported limits file extension: %s", filepath.Ext(filename))
	}

	if len(file.Limits) == 0 {
		return nil, fmt.Errorf("limits file %s defines no limits", filename)
	}

	return file.Limits, nil
}

// GetConfig retorna a configuração atual
func (c *ConfigLoader) GetConfig() *Config {
	return c.config
}

// loadFromEnv carrega configurações das variáveis de ambiente
func (c *ConfigLoader) loadFromEnv() (*Config, error) {
	config := &Config{
		// Storage defaults
		StorageType:   strings.ToLower(getEnvWithDefault("STORAGE_TYPE", "redis")),
		RedisHost:     getEnvWithDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvWithDefault("REDIS_PORT", "6379"),
		RedisPassword: getEnvWithDefault("REDIS_PASSWORD", ""),

		// Limiter defaults
		LimiterName:   getEnvWithDefault("LIMITER_NAME", "api"),
		KeyPrefix:     getEnvWithDefault("KEY_PREFIX", domain.DefaultKeyPrefix),
		LimitsFile:    getEnvWithDefault("LIMITS_FILE", ""),
		ElementHeader: getEnvWithDefault("ELEMENT_HEADER", ""),

		// Server defaults
		ServerPort: getEnvWithDefault("SERVER_PORT", "8080"),
		GinMode:    getEnvWithDefault("GIN_MODE", "debug"),

		// Logging defaults
		LogLevel:  getEnvWithDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvWithDefault("LOG_FORMAT", "json"),
	}

	var err error
	if config.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if config.RateLimit, err = getEnvInt("RATE_LIMIT", 10); err != nil {
		return nil, err
	}
	if config.RateWindow, err = getEnvInt("RATE_WINDOW", 60); err != nil {
		return nil, err
	}
	if config.BlockDuration, err = getEnvInt("BLOCK_DURATION", 0); err != nil {
		return nil, err
	}
	if config.TrustProxyHeaders, err = getEnvBool("TRUST_PROXY_HEADERS", false); err != nil {
		return nil, err
	}

	if err := c.validateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// validateConfig valida se as configurações são válidas.
// As regras em si são validadas na construção do limitador.
func (c *ConfigLoader) validateConfig(config *Config) error {
	if config.StorageType != "redis" && config.StorageType != "memory" {
		return fmt.Errorf("STORAGE_TYPE must be 'redis' or 'memory'")
	}

	if config.LimiterName == "" {
		return fmt.Errorf("LIMITER_NAME cannot be empty")
	}

	if config.RateLimit <= 0 {
		return fmt.Errorf("RATE_LIMIT must be greater than 0")
	}

	if config.RateWindow <= 0 {
		return fmt.Errorf("RATE_WINDOW must be greater than 0")
	}

	if config.BlockDuration < 0 {
		return fmt.Errorf("BLOCK_DURATION cannot be negative")
	}

	if config.RedisDB < 0 || config.RedisDB > 15 {
		return fmt.Errorf("REDIS_DB must be between 0 and 15")
	}

	return nil
}

// defaultRule monta a regra única a partir do ambiente
func defaultRule(config *Config) domain.RuleConfig {
	return domain.RuleConfig{
		Name:          "default",
		Limit:         config.RateLimit,
		Window:        config.RateWindow,
		BlockDuration: config.BlockDuration,
		Description:   "Default rule from environment",
	}
}

// getEnvInt lê um inteiro do ambiente
func getEnvInt(key string, defaultValue int) (int, error) {
	value, err := strconv.Atoi(getEnvWithDefault(key, strconv.Itoa(defaultValue)))
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %w", key, err)
	}
	return value, nil
}

// getEnvBool lê um booleano do ambiente
func getEnvBool(key string, defaultValue bool) (bool, error) {
	value, err := strconv.ParseBool(getEnvWithDefault(key, strconv.FormatBool(defaultValue)))
	if err != nil {
		return false, fmt.Errorf("invalid %s value: %w", key, err)
	}
	return value, nil
}

// getEnvWithDefault retorna o valor da variável de ambiente ou um valor padrão
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
