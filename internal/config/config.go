package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Erros de configuração
var (
	ErrMissingCallsign = errors.New("callsign é obrigatório")
	ErrNoLinks         = errors.New("pelo menos um link deve ser configurado")
	ErrInvalidKey      = errors.New("chave de criptografia inválida")
)

// LinkConfig descreve um link de transporte subjacente
type LinkConfig struct {
	Name               string        `mapstructure:"name"`
	Type               string        `mapstructure:"type"` // Apenas "tcp" por enquanto
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	ReconnectBaseDelay time.Duration `mapstructure:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `mapstructure:"reconnect_max_delay"`
	TxQueueSize        int           `mapstructure:"tx_queue_size"`
}

// RoutingConfig contém configurações de descoberta e encaminhamento
type RoutingConfig struct {
	// Intervalo entre anúncios de originador
	OGMInterval time.Duration `mapstructure:"ogm_interval"`

	// TTL dos anúncios de originador
	OGMTTL uint8 `mapstructure:"ogm_ttl"`

	// TTL padrão para quadros de dados originados localmente
	DataTTL uint8 `mapstructure:"data_ttl"`

	// Janela de expiração de um peer sem anúncios
	RouteExpiry time.Duration `mapstructure:"route_expiry"`

	// Intervalo do varredor de expiração
	ExpirySweepInterval time.Duration `mapstructure:"expiry_sweep_interval"`

	// Retenção do cache de deduplicação. Deve exceder o pior tempo de
	// ida e volta através do diâmetro da mesh.
	DedupRetention time.Duration `mapstructure:"dedup_retention"`

	// Capacidade máxima do cache de deduplicação
	DedupCapacity int `mapstructure:"dedup_capacity"`
}

// SyncConfig contém configurações do detector de lacunas
type SyncConfig struct {
	MaxRetries       int           `mapstructure:"max_retries"`
	InitialBackoff   time.Duration `mapstructure:"initial_backoff"`
	BackoffFactor    float64       `mapstructure:"backoff_factor"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff"`
	MaxTrackedRanges int           `mapstructure:"max_tracked_ranges"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
}

// QueueConfig contém configurações da fila store-and-forward
type QueueConfig struct {
	PerDestCapacity int           `mapstructure:"per_dest_capacity"`
	GlobalCapacity  int           `mapstructure:"global_capacity"`
	MaxAge          time.Duration `mapstructure:"max_age"`
	HandoffAttempts int           `mapstructure:"handoff_attempts"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
}

// SecurityConfig contém configurações dos codecs opcionais de payload
type SecurityConfig struct {
	EnableCompression bool   `mapstructure:"enable_compression"`
	CompressionLevel  int    `mapstructure:"compression_level"`
	EnableEncryption  bool   `mapstructure:"enable_encryption"`
	KeyHex            string `mapstructure:"key_hex"`
}

// ChatConfig contém configurações da camada de chat
type ChatConfig struct {
	DBPath  string `mapstructure:"db_path"`
	Channel string `mapstructure:"channel"`
	Nick    string `mapstructure:"nick"`
}

// Config é o objeto de configuração explícito passado a cada componente
// na construção. Nenhum componente lê estado global.
type Config struct {
	Callsign string       `mapstructure:"callsign"`
	Links    []LinkConfig `mapstructure:"links"`

	Routing  RoutingConfig  `mapstructure:"routing"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Security SecurityConfig `mapstructure:"security"`
	Chat     ChatConfig     `mapstructure:"chat"`
}

// Default retorna uma configuração com os valores padrão
func Default() *Config {
	return &Config{
		Routing: RoutingConfig{
			OGMInterval:         10 * time.Second,
			OGMTTL:              5,
			DataTTL:             5,
			RouteExpiry:         120 * time.Second,
			ExpirySweepInterval: 5 * time.Second,
			DedupRetention:      10 * time.Minute,
			DedupCapacity:       4096,
		},
		Sync: SyncConfig{
			MaxRetries:       5,
			InitialBackoff:   5 * time.Second,
			BackoffFactor:    1.5,
			MaxBackoff:       2 * time.Minute,
			MaxTrackedRanges: 16,
			SweepInterval:    2 * time.Second,
		},
		Queue: QueueConfig{
			PerDestCapacity: 100,
			GlobalCapacity:  1000,
			MaxAge:          30 * time.Minute,
			HandoffAttempts: 3,
			SweepInterval:   30 * time.Second,
		},
		Security: SecurityConfig{
			EnableCompression: true,
			CompressionLevel:  1,
		},
		Chat: ChatConfig{
			Channel: "#geral",
		},
	}
}

// Load carrega a configuração de um arquivo YAML, aplicando os padrões
// para qualquer chave ausente.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	applyDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("erro ao ler configuração: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("erro ao decodificar configuração: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults registra os valores padrão no viper
func applyDefaults(v *viper.Viper) {
	def := Default()

	v.SetDefault("routing.ogm_interval", def.Routing.OGMInterval)
	v.SetDefault("routing.ogm_ttl", def.Routing.OGMTTL)
	v.SetDefault("routing.data_ttl", def.Routing.DataTTL)
	v.SetDefault("routing.route_expiry", def.Routing.RouteExpiry)
	v.SetDefault("routing.expiry_sweep_interval", def.Routing.ExpirySweepInterval)
	v.SetDefault("routing.dedup_retention", def.Routing.DedupRetention)
	v.SetDefault("routing.dedup_capacity", def.Routing.DedupCapacity)

	v.SetDefault("sync.max_retries", def.Sync.MaxRetries)
	v.SetDefault("sync.initial_backoff", def.Sync.InitialBackoff)
	v.SetDefault("sync.backoff_factor", def.Sync.BackoffFactor)
	v.SetDefault("sync.max_backoff", def.Sync.MaxBackoff)
	v.SetDefault("sync.max_tracked_ranges", def.Sync.MaxTrackedRanges)
	v.SetDefault("sync.sweep_interval", def.Sync.SweepInterval)

	v.SetDefault("queue.per_dest_capacity", def.Queue.PerDestCapacity)
	v.SetDefault("queue.global_capacity", def.Queue.GlobalCapacity)
	v.SetDefault("queue.max_age", def.Queue.MaxAge)
	v.SetDefault("queue.handoff_attempts", def.Queue.HandoffAttempts)
	v.SetDefault("queue.sweep_interval", def.Queue.SweepInterval)

	v.SetDefault("security.enable_compression", def.Security.EnableCompression)
	v.SetDefault("security.compression_level", def.Security.CompressionLevel)
	v.SetDefault("security.enable_encryption", def.Security.EnableEncryption)

	v.SetDefault("chat.channel", def.Chat.Channel)
}

// Validate verifica a consistência da configuração
func (c *Config) Validate() error {
	if c.Callsign == "" {
		return ErrMissingCallsign
	}
	if len(c.Links) == 0 {
		return ErrNoLinks
	}

	for i := range c.Links {
		link := &c.Links[i]
		if link.Name == "" {
			link.Name = fmt.Sprintf("link-%d", i)
		}
		if link.Type == "" {
			link.Type = "tcp"
		}
		if link.ReconnectBaseDelay <= 0 {
			link.ReconnectBaseDelay = 5 * time.Second
		}
		if link.ReconnectMaxDelay <= 0 {
			link.ReconnectMaxDelay = 60 * time.Second
		}
		if link.TxQueueSize <= 0 {
			link.TxQueueSize = 1000
		}
	}

	if c.Security.EnableEncryption {
		key, err := c.Security.Key()
		if err != nil || len(key) != 32 {
			return ErrInvalidKey
		}
	}

	return nil
}

// Key decodifica a chave de criptografia em bytes
func (s *SecurityConfig) Key() ([]byte, error) {
	if s.KeyHex == "" {
		return nil, ErrInvalidKey
	}
	key, err := hex.DecodeString(s.KeyHex)
	if err != nil {
		return nil, ErrInvalidKey
	}
	return key, nil
}
