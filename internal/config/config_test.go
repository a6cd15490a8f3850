package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig(t *testing.T) {
	t.Run("Valores padrão", func(t *testing.T) {
		cfg := Default()

		if cfg.Routing.OGMInterval != 10*time.Second {
			t.Errorf("Intervalo de OGM padrão esperado 10s, obtido: %v", cfg.Routing.OGMInterval)
		}
		if cfg.Routing.DedupRetention != 10*time.Minute {
			t.Errorf("Retenção de dedup padrão esperada 10m, obtida: %v", cfg.Routing.DedupRetention)
		}
		if cfg.Queue.GlobalCapacity != 1000 {
			t.Errorf("Capacidade global padrão esperada 1000, obtida: %d", cfg.Queue.GlobalCapacity)
		}
	})

	t.Run("Validação exige callsign", func(t *testing.T) {
		cfg := Default()
		cfg.Links = []LinkConfig{{Host: "127.0.0.1", Port: 8001}}

		if err := cfg.Validate(); err != ErrMissingCallsign {
			t.Errorf("Erro esperado ErrMissingCallsign, obtido: %v", err)
		}
	})

	t.Run("Validação exige ao menos um link", func(t *testing.T) {
		cfg := Default()
		cfg.Callsign = "PU5ABC"

		if err := cfg.Validate(); err != ErrNoLinks {
			t.Errorf("Erro esperado ErrNoLinks, obtido: %v", err)
		}
	})

	t.Run("Validação preenche padrões dos links", func(t *testing.T) {
		cfg := Default()
		cfg.Callsign = "PU5ABC"
		cfg.Links = []LinkConfig{{Host: "127.0.0.1", Port: 8001}}

		if err := cfg.Validate(); err != nil {
			t.Fatalf("Validate falhou: %v", err)
		}

		link := cfg.Links[0]
		if link.Name != "link-0" {
			t.Errorf("Nome padrão esperado link-0, obtido: %q", link.Name)
		}
		if link.Type != "tcp" {
			t.Errorf("Tipo padrão esperado tcp, obtido: %q", link.Type)
		}
		if link.TxQueueSize != 1000 {
			t.Errorf("Fila de TX padrão esperada 1000, obtida: %d", link.TxQueueSize)
		}
	})

	t.Run("Criptografia habilitada exige chave de 32 bytes", func(t *testing.T) {
		cfg := Default()
		cfg.Callsign = "PU5ABC"
		cfg.Links = []LinkConfig{{Host: "127.0.0.1", Port: 8001}}
		cfg.Security.EnableEncryption = true
		cfg.Security.KeyHex = "abcd"

		if err := cfg.Validate(); err != ErrInvalidKey {
			t.Errorf("Erro esperado ErrInvalidKey, obtido: %v", err)
		}
	})
}

func TestLoad(t *testing.T) {
	t.Run("Carrega arquivo YAML com padrões", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "meshchat.yaml")

		yaml := `
callsign: PU5ABC
links:
  - name: ardop
    host: 127.0.0.1
    port: 8515
routing:
  ogm_interval: 3s
  ogm_ttl: 7
chat:
  nick: peder
`
		if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
			t.Fatalf("Erro ao escrever arquivo de teste: %v", err)
		}

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load falhou: %v", err)
		}

		if cfg.Callsign != "PU5ABC" {
			t.Errorf("Callsign esperado PU5ABC, obtido: %q", cfg.Callsign)
		}
		if cfg.Routing.OGMInterval != 3*time.Second {
			t.Errorf("Intervalo de OGM esperado 3s, obtido: %v", cfg.Routing.OGMInterval)
		}
		if cfg.Routing.OGMTTL != 7 {
			t.Errorf("TTL de OGM esperado 7, obtido: %d", cfg.Routing.OGMTTL)
		}

		// Chaves ausentes recebem os padrões
		if cfg.Routing.RouteExpiry != 120*time.Second {
			t.Errorf("Expiração de rota padrão esperada 120s, obtida: %v", cfg.Routing.RouteExpiry)
		}
		if cfg.Chat.Channel != "#geral" {
			t.Errorf("Canal padrão esperado #geral, obtido: %q", cfg.Chat.Channel)
		}
		if cfg.Chat.Nick != "peder" {
			t.Errorf("Nick esperado peder, obtido: %q", cfg.Chat.Nick)
		}
	})

	t.Run("Arquivo inexistente retorna erro", func(t *testing.T) {
		if _, err := Load("/caminho/que/nao/existe.yaml"); err == nil {
			t.Error("Load deveria falhar para arquivo inexistente")
		}
	})
}
