package codec

import (
	"bytes"
	"strings"
	"testing"

	"github.com/radiomesh/meshchat/internal/protocol"
)

func TestIdentity(t *testing.T) {
	t.Run("Não transforma nada", func(t *testing.T) {
		payload := []byte("ola mundo")

		out, flags, err := Identity{}.Encode(payload)
		if err != nil {
			t.Fatalf("Encode falhou: %v", err)
		}
		if flags != 0 {
			t.Errorf("Flags esperadas 0, obtidas: 0x%02x", flags)
		}
		if !bytes.Equal(out, payload) {
			t.Error("Identity não deveria alterar o payload")
		}

		back, err := Identity{}.Decode(out, flags)
		if err != nil {
			t.Fatalf("Decode falhou: %v", err)
		}
		if !bytes.Equal(back, payload) {
			t.Error("Decode de Identity não deveria alterar o payload")
		}
	})
}

func TestLZ4(t *testing.T) {
	t.Run("Ida e volta de payload compressível", func(t *testing.T) {
		c := NewLZ4(1)
		payload := []byte(strings.Repeat("mensagem repetitiva ", 100))

		out, flags, err := c.Encode(payload)
		if err != nil {
			t.Fatalf("Encode falhou: %v", err)
		}
		if flags&protocol.FlagCompressed == 0 {
			t.Error("Payload repetitivo deveria ter sido comprimido")
		}
		if len(out) >= len(payload) {
			t.Errorf("Payload comprimido (%d) deveria ser menor que o original (%d)", len(out), len(payload))
		}

		back, err := c.Decode(out, flags)
		if err != nil {
			t.Fatalf("Decode falhou: %v", err)
		}
		if !bytes.Equal(back, payload) {
			t.Error("Payload não sobreviveu à ida e volta")
		}
	})

	t.Run("Payload incompressível segue sem flag", func(t *testing.T) {
		c := NewLZ4(1)
		payload := []byte{0x01, 0x02, 0x03}

		out, flags, err := c.Encode(payload)
		if err != nil {
			t.Fatalf("Encode falhou: %v", err)
		}
		if flags != 0 {
			t.Error("Payload minúsculo não deveria ganhar a flag de compressão")
		}
		if !bytes.Equal(out, payload) {
			t.Error("Payload incompressível deveria seguir inalterado")
		}
	})

	t.Run("Payload corrompido falha no decode", func(t *testing.T) {
		c := NewLZ4(1)

		if _, err := c.Decode([]byte("lixo"), protocol.FlagCompressed); err != ErrDecodeFailed {
			t.Errorf("Erro esperado ErrDecodeFailed, obtido: %v", err)
		}
	})
}

func TestChaCha(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)

	t.Run("Ida e volta", func(t *testing.T) {
		c, err := NewChaCha(key)
		if err != nil {
			t.Fatalf("NewChaCha falhou: %v", err)
		}

		payload := []byte("mensagem secreta")
		out, flags, err := c.Encode(payload)
		if err != nil {
			t.Fatalf("Encode falhou: %v", err)
		}
		if flags&protocol.FlagEncrypted == 0 {
			t.Error("Flag de cifragem deveria estar presente")
		}
		if bytes.Equal(out, payload) {
			t.Error("Payload cifrado não deveria ser igual ao original")
		}

		back, err := c.Decode(out, flags)
		if err != nil {
			t.Fatalf("Decode falhou: %v", err)
		}
		if !bytes.Equal(back, payload) {
			t.Error("Payload não sobreviveu à ida e volta")
		}
	})

	t.Run("Chave com tamanho errado é rejeitada", func(t *testing.T) {
		if _, err := NewChaCha([]byte("curta")); err != ErrInvalidKeySize {
			t.Errorf("Erro esperado ErrInvalidKeySize, obtido: %v", err)
		}
	})

	t.Run("Ciphertext adulterado falha no decode", func(t *testing.T) {
		c, _ := NewChaCha(key)

		out, flags, err := c.Encode([]byte("mensagem"))
		if err != nil {
			t.Fatalf("Encode falhou: %v", err)
		}

		out[len(out)-1] ^= 0xFF
		if _, err := c.Decode(out, flags); err != ErrDecodeFailed {
			t.Errorf("Erro esperado ErrDecodeFailed, obtido: %v", err)
		}
	})

	t.Run("Chave errada falha no decode", func(t *testing.T) {
		c1, _ := NewChaCha(key)
		c2, _ := NewChaCha(bytes.Repeat([]byte{0x24}, 32))

		out, flags, err := c1.Encode([]byte("mensagem"))
		if err != nil {
			t.Fatalf("Encode falhou: %v", err)
		}

		if _, err := c2.Decode(out, flags); err != ErrDecodeFailed {
			t.Errorf("Erro esperado ErrDecodeFailed, obtido: %v", err)
		}
	})
}

func TestChain(t *testing.T) {
	t.Run("Compressão seguida de cifragem é invertível", func(t *testing.T) {
		key := bytes.Repeat([]byte{0x42}, 32)
		chacha, _ := NewChaCha(key)
		chain := Chain{NewLZ4(1), chacha}

		payload := []byte(strings.Repeat("texto compressível ", 50))

		out, flags, err := chain.Encode(payload)
		if err != nil {
			t.Fatalf("Encode falhou: %v", err)
		}
		if flags&protocol.FlagCompressed == 0 || flags&protocol.FlagEncrypted == 0 {
			t.Errorf("Ambas as flags deveriam estar presentes, obtidas: 0x%02x", flags)
		}

		back, err := chain.Decode(out, flags)
		if err != nil {
			t.Fatalf("Decode falhou: %v", err)
		}
		if !bytes.Equal(back, payload) {
			t.Error("Payload não sobreviveu à cadeia de codecs")
		}
	})

	t.Run("Cadeia vazia é identidade", func(t *testing.T) {
		chain := Chain{}
		payload := []byte("qualquer coisa")

		out, flags, err := chain.Encode(payload)
		if err != nil || flags != 0 || !bytes.Equal(out, payload) {
			t.Error("Cadeia vazia deveria se comportar como identidade")
		}
	})
}
