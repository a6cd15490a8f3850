package codec

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/radiomesh/meshchat/internal/protocol"
)

// ErrInvalidKeySize indica uma chave com tamanho diferente de 32 bytes
var ErrInvalidKeySize = errors.New("chave deve ter exatamente 32 bytes")

// ChaCha cifra payloads com ChaCha20-Poly1305.
// Codec de adesão opcional: nós sem a chave simplesmente não o instalam.
// O nonce é gerado aleatoriamente e prefixado ao ciphertext.
type ChaCha struct {
	key []byte
}

// NewChaCha cria um codec de cifragem com a chave simétrica dada
func NewChaCha(key []byte) (*ChaCha, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidKeySize
	}
	return &ChaCha{key: key}, nil
}

// Encode cifra o payload e prefixa o nonce
func (c *ChaCha) Encode(payload []byte) ([]byte, uint8, error) {
	aead, err := chacha20poly1305.New(c.key)
	if err != nil {
		return nil, 0, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, 0, err
	}

	out := make([]byte, 0, len(nonce)+len(payload)+aead.Overhead())
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, payload, nil)

	return out, protocol.FlagEncrypted, nil
}

// Decode decifra o payload se a flag de cifragem estiver presente
func (c *ChaCha) Decode(payload []byte, flags uint8) ([]byte, error) {
	if flags&protocol.FlagEncrypted == 0 {
		return payload, nil
	}

	aead, err := chacha20poly1305.New(c.key)
	if err != nil {
		return nil, err
	}

	if len(payload) < aead.NonceSize() {
		return nil, ErrDecodeFailed
	}

	nonce := payload[:aead.NonceSize()]
	ciphertext := payload[aead.NonceSize():]

	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecodeFailed
	}

	return plain, nil
}
