// Package store define o armazenamento durável de mensagens consumido
// pelo motor de entrega.
//
// O motor usa a interface estreita Store para persistir quadros entregues
// e para responder pedidos de sincronização a partir do histórico.
// A deduplicação na camada de persistência (Put idempotente por
// origem+sequência) é a segunda linha de defesa além do cache de
// deduplicação do motor.
package store

import (
	"errors"

	"github.com/radiomesh/meshchat/internal/protocol"
)

// Erros do armazenamento
var (
	ErrStoreClosed = errors.New("armazenamento fechado")
)

// Store é a interface estreita consumida pelo motor de entrega
type Store interface {
	// Put persiste um quadro. Idempotente: gravar a mesma
	// origem+sequência duas vezes não duplica nada.
	Put(frame *protocol.Frame) error

	// Has verifica se um quadro já foi persistido
	Has(origin protocol.NodeID, seq uint32) (bool, error)

	// FetchRange retorna os quadros armazenados de uma origem com
	// sequência dentro de [lo, hi], em ordem crescente. Faixas com
	// buracos retornam apenas o que existe.
	FetchRange(origin protocol.NodeID, lo, hi uint32) ([]*protocol.Frame, error)

	// HighestSeq retorna a maior sequência armazenada de uma origem
	HighestSeq(origin protocol.NodeID) (uint32, bool, error)

	// Close libera o armazenamento
	Close() error
}
