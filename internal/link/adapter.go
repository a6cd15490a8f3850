// Package link define os adaptadores de transporte consumidos pelo
// multiplex. Um adaptador move quadros brutos por um único transporte
// (TCP, modem, par em memória) sem nenhuma lógica de aplicação.
package link

import "errors"

// Erros dos adaptadores de link
var (
	ErrLinkClosed  = errors.New("link fechado")
	ErrTxQueueFull = errors.New("fila de transmissão cheia")
)

// Adapter é a interface uniforme de um transporte subjacente.
//
// A perda do transporte é sinalizada explicitamente: Frames é fechado
// quando o adaptador desiste do transporte, e Send retorna erro em vez
// de bloquear indefinidamente.
type Adapter interface {
	// Name identifica o link em logs e no multiplex
	Name() string

	// Send enfileira um quadro bruto para transmissão
	Send(frame []byte) error

	// Frames retorna a sequência preguiçosa de quadros recebidos.
	// O canal é fechado quando o transporte é perdido ou o adaptador
	// é fechado.
	Frames() <-chan []byte

	// Close encerra o adaptador e libera o transporte
	Close() error
}
