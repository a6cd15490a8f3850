// Package event implementa o barramento de eventos do motor de entrega.
//
// O motor emite eventos para zero ou mais ouvintes externos (GUI, daemon,
// plugins). Um ouvinte que entra em pânico não afeta o estado do motor
// nem a entrega do evento aos demais ouvintes.
package event

import (
	"github.com/radiomesh/meshchat/internal/protocol"
)

// Event é qualquer evento emitido pelo motor de entrega
type Event interface {
	// Name retorna o nome do evento para logs
	Name() string
}

// PeerJoined é emitido quando um peer se torna alcançável
type PeerJoined struct {
	Node     protocol.NodeID
	HopCount int
	NextHop  protocol.NodeID
}

func (PeerJoined) Name() string { return "peer_joined" }

// PeerLost é emitido quando um peer expira e se torna inalcançável
type PeerLost struct {
	Node protocol.NodeID
}

func (PeerLost) Name() string { return "peer_lost" }

// MessageDelivered é emitido exatamente uma vez por mensagem entregue
// localmente. Payload carrega o conteúdo já revertido pelos codecs e
// fica fora dos campos de log.
type MessageDelivered struct {
	MessageID string
	Origin    protocol.NodeID
	Seq       uint32
	Payload   []byte `structs:"-"`
}

func (MessageDelivered) Name() string { return "message_delivered" }

// MessageForwarded é emitido quando um quadro é repassado adiante
type MessageForwarded struct {
	MessageID string
	NextHop   protocol.NodeID
	TTL       uint8
}

func (MessageForwarded) Name() string { return "message_forwarded" }

// SyncStarted é emitido quando uma lacuna de sequência é detectada
type SyncStarted struct {
	Origin protocol.NodeID
	Ranges int
}

func (SyncStarted) Name() string { return "sync_started" }

// SyncCompleted é emitido quando uma lacuna é preenchida ou abandonada
type SyncCompleted struct {
	Origin    protocol.NodeID
	Abandoned bool
}

func (SyncCompleted) Name() string { return "sync_completed" }

// QueueDrained é emitido quando a fila store-and-forward termina de
// drenar as mensagens de um destino
type QueueDrained struct {
	Destination protocol.NodeID
	Count       int
}

func (QueueDrained) Name() string { return "queue_drained" }

// QueueDropped é emitido quando uma entrada da fila é descartada
type QueueDropped struct {
	Destination protocol.NodeID
	MessageID   string
	Reason      string
}

func (QueueDropped) Name() string { return "queue_dropped" }

// LinkDown é emitido quando um link de transporte é perdido
type LinkDown struct {
	Link string
}

func (LinkDown) Name() string { return "link_down" }
