package mesh

import (
	"github.com/sirupsen/logrus"

	"github.com/radiomesh/meshchat/internal/event"
	"github.com/radiomesh/meshchat/internal/protocol"
)

// Transmitter é o caminho de saída do multiplex consumido pelo motor
// de encaminhamento. Entregar um quadro aqui apenas o enfileira; nada
// no caminho de entrada bloqueia em I/O de rede.
type Transmitter interface {
	// Send faz fan-out para todos os links ativos exceto o nomeado
	Send(frame []byte, except string) error

	// SendOn envia por um link específico
	SendOn(name string, frame []byte) error
}

// DeadLetter recebe quadros cujo destino não tem rota conhecida
// (a fila store-and-forward)
type DeadLetter interface {
	Enqueue(dest protocol.NodeID, frame *protocol.Frame)
}

// Delivery é o colaborador de entrega local (persistência, eventos,
// despacho de pedidos de sincronização)
type Delivery interface {
	Deliver(frame *protocol.Frame, arrivedVia string)
}

// ForwardingEngine é o único ponto de entrada para todo quadro de
// classe de dados recebido: decide entre entrega local, repasse ou
// descarte, aplicando deduplicação e o orçamento de saltos.
type ForwardingEngine struct {
	self       protocol.NodeID
	routes     *RouteTable
	dedup      *DedupCache
	tx         Transmitter
	deadLetter DeadLetter
	delivery   Delivery
	bus        *event.Bus
	log        *logrus.Entry
}

// NewForwardingEngine cria o motor de encaminhamento
func NewForwardingEngine(
	self protocol.NodeID,
	routes *RouteTable,
	dedup *DedupCache,
	tx Transmitter,
	deadLetter DeadLetter,
	delivery Delivery,
	bus *event.Bus,
	log *logrus.Logger,
) *ForwardingEngine {
	return &ForwardingEngine{
		self:       self,
		routes:     routes,
		dedup:      dedup,
		tx:         tx,
		deadLetter: deadLetter,
		delivery:   delivery,
		bus:        bus,
		log:        log.WithField("component", "forwarding"),
	}
}

// Handle processa um quadro de classe de dados recebido.
//
// O identificador é registrado no cache de deduplicação antes de
// qualquer efeito colateral, de modo que chegadas duplicadas em links
// paralelos sejam capturadas mesmo ainda em trânsito. A propagação é
// limitada pelo TTL independentemente de ciclos na topologia: chegadas
// duplicadas por um ciclo são capturadas pelo cache mesmo que o TTL
// sozinho também as detivesse eventualmente.
func (fe *ForwardingEngine) Handle(frame *protocol.Frame, arrivedVia string) {
	// Passos 1-2: deduplicação, sem efeitos colaterais para repetidos
	if !fe.dedup.SeenAndRemember(frame.DedupKey()) {
		fe.log.WithField("id", frame.MessageID()).Debug("Quadro duplicado descartado")
		return
	}

	// Passo 3: entrega local
	local := frame.Destination == fe.self
	if local || frame.IsBroadcast() {
		fe.delivery.Deliver(frame, arrivedVia)
	}
	if local {
		return
	}

	// Passo 4: repasse com orçamento de saltos
	fe.Forward(frame, arrivedVia)
}

// Forward repassa um quadro adiante, decrementando o TTL.
// Também é o caminho usado pela fila store-and-forward ao drenar.
func (fe *ForwardingEngine) Forward(frame *protocol.Frame, arrivedVia string) {
	if frame.TTL == 0 {
		// Esperado sob laços de topologia; nunca é uma falha
		fe.log.WithField("id", frame.MessageID()).Debug("TTL esgotado; quadro descartado")
		return
	}

	fwd := *frame
	fwd.TTL--

	raw, err := protocol.Encode(&fwd)
	if err != nil {
		fe.log.WithField("id", frame.MessageID()).Warnf("Erro ao codificar quadro para repasse: %v", err)
		return
	}

	if fwd.IsBroadcast() {
		// Broadcast: todos os links ativos exceto o de chegada
		if err := fe.tx.Send(raw, arrivedVia); err != nil {
			fe.log.Debugf("Broadcast sem links de saída: %v", err)
			return
		}
		fe.bus.Publish(event.MessageForwarded{
			MessageID: fwd.MessageID(),
			NextHop:   protocol.Broadcast,
			TTL:       fwd.TTL,
		})
		return
	}

	// Unicast: consultar a tabela de rotas
	record, ok := fe.routes.Lookup(fwd.Destination)
	if !ok {
		// Sem rota não é erro: vai para a fila store-and-forward
		fe.deadLetter.Enqueue(frame.Destination, frame)
		return
	}

	if err := fe.tx.SendOn(record.Link, raw); err != nil {
		// Link da rota caiu entre a consulta e o envio
		fe.log.WithField("link", record.Link).Debugf("Envio falhou; quadro vai para a fila: %v", err)
		fe.deadLetter.Enqueue(frame.Destination, frame)
		return
	}

	fe.bus.Publish(event.MessageForwarded{
		MessageID: fwd.MessageID(),
		NextHop:   record.NextHop,
		TTL:       fwd.TTL,
	})
}

// RememberOwn registra um quadro originado localmente no cache de
// deduplicação, para que cópias dele voltando por um ciclo sejam
// descartadas sem reentrega.
func (fe *ForwardingEngine) RememberOwn(frame *protocol.Frame) {
	fe.dedup.SeenAndRemember(frame.DedupKey())
}
