// Package engine compõe o motor de entrega da rede mesh: descoberta de
// rotas, encaminhamento com deduplicação, sincronização de lacunas e
// fila store-and-forward, sobre o transporte lógico do multiplex.
//
// O caminho de entrada nunca bloqueia em I/O de rede: repassar um
// quadro enfileira o trabalho no caminho de saída do multiplex e
// retorna; respostas de sincronização são geradas de forma assíncrona
// a partir do histórico. Nada aqui é fatal ao processo: as fronteiras
// de link e de persistência são os únicos lugares onde uma condição
// irrecuperável sobe ao daemon.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/radiomesh/meshchat/internal/codec"
	"github.com/radiomesh/meshchat/internal/config"
	"github.com/radiomesh/meshchat/internal/event"
	"github.com/radiomesh/meshchat/internal/multiplex"
	"github.com/radiomesh/meshchat/internal/protocol"
	"github.com/radiomesh/meshchat/internal/queue"
	"github.com/radiomesh/meshchat/internal/store"
	"github.com/radiomesh/meshchat/internal/syncer"
	"github.com/radiomesh/meshchat/pkg/mesh"
)

// Engine é o motor de entrega de um nó da rede mesh
type Engine struct {
	self  protocol.NodeID
	cfg   *config.Config
	mux   *multiplex.Multiplexer
	store store.Store
	codec codec.Codec
	clock clockwork.Clock
	bus   *event.Bus
	log   *logrus.Entry

	routes *mesh.RouteTable
	dedup  *mesh.DedupCache
	fwd    *mesh.ForwardingEngine
	syncer *syncer.Syncer
	queue  *queue.Queue

	// Quadros de dados e de controle usam espaços de sequência
	// separados: a sequência de dados alimenta o detector de lacunas
	// e não pode ter buracos causados por tráfego de controle.
	dataSeq atomic.Uint32
	ctlSeq  atomic.Uint32

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New monta o motor com os colaboradores externos. A sequência de
// dados retoma do histórico durável para que um reinício não reutilize
// números já vistos pelos peers.
func New(
	cfg *config.Config,
	mux *multiplex.Multiplexer,
	st store.Store,
	cdc codec.Codec,
	clock clockwork.Clock,
	bus *event.Bus,
	log *logrus.Logger,
) (*Engine, error) {
	if cfg.Callsign == "" {
		return nil, config.ErrMissingCallsign
	}
	self := protocol.DeriveNodeID(cfg.Callsign)

	e := &Engine{
		self:     self,
		cfg:      cfg,
		mux:      mux,
		store:    st,
		codec:    cdc,
		clock:    clock,
		bus:      bus,
		log:      log.WithField("component", "engine"),
		stopChan: make(chan struct{}),
	}

	e.routes = mesh.NewRouteTable(self, cfg.Routing.RouteExpiry, clock, bus, log)
	e.dedup = mesh.NewDedupCache(cfg.Routing.DedupCapacity, cfg.Routing.DedupRetention)
	e.queue = queue.New(cfg.Queue, e.handoff, clock, bus, log)
	e.fwd = mesh.NewForwardingEngine(self, e.routes, e.dedup, mux, e.queue, e, bus, log)
	e.syncer = syncer.New(self, cfg.Sync, st, e, clock, bus, log)

	if highest, ok, err := st.HighestSeq(self); err != nil {
		return nil, fmt.Errorf("erro ao retomar sequência do histórico: %w", err)
	} else if ok {
		e.dataSeq.Store(highest)
	}

	return e, nil
}

// Self retorna o identificador do nó local
func (e *Engine) Self() protocol.NodeID {
	return e.self
}

// Peers retorna o snapshot ordenado dos peers alcançáveis
func (e *Engine) Peers() []mesh.PeerRecord {
	return e.routes.ReachablePeers()
}

// Start liga o motor: consome o canal mesclado do multiplex, dispara
// os temporizadores periódicos e anuncia a presença do nó. O motor
// para quando o contexto é cancelado ou Stop é chamado.
func (e *Engine) Start(ctx context.Context) {
	// Um peer que acabou de se tornar alcançável drena a fila
	e.bus.Subscribe(func(ev event.Event) {
		if joined, ok := ev.(event.PeerJoined); ok {
			e.queue.OnPeerReachable(joined.Node)
		}
	})

	e.wg.Add(2)
	go e.inboundLoop()
	go e.tickerLoop()

	go func() {
		select {
		case <-ctx.Done():
			e.Stop()
		case <-e.stopChan:
		}
	}()

	e.Announce()
	e.log.WithField("node", e.self.Short()).Info("Motor de entrega ligado")
}

// Stop desliga o motor em ordem: para a entrada de quadros dos links,
// deixa o processamento em voo drenar, para os temporizadores e por
// último libera o armazenamento.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.mux.Close()
		close(e.stopChan)
		e.wg.Wait()
		e.syncer.Close()

		if err := e.store.Close(); err != nil {
			e.log.Errorf("Erro ao fechar o armazenamento: %v", err)
		}
		e.log.Info("Motor de entrega desligado")
	})
}

// inboundLoop consome o canal mesclado até o multiplex fechar.
// Não seleciona o canal de parada: o fechamento do multiplex garante
// que os quadros já recebidos sejam drenados antes do fim.
func (e *Engine) inboundLoop() {
	defer e.wg.Done()

	for tagged := range e.mux.Receive() {
		e.dispatch(tagged)
	}
}

// dispatch decodifica um quadro bruto e o encaminha à camada certa
func (e *Engine) dispatch(tagged multiplex.Tagged) {
	frame, err := protocol.Decode(tagged.Raw)
	if err != nil {
		e.log.WithField("link", tagged.Link).Debugf("Quadro indecodificável descartado: %v", err)
		return
	}

	if frame.Type == protocol.FrameOGM {
		e.handleOGM(frame, tagged.Link)
		return
	}

	// Classe de dados: deduplicação e encaminhamento
	e.fwd.Handle(frame, tagged.Link)
}

// handleOGM ingere um anúncio de originador e o repassa adiante quando
// ele avançou a sequência da origem. OGMs não passam pelo cache de
// deduplicação: a supressão de laços é feita pela sequência na tabela.
func (e *Engine) handleOGM(frame *protocol.Frame, arrivedVia string) {
	body, err := protocol.DecodeOGMBody(frame.Payload)
	if err != nil {
		e.log.WithField("link", arrivedVia).Debugf("Corpo de OGM inválido descartado: %v", err)
		return
	}

	forward := e.routes.Observe(mesh.Observation{
		Origin:     frame.Origin,
		Seq:        frame.Seq,
		PrevHop:    body.PrevHop,
		HopCount:   int(body.HopCount) + 1,
		LinkMetric: body.LinkMetric,
		Link:       arrivedVia,
	})

	if !forward || frame.TTL == 0 {
		return
	}

	// Reanuncia com este nó como último transmissor
	rebody, err := protocol.EncodeOGMBody(&protocol.OGMBody{
		PrevHop:    e.self,
		HopCount:   body.HopCount + 1,
		LinkMetric: body.LinkMetric,
	})
	if err != nil {
		return
	}

	relay := *frame
	relay.TTL--
	relay.Payload = rebody

	raw, err := protocol.Encode(&relay)
	if err != nil {
		return
	}
	if err := e.mux.Send(raw, arrivedVia); err != nil {
		e.log.Debugf("OGM sem links de saída: %v", err)
	}
}

// Deliver é a entrega local consumida pelo motor de encaminhamento.
// Chega aqui exatamente uma vez por quadro (a deduplicação já passou).
func (e *Engine) Deliver(frame *protocol.Frame, arrivedVia string) {
	switch frame.Type {
	case protocol.FrameData:
		e.deliverData(frame)

	case protocol.FrameSyncRequest:
		ranges, err := protocol.DecodeSyncBody(frame.Payload)
		if err != nil {
			e.log.WithField("from", frame.Origin.Short()).Debugf("Pedido de sincronização inválido: %v", err)
			return
		}
		e.syncer.HandleRequest(frame.Origin, ranges)

	case protocol.FrameSyncReply:
		// O payload carrega o quadro original codificado; reinjetar no
		// caminho normal torna o replay idempotente pela deduplicação
		inner, err := protocol.Decode(frame.Payload)
		if err != nil {
			e.log.WithField("from", frame.Origin.Short()).Debugf("Replay indecodificável descartado: %v", err)
			return
		}
		e.fwd.Handle(inner, arrivedVia)

	default:
		e.log.WithField("type", frame.Type.String()).Debug("Tipo de quadro sem entrega local")
	}
}

// deliverData persiste um quadro de dados e o anuncia aos ouvintes
func (e *Engine) deliverData(frame *protocol.Frame) {
	// O histórico durável é a segunda linha de defesa: um replay que
	// chegue depois do despejo do cache de deduplicação não reentrega
	if already, err := e.store.Has(frame.Origin, frame.Seq); err != nil {
		e.log.WithField("id", frame.MessageID()).Errorf("Erro ao consultar o histórico: %v", err)
		return
	} else if already {
		e.log.WithField("id", frame.MessageID()).Debug("Quadro já persistido; reentrega suprimida")
		return
	}

	payload, err := e.codec.Decode(frame.Payload, frame.Flags)
	if err != nil {
		// Falha de codec nunca entrega conteúdo corrompido
		e.log.WithField("id", frame.MessageID()).Warnf("Payload indecodificável descartado: %v", err)
		return
	}

	// O quadro é persistido como chegou (payload ainda codificado)
	// para que o replay de sincronização reproduza o original
	if err := e.store.Put(frame); err != nil {
		e.log.WithField("id", frame.MessageID()).Errorf("Erro ao persistir quadro: %v", err)
		return
	}

	e.bus.Publish(event.MessageDelivered{
		MessageID: frame.MessageID(),
		Origin:    frame.Origin,
		Seq:       frame.Seq,
		Payload:   payload,
	})

	e.syncer.ObserveData(frame.Origin, frame.Seq)
}

// SendText origina um quadro de dados de chat para um destino (ou
// para todos, com o destino de broadcast)
func (e *Engine) SendText(dest protocol.NodeID, text string) error {
	payload := protocol.ChatPayloadToBytes(&protocol.ChatPayload{
		Channel: e.cfg.Chat.Channel,
		Nick:    e.nick(),
		Text:    text,
	})

	encoded, flags, err := e.codec.Encode(payload)
	if err != nil {
		return fmt.Errorf("erro ao codificar payload: %w", err)
	}

	frame := protocol.NewDataFrame(e.self, dest, e.dataSeq.Add(1), e.cfg.Routing.DataTTL, encoded)
	frame.Flags = flags

	// O próprio envio entra no cache e no histórico: cópias voltando
	// por ciclo são descartadas e pedidos de sincronização têm fonte
	e.fwd.RememberOwn(frame)
	if err := e.store.Put(frame); err != nil {
		return fmt.Errorf("erro ao persistir envio: %w", err)
	}

	return e.transmit(frame)
}

// Announce emite um anúncio de originador deste nó
func (e *Engine) Announce() {
	body, err := protocol.EncodeOGMBody(&protocol.OGMBody{
		PrevHop:  e.self,
		HopCount: 0,
	})
	if err != nil {
		return
	}

	frame := protocol.NewOGMFrame(e.self, e.ctlSeq.Add(1), e.cfg.Routing.OGMTTL, body)
	raw, err := protocol.Encode(frame)
	if err != nil {
		return
	}
	if err := e.mux.Send(raw, ""); err != nil {
		e.log.Debugf("Anúncio sem links de saída: %v", err)
	}
}

// ResetSync zera o cursor de sincronização de uma origem (comando de
// operador)
func (e *Engine) ResetSync(origin protocol.NodeID) {
	e.syncer.Reset(origin)
}

// SendSyncRequest envia um pedido de retransmissão à origem das faixas
// faltantes, roteado normalmente (pode ser multi-salto)
func (e *Engine) SendSyncRequest(origin protocol.NodeID, ranges []protocol.SeqRange) {
	body, err := protocol.EncodeSyncBody(ranges)
	if err != nil {
		e.log.WithField("origin", origin.Short()).Warnf("Erro ao montar pedido de sincronização: %v", err)
		return
	}

	frame := protocol.NewSyncRequest(e.self, origin, e.ctlSeq.Add(1), e.cfg.Routing.DataTTL, body)
	e.fwd.RememberOwn(frame)
	if err := e.transmit(frame); err != nil {
		e.log.WithField("origin", origin.Short()).Debugf("Pedido de sincronização não enviado: %v", err)
	}
}

// SendSyncReply reenvia um quadro armazenado, embrulhado como replay,
// ao nó que pediu a retransmissão
func (e *Engine) SendSyncReply(dest protocol.NodeID, stored *protocol.Frame) {
	inner, err := protocol.Encode(stored)
	if err != nil {
		return
	}

	frame := protocol.NewSyncReply(e.self, dest, e.ctlSeq.Add(1), e.cfg.Routing.DataTTL, inner)
	e.fwd.RememberOwn(frame)
	if err := e.transmit(frame); err != nil {
		e.log.WithField("dest", dest.Short()).Debugf("Replay não enviado: %v", err)
	}
}

// transmit envia um quadro originado localmente. O TTL cheio sai da
// origem; o decremento acontece nos nós que repassam. Destino sem rota
// não é erro: o quadro vai para a fila store-and-forward.
func (e *Engine) transmit(frame *protocol.Frame) error {
	raw, err := protocol.Encode(frame)
	if err != nil {
		return fmt.Errorf("erro ao codificar quadro: %w", err)
	}

	if frame.IsBroadcast() {
		if err := e.mux.Send(raw, ""); err != nil {
			e.log.Debugf("Broadcast sem links de saída: %v", err)
		}
		return nil
	}

	record, ok := e.routes.Lookup(frame.Destination)
	if !ok {
		e.queue.Enqueue(frame.Destination, frame)
		return nil
	}

	if err := e.mux.SendOn(record.Link, raw); err != nil {
		e.queue.Enqueue(frame.Destination, frame)
		return nil
	}

	e.bus.Publish(event.MessageForwarded{
		MessageID: frame.MessageID(),
		NextHop:   record.NextHop,
		TTL:       frame.TTL,
	})
	return nil
}

// handoff é o repasse usado pela fila ao drenar: o salto da fila até o
// próximo nó decrementa o TTL como qualquer outro salto
func (e *Engine) handoff(dest protocol.NodeID, frame *protocol.Frame) error {
	if frame.TTL == 0 {
		// Morreu na fila: descarte silencioso, não falha de repasse
		return nil
	}

	record, ok := e.routes.Lookup(dest)
	if !ok {
		return fmt.Errorf("destino %s sem rota", dest.Short())
	}

	fwd := *frame
	fwd.TTL--

	raw, err := protocol.Encode(&fwd)
	if err != nil {
		return err
	}
	if err := e.mux.SendOn(record.Link, raw); err != nil {
		return err
	}

	e.bus.Publish(event.MessageForwarded{
		MessageID: fwd.MessageID(),
		NextHop:   record.NextHop,
		TTL:       fwd.TTL,
	})
	return nil
}

// tickerLoop dirige os trabalhos periódicos: anúncios de originador,
// expiração de peers e as varreduras de sincronização e da fila.
// Todos usam tempo monotônico do relógio injetado.
func (e *Engine) tickerLoop() {
	defer e.wg.Done()

	ogm := e.clock.NewTicker(e.cfg.Routing.OGMInterval)
	expiry := e.clock.NewTicker(e.cfg.Routing.ExpirySweepInterval)
	syncSweep := e.clock.NewTicker(e.cfg.Sync.SweepInterval)
	queueSweep := e.clock.NewTicker(e.cfg.Queue.SweepInterval)
	defer func() {
		ogm.Stop()
		expiry.Stop()
		syncSweep.Stop()
		queueSweep.Stop()
	}()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ogm.Chan():
			e.Announce()
		case <-expiry.Chan():
			e.routes.Expire(e.clock.Now())
		case <-syncSweep.Chan():
			e.syncer.Sweep(e.clock.Now())
		case <-queueSweep.Chan():
			e.queue.Sweep(e.clock.Now())
			e.queue.Retry(e.routes.Reachable)
		}
	}
}

// nick retorna o apelido configurado, com o callsign como padrão
func (e *Engine) nick() string {
	if e.cfg.Chat.Nick != "" {
		return e.cfg.Chat.Nick
	}
	return e.cfg.Callsign
}
