// Package syncer implementa o detector de lacunas e o protocolo de
// sincronização do motor de entrega.
//
// Cada origem remota tem um cursor: a maior sequência contígua já
// recebida. Sequências abaixo do cursor nunca são pedidas de novo e o
// cursor só avança, nunca regride, exceto por reset explícito do
// operador. Quando um quadro chega com sequência além de cursor+1, as
// faixas faltantes são registradas e um pedido de sincronização é
// enviado à origem pelo caminho normal de encaminhamento (podendo ser
// multi-salto). Lacunas que esgotam as tentativas são abandonadas e
// registradas em log; uma lacuna nunca é fatal nem bloqueia a entrega
// normal.
package syncer

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/radiomesh/meshchat/internal/config"
	"github.com/radiomesh/meshchat/internal/event"
	"github.com/radiomesh/meshchat/internal/protocol"
	"github.com/radiomesh/meshchat/internal/store"
)

// Transport é o caminho de saída consumido pelo sincronizador,
// implementado pelo motor. Nenhuma das chamadas bloqueia em I/O de
// rede: ambas apenas enfileiram quadros no caminho de saída.
type Transport interface {
	// SendSyncRequest envia um pedido de sincronização à origem
	SendSyncRequest(origin protocol.NodeID, ranges []protocol.SeqRange)

	// SendSyncReply reenvia um quadro armazenado ao nó que pediu
	SendSyncReply(dest protocol.NodeID, stored *protocol.Frame)
}

// originState é o estado do cursor de uma origem remota.
//
// Invariante: as faixas pendentes são disjuntas, ordenadas e cobrem
// exatamente as sequências faltantes entre cursor+1 e top.
type originState struct {
	cursor    uint32 // maior sequência contígua recebida
	top       uint32 // maior sequência já vista
	pending   []protocol.SeqRange
	attempts  int
	backoff   time.Duration
	nextRetry time.Time
}

// Syncer mantém um cursor por origem remota e dirige o protocolo de
// sincronização
type Syncer struct {
	mutex   sync.Mutex
	self    protocol.NodeID
	cfg     config.SyncConfig
	store   store.Store
	tx      Transport
	clock   clockwork.Clock
	bus     *event.Bus
	log     *logrus.Entry
	origins map[protocol.NodeID]*originState
	wg      sync.WaitGroup
}

// New cria o sincronizador
func New(
	self protocol.NodeID,
	cfg config.SyncConfig,
	st store.Store,
	tx Transport,
	clock clockwork.Clock,
	bus *event.Bus,
	log *logrus.Logger,
) *Syncer {
	return &Syncer{
		self:    self,
		cfg:     cfg,
		store:   st,
		tx:      tx,
		clock:   clock,
		bus:     bus,
		log:     log.WithField("component", "syncer"),
		origins: make(map[protocol.NodeID]*originState),
	}
}

// ObserveData ingere a sequência de um quadro de dados entregue e
// avança o cursor da origem, abrindo ou estreitando faixas faltantes
// conforme o caso. Um pedido de sincronização é enviado imediatamente
// quando uma lacuna nova é aberta.
func (s *Syncer) ObserveData(origin protocol.NodeID, seq uint32) {
	if origin == s.self {
		return
	}

	s.mutex.Lock()

	st, known := s.origins[origin]
	if !known {
		st = s.admit(origin, seq)
	}

	wasPending := len(st.pending) > 0

	switch {
	case seq <= st.cursor:
		// Abaixo do cursor: já contígua ou velha, nunca pedida de novo
		s.mutex.Unlock()
		return

	case seq > st.top:
		if seq > st.top+1 {
			s.openRange(origin, st, protocol.SeqRange{Lo: st.top + 1, Hi: seq - 1})
		}
		st.top = seq

	default:
		// Dentro da janela pendente: estreita a faixa que a contém
		s.fill(origin, st, seq)
	}

	if len(st.pending) == 0 {
		st.cursor = st.top
	} else {
		st.cursor = st.pending[0].Lo - 1
	}

	var request []protocol.SeqRange
	var started, completed bool

	nowPending := len(st.pending) > 0
	if !wasPending && nowPending {
		started = true
		st.attempts = 1
		st.backoff = s.cfg.InitialBackoff
		st.nextRetry = s.clock.Now().Add(st.backoff)
		request = snapshotRanges(st.pending)
	}
	if wasPending && !nowPending {
		completed = true
		st.attempts = 0
		st.backoff = 0
	}
	rangeCount := len(st.pending)

	s.mutex.Unlock()

	if started {
		s.log.WithFields(logrus.Fields{
			"origin": origin.Short(),
			"ranges": rangeCount,
		}).Info("Lacuna de sequência detectada")

		s.bus.Publish(event.SyncStarted{Origin: origin, Ranges: rangeCount})
		s.tx.SendSyncRequest(origin, request)
	}
	if completed {
		s.log.WithField("origin", origin.Short()).Info("Lacuna preenchida")
		s.bus.Publish(event.SyncCompleted{Origin: origin, Abandoned: false})
	}
}

// Sweep reenvia pedidos pendentes cujo backoff venceu e abandona
// lacunas que esgotaram as tentativas. Invocado em intervalo fixo com
// tempo monotônico.
func (s *Syncer) Sweep(now time.Time) {
	type resend struct {
		origin protocol.NodeID
		ranges []protocol.SeqRange
	}
	var resends []resend
	var abandoned []protocol.NodeID

	s.mutex.Lock()
	for origin, st := range s.origins {
		if len(st.pending) == 0 || now.Before(st.nextRetry) {
			continue
		}

		if st.attempts >= s.cfg.MaxRetries {
			// Abandono: o cursor pula a lacuna e segue a vida
			st.cursor = st.top
			st.pending = nil
			st.attempts = 0
			st.backoff = 0
			abandoned = append(abandoned, origin)
			continue
		}

		st.attempts++
		st.backoff = time.Duration(float64(st.backoff) * s.cfg.BackoffFactor)
		if st.backoff > s.cfg.MaxBackoff {
			st.backoff = s.cfg.MaxBackoff
		}
		st.nextRetry = now.Add(st.backoff)
		resends = append(resends, resend{origin, snapshotRanges(st.pending)})
	}
	s.mutex.Unlock()

	for _, r := range resends {
		s.log.WithFields(logrus.Fields{
			"origin": r.origin.Short(),
			"ranges": len(r.ranges),
		}).Debug("Reenviando pedido de sincronização")
		s.tx.SendSyncRequest(r.origin, r.ranges)
	}
	for _, origin := range abandoned {
		s.log.WithField("origin", origin.Short()).Warn("Lacuna abandonada após esgotar as tentativas")
		s.bus.Publish(event.SyncCompleted{Origin: origin, Abandoned: true})
	}
}

// HandleRequest responde um pedido de sincronização reenviando os
// quadros armazenados das faixas pedidas. A resposta é gerada de forma
// assíncrona a partir do histórico, nunca no caminho do quadro que a
// disparou.
func (s *Syncer) HandleRequest(from protocol.NodeID, ranges []protocol.SeqRange) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.replay(from, ranges)
	}()
}

// Reset descarta o estado de uma origem (reset explícito do operador).
// O próximo quadro da origem readmite o cursor do zero.
func (s *Syncer) Reset(origin protocol.NodeID) {
	s.mutex.Lock()
	delete(s.origins, origin)
	s.mutex.Unlock()

	s.log.WithField("origin", origin.Short()).Info("Cursor de sincronização zerado")
}

// Pending retorna uma cópia das faixas faltantes de uma origem
func (s *Syncer) Pending(origin protocol.NodeID) []protocol.SeqRange {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	st, ok := s.origins[origin]
	if !ok {
		return nil
	}
	return snapshotRanges(st.pending)
}

// Close aguarda as respostas de sincronização em voo terminarem
func (s *Syncer) Close() {
	s.wg.Wait()
}

// admit cria o estado inicial de uma origem nunca vista. A linha de
// base vem do histórico durável quando existe; sem histórico, a
// primeira sequência observada vira a linha de base e o passado da
// origem não é perseguido.
func (s *Syncer) admit(origin protocol.NodeID, seq uint32) *originState {
	baseline := seq
	if highest, ok, err := s.store.HighestSeq(origin); err == nil && ok {
		baseline = highest
	}

	st := &originState{cursor: baseline, top: baseline}
	s.origins[origin] = st
	return st
}

// openRange registra uma faixa faltante nova, respeitando o limite de
// faixas rastreadas
func (s *Syncer) openRange(origin protocol.NodeID, st *originState, r protocol.SeqRange) {
	st.pending = append(st.pending, r)
	s.enforceRangeBudget(origin, st)
}

// enforceRangeBudget aplica o limite de faixas rastreadas: no estouro,
// as faixas mais antigas são abandonadas para dar lugar às novas.
// Chamado com o mutex em posse, por qualquer caminho que aumente o
// número de faixas pendentes.
func (s *Syncer) enforceRangeBudget(origin protocol.NodeID, st *originState) {
	if s.cfg.MaxTrackedRanges <= 0 {
		return
	}
	for len(st.pending) > s.cfg.MaxTrackedRanges {
		dropped := st.pending[0]
		st.pending = st.pending[1:]
		s.log.WithFields(logrus.Fields{
			"origin": origin.Short(),
			"lo":     dropped.Lo,
			"hi":     dropped.Hi,
		}).Warn("Faixa faltante mais antiga abandonada por estouro de rastreamento")
	}
}

// fill estreita a faixa pendente que contém a sequência, removendo-a
// ou dividindo-a em duas conforme a posição do preenchimento. A divisão
// cria uma faixa a mais e passa pelo mesmo limite de rastreamento que
// a abertura de faixas novas.
func (s *Syncer) fill(origin protocol.NodeID, st *originState, seq uint32) {
	for i, r := range st.pending {
		if !r.Contains(seq) {
			continue
		}

		switch {
		case r.Lo == r.Hi:
			st.pending = append(st.pending[:i], st.pending[i+1:]...)
		case seq == r.Lo:
			st.pending[i].Lo = seq + 1
		case seq == r.Hi:
			st.pending[i].Hi = seq - 1
		default:
			// Preenchimento no meio divide a faixa em duas
			st.pending = append(st.pending, protocol.SeqRange{})
			copy(st.pending[i+2:], st.pending[i+1:])
			st.pending[i] = protocol.SeqRange{Lo: r.Lo, Hi: seq - 1}
			st.pending[i+1] = protocol.SeqRange{Lo: seq + 1, Hi: r.Hi}
			s.enforceRangeBudget(origin, st)
		}
		return
	}
	// Fora de qualquer faixa: duplicata de uma sequência já recebida
	// acima do cursor
}

// replay busca os quadros pedidos no histórico e os reenvia um a um
func (s *Syncer) replay(from protocol.NodeID, ranges []protocol.SeqRange) {
	sent := 0
	for _, r := range ranges {
		frames, err := s.store.FetchRange(s.self, r.Lo, r.Hi)
		if err != nil {
			s.log.WithField("from", from.Short()).Warnf("Erro ao buscar histórico para replay: %v", err)
			continue
		}
		for _, frame := range frames {
			s.tx.SendSyncReply(from, frame)
			sent++
		}
	}

	s.log.WithFields(logrus.Fields{
		"from": from.Short(),
		"sent": sent,
	}).Debug("Replay de sincronização concluído")
}

// snapshotRanges copia as faixas em ordem para uso fora do mutex
func snapshotRanges(ranges []protocol.SeqRange) []protocol.SeqRange {
	out := make([]protocol.SeqRange, len(ranges))
	copy(out, ranges)
	sort.Slice(out, func(i, j int) bool { return out[i].Lo < out[j].Lo })
	return out
}
