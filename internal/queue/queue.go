// Package queue implementa a fila store-and-forward do motor de
// entrega.
//
// A fila guarda em memória os quadros destinados a peers atualmente
// inalcançáveis e os drena em ordem de chegada quando o destino volta
// a ser alcançável. É um buffer limitado e com perdas, não um log de
// entrega garantida: no estouro dos limites por destino ou global, as
// entradas mais antigas são descartadas primeiro.
package queue

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/radiomesh/meshchat/internal/config"
	"github.com/radiomesh/meshchat/internal/event"
	"github.com/radiomesh/meshchat/internal/protocol"
)

// Motivos de descarte reportados no evento queue_dropped
const (
	DropPerDestOverflow = "estouro do limite por destino"
	DropGlobalOverflow  = "estouro do limite global"
	DropExpired         = "retenção por idade excedida"
	DropHandoffFailed   = "falha de repasse após as tentativas"
)

// ForwardFunc entrega um quadro drenado de volta ao caminho de
// encaminhamento. Retorna erro quando o repasse ao multiplex falhou e
// a entrada deve permanecer na fila.
type ForwardFunc func(dest protocol.NodeID, frame *protocol.Frame) error

// entry é uma entrada da fila, de posse exclusiva da fila até o
// repasse bem-sucedido ou o descarte
type entry struct {
	frame      *protocol.Frame
	enqueuedAt time.Time
	attempts   int
}

// Queue é a fila store-and-forward
type Queue struct {
	mutex   sync.Mutex
	cfg     config.QueueConfig
	forward ForwardFunc
	clock   clockwork.Clock
	bus     *event.Bus
	log     *logrus.Entry
	perDest map[protocol.NodeID][]*entry
	total   int
}

// New cria a fila store-and-forward
func New(cfg config.QueueConfig, forward ForwardFunc, clock clockwork.Clock, bus *event.Bus, log *logrus.Logger) *Queue {
	return &Queue{
		cfg:     cfg,
		forward: forward,
		clock:   clock,
		bus:     bus,
		log:     log.WithField("component", "queue"),
		perDest: make(map[protocol.NodeID][]*entry),
	}
}

// Enqueue guarda um quadro para um destino sem rota, aplicando os
// limites por destino e global (mais antigo descartado primeiro)
func (q *Queue) Enqueue(dest protocol.NodeID, frame *protocol.Frame) {
	var dropped []event.QueueDropped

	q.mutex.Lock()

	if len(q.perDest[dest]) >= q.cfg.PerDestCapacity {
		dropped = append(dropped, q.dropOldestOf(dest, DropPerDestOverflow))
	} else if q.total >= q.cfg.GlobalCapacity {
		dropped = append(dropped, q.dropGlobalOldest())
	}

	q.perDest[dest] = append(q.perDest[dest], &entry{
		frame:      frame,
		enqueuedAt: q.clock.Now(),
	})
	q.total++

	q.mutex.Unlock()

	q.log.WithFields(logrus.Fields{
		"dest": dest.Short(),
		"id":   frame.MessageID(),
	}).Debug("Quadro guardado para destino inalcançável")

	for _, ev := range dropped {
		q.bus.Publish(ev)
	}
}

// OnPeerReachable drena as entradas do destino em ordem de chegada,
// reenviando cada uma pelo caminho de encaminhamento. Uma entrada só
// sai da fila após repasse bem-sucedido; falhas repetidas até o limite
// de tentativas descartam a entrada com o motivo em log.
func (q *Queue) OnPeerReachable(dest protocol.NodeID) {
	q.mutex.Lock()
	pending := q.perDest[dest]
	delete(q.perDest, dest)
	q.total -= len(pending)
	q.mutex.Unlock()

	if len(pending) == 0 {
		return
	}

	drained := 0
	var droppedEvents []event.QueueDropped

	for i := 0; i < len(pending); {
		e := pending[i]

		if err := q.forward(dest, e.frame); err != nil {
			e.attempts++
			if e.attempts >= q.cfg.HandoffAttempts {
				q.log.WithFields(logrus.Fields{
					"dest": dest.Short(),
					"id":   e.frame.MessageID(),
				}).Warnf("Entrada descartada após %d falhas de repasse: %v", e.attempts, err)

				droppedEvents = append(droppedEvents, event.QueueDropped{
					Destination: dest,
					MessageID:   e.frame.MessageID(),
					Reason:      DropHandoffFailed,
				})
				i++
				continue
			}

			// O destino provavelmente oscilou de novo: devolve o
			// restante à fila preservando a ordem
			q.requeue(dest, pending[i:])
			break
		}

		drained++
		i++
	}

	for _, ev := range droppedEvents {
		q.bus.Publish(ev)
	}

	if drained > 0 {
		q.log.WithFields(logrus.Fields{
			"dest":  dest.Short(),
			"count": drained,
		}).Info("Fila drenada para destino alcançável")

		q.bus.Publish(event.QueueDrained{Destination: dest, Count: drained})
	}
}

// Retry tenta drenar os destinos que já têm rota instalada. Cobre os
// quadros guardados depois que o destino ficou alcançável (falha de
// envio com rota presente), que nunca veriam outro peer_joined.
// Invocado em intervalo fixo junto com Sweep.
func (q *Queue) Retry(reachable func(dest protocol.NodeID) bool) {
	q.mutex.Lock()
	dests := make([]protocol.NodeID, 0, len(q.perDest))
	for dest := range q.perDest {
		dests = append(dests, dest)
	}
	q.mutex.Unlock()

	for _, dest := range dests {
		if reachable(dest) {
			q.OnPeerReachable(dest)
		}
	}
}

// Sweep descarta entradas mais velhas que a retenção configurada.
// Invocado em intervalo fixo com tempo monotônico.
func (q *Queue) Sweep(now time.Time) {
	var dropped []event.QueueDropped

	q.mutex.Lock()
	for dest, entries := range q.perDest {
		kept := entries[:0]
		for _, e := range entries {
			if now.Sub(e.enqueuedAt) >= q.cfg.MaxAge {
				q.total--
				dropped = append(dropped, event.QueueDropped{
					Destination: dest,
					MessageID:   e.frame.MessageID(),
					Reason:      DropExpired,
				})
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(q.perDest, dest)
		} else {
			q.perDest[dest] = kept
		}
	}
	q.mutex.Unlock()

	for _, ev := range dropped {
		q.log.WithFields(logrus.Fields{
			"dest": ev.Destination.Short(),
			"id":   ev.MessageID,
		}).Debug("Entrada expirada descartada da fila")
		q.bus.Publish(ev)
	}
}

// Len retorna o total de entradas na fila
func (q *Queue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.total
}

// PendingFor retorna quantas entradas aguardam um destino
func (q *Queue) PendingFor(dest protocol.NodeID) int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.perDest[dest])
}

// dropOldestOf descarta a entrada mais antiga de um destino.
// Chamado com o mutex em posse.
func (q *Queue) dropOldestOf(dest protocol.NodeID, reason string) event.QueueDropped {
	entries := q.perDest[dest]
	oldest := entries[0]
	q.perDest[dest] = entries[1:]
	q.total--

	q.log.WithFields(logrus.Fields{
		"dest": dest.Short(),
		"id":   oldest.frame.MessageID(),
	}).Warnf("Entrada descartada: %s", reason)

	return event.QueueDropped{
		Destination: dest,
		MessageID:   oldest.frame.MessageID(),
		Reason:      reason,
	}
}

// dropGlobalOldest descarta a entrada mais antiga da fila inteira.
// Chamado com o mutex em posse.
func (q *Queue) dropGlobalOldest() event.QueueDropped {
	var oldestDest protocol.NodeID
	var oldestAt time.Time
	first := true

	for dest, entries := range q.perDest {
		if first || entries[0].enqueuedAt.Before(oldestAt) {
			first = false
			oldestDest = dest
			oldestAt = entries[0].enqueuedAt
		}
	}

	ev := q.dropOldestOf(oldestDest, DropGlobalOverflow)
	if len(q.perDest[oldestDest]) == 0 {
		delete(q.perDest, oldestDest)
	}
	return ev
}

// requeue devolve entradas não drenadas à frente da fila do destino
func (q *Queue) requeue(dest protocol.NodeID, entries []*entry) {
	q.mutex.Lock()
	q.perDest[dest] = append(entries, q.perDest[dest]...)
	q.total += len(entries)
	q.mutex.Unlock()
}
