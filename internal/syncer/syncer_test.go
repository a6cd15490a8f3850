package syncer

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/radiomesh/meshchat/internal/config"
	"github.com/radiomesh/meshchat/internal/event"
	"github.com/radiomesh/meshchat/internal/protocol"
	"github.com/radiomesh/meshchat/internal/store"
)

var (
	selfID  = protocol.DeriveNodeID("SELF")
	nodeA   = protocol.DeriveNodeID("NODE-A")
	testLog = func() *logrus.Logger {
		log := logrus.New()
		log.SetLevel(logrus.PanicLevel)
		return log
	}()
)

// fakeTransport captura os pedidos e respostas enviados
type fakeTransport struct {
	mutex    sync.Mutex
	requests []struct {
		origin protocol.NodeID
		ranges []protocol.SeqRange
	}
	replies []*protocol.Frame
}

func (tx *fakeTransport) SendSyncRequest(origin protocol.NodeID, ranges []protocol.SeqRange) {
	tx.mutex.Lock()
	defer tx.mutex.Unlock()
	tx.requests = append(tx.requests, struct {
		origin protocol.NodeID
		ranges []protocol.SeqRange
	}{origin, ranges})
}

func (tx *fakeTransport) SendSyncReply(dest protocol.NodeID, stored *protocol.Frame) {
	tx.mutex.Lock()
	defer tx.mutex.Unlock()
	tx.replies = append(tx.replies, stored)
}

func (tx *fakeTransport) requestCount() int {
	tx.mutex.Lock()
	defer tx.mutex.Unlock()
	return len(tx.requests)
}

func testConfig() config.SyncConfig {
	return config.SyncConfig{
		MaxRetries:       3,
		InitialBackoff:   5 * time.Second,
		BackoffFactor:    2.0,
		MaxBackoff:       time.Minute,
		MaxTrackedRanges: 4,
		SweepInterval:    2 * time.Second,
	}
}

// syncFixture monta um sincronizador com colaboradores de teste
func syncFixture(t *testing.T) (*Syncer, *fakeTransport, *store.Memory, *clockwork.FakeClock, *[]event.Event) {
	t.Helper()

	clock := clockwork.NewFakeClock()
	bus := event.NewBus(testLog)

	var events []event.Event
	var mu sync.Mutex
	bus.Subscribe(func(ev event.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	st := store.NewMemory()
	tx := &fakeTransport{}

	s := New(selfID, testConfig(), st, tx, clock, bus, testLog)
	return s, tx, st, clock, &events
}

func TestSyncer(t *testing.T) {
	t.Run("Primeira sequência vira linha de base sem lacuna", func(t *testing.T) {
		s, tx, _, _, events := syncFixture(t)

		s.ObserveData(nodeA, 7)

		if tx.requestCount() != 0 {
			t.Error("Primeira observação não deveria abrir lacuna")
		}
		if len(*events) != 0 {
			t.Errorf("Nenhum evento esperado, obtidos: %d", len(*events))
		}
	})

	t.Run("Salto de sequência abre lacuna e envia pedido", func(t *testing.T) {
		s, tx, _, _, events := syncFixture(t)

		s.ObserveData(nodeA, 1)
		s.ObserveData(nodeA, 5)

		if tx.requestCount() != 1 {
			t.Fatalf("Esperado 1 pedido, obtidos: %d", tx.requestCount())
		}
		req := tx.requests[0]
		if req.origin != nodeA {
			t.Errorf("Pedido deveria ser endereçado à origem, obtido: %q", req.origin.Short())
		}
		if len(req.ranges) != 1 || req.ranges[0].Lo != 2 || req.ranges[0].Hi != 4 {
			t.Errorf("Faixa esperada [2,4], obtida: %v", req.ranges)
		}

		started := 0
		for _, ev := range *events {
			if _, ok := ev.(event.SyncStarted); ok {
				started++
			}
		}
		if started != 1 {
			t.Errorf("Esperado 1 sync_started, obtidos: %d", started)
		}
	})

	t.Run("Preenchimento estreita e fecha a lacuna", func(t *testing.T) {
		s, _, _, _, events := syncFixture(t)

		s.ObserveData(nodeA, 1)
		s.ObserveData(nodeA, 5)

		// Preenchimento no meio divide a faixa em duas
		s.ObserveData(nodeA, 3)
		pending := s.Pending(nodeA)
		if len(pending) != 2 {
			t.Fatalf("Esperadas 2 faixas após divisão, obtidas: %v", pending)
		}
		if pending[0].Lo != 2 || pending[0].Hi != 2 || pending[1].Lo != 4 || pending[1].Hi != 4 {
			t.Errorf("Faixas esperadas [2,2] [4,4], obtidas: %v", pending)
		}

		s.ObserveData(nodeA, 2)
		s.ObserveData(nodeA, 4)

		if len(s.Pending(nodeA)) != 0 {
			t.Errorf("Lacuna deveria estar fechada, pendente: %v", s.Pending(nodeA))
		}

		completed := 0
		for _, ev := range *events {
			if c, ok := ev.(event.SyncCompleted); ok && !c.Abandoned {
				completed++
			}
		}
		if completed != 1 {
			t.Errorf("Esperado 1 sync_completed sem abandono, obtidos: %d", completed)
		}
	})

	t.Run("Linha de base vem do histórico durável quando existe", func(t *testing.T) {
		s, tx, st, _, _ := syncFixture(t)

		for seq := uint32(1); seq <= 3; seq++ {
			if err := st.Put(protocol.NewDataFrame(nodeA, selfID, seq, 5, []byte("m"))); err != nil {
				t.Fatalf("Put falhou: %v", err)
			}
		}

		// Primeira observação em memória, mas o histórico vai até 3
		s.ObserveData(nodeA, 6)

		if tx.requestCount() != 1 {
			t.Fatalf("Esperado 1 pedido, obtidos: %d", tx.requestCount())
		}
		r := tx.requests[0].ranges
		if len(r) != 1 || r[0].Lo != 4 || r[0].Hi != 5 {
			t.Errorf("Faixa esperada [4,5], obtida: %v", r)
		}
	})

	t.Run("Sequência abaixo do cursor nunca é pedida de novo", func(t *testing.T) {
		s, tx, _, _, _ := syncFixture(t)

		s.ObserveData(nodeA, 1)
		s.ObserveData(nodeA, 2)
		s.ObserveData(nodeA, 1) // retransmissão velha
		s.ObserveData(nodeA, 2)

		if tx.requestCount() != 0 {
			t.Errorf("Retransmissões velhas não deveriam abrir lacuna, pedidos: %d", tx.requestCount())
		}
	})

	t.Run("Varredura reenvia com backoff e abandona após as tentativas", func(t *testing.T) {
		s, tx, _, clock, events := syncFixture(t)

		s.ObserveData(nodeA, 1)
		s.ObserveData(nodeA, 5)
		if tx.requestCount() != 1 {
			t.Fatalf("Pedido inicial esperado, obtidos: %d", tx.requestCount())
		}

		// Antes do backoff vencer nada é reenviado
		s.Sweep(clock.Now().Add(2 * time.Second))
		if tx.requestCount() != 1 {
			t.Error("Varredura antes do backoff não deveria reenviar")
		}

		// Backoff inicial de 5s vencido: segunda tentativa
		clock.Advance(6 * time.Second)
		s.Sweep(clock.Now())
		if tx.requestCount() != 2 {
			t.Errorf("Esperadas 2 tentativas, obtidas: %d", tx.requestCount())
		}

		// Backoff dobrado para 10s: terceira tentativa
		clock.Advance(11 * time.Second)
		s.Sweep(clock.Now())
		if tx.requestCount() != 3 {
			t.Errorf("Esperadas 3 tentativas, obtidas: %d", tx.requestCount())
		}

		// Tentativas esgotadas: a lacuna é abandonada, não reenviada
		clock.Advance(21 * time.Second)
		s.Sweep(clock.Now())
		if tx.requestCount() != 3 {
			t.Errorf("Lacuna abandonada não deveria ser reenviada, tentativas: %d", tx.requestCount())
		}
		if len(s.Pending(nodeA)) != 0 {
			t.Error("Abandono deveria limpar as faixas pendentes")
		}

		abandoned := 0
		for _, ev := range *events {
			if c, ok := ev.(event.SyncCompleted); ok && c.Abandoned {
				abandoned++
			}
		}
		if abandoned != 1 {
			t.Errorf("Esperado 1 sync_completed abandonado, obtidos: %d", abandoned)
		}

		// Após o abandono o cursor pulou a lacuna: sequências dentro
		// dela viraram passado e não reabrem nada
		s.ObserveData(nodeA, 3)
		if tx.requestCount() != 3 {
			t.Error("Sequência dentro de lacuna abandonada não deveria reabri-la")
		}
	})

	t.Run("Replay responde com os quadros armazenados em ordem", func(t *testing.T) {
		s, tx, st, _, _ := syncFixture(t)

		for seq := uint32(1); seq <= 3; seq++ {
			if err := st.Put(protocol.NewDataFrame(selfID, protocol.Broadcast, seq, 5, []byte("m"))); err != nil {
				t.Fatalf("Put falhou: %v", err)
			}
		}

		s.HandleRequest(nodeA, []protocol.SeqRange{{Lo: 1, Hi: 3}})
		s.Close()

		if len(tx.replies) != 3 {
			t.Fatalf("Esperadas 3 respostas, obtidas: %d", len(tx.replies))
		}
		for i, frame := range tx.replies {
			if frame.Seq != uint32(i+1) {
				t.Errorf("Resposta %d com sequência %d, esperada %d", i, frame.Seq, i+1)
			}
		}
	})

	t.Run("Replay de faixa com buracos responde só o que existe", func(t *testing.T) {
		s, tx, st, _, _ := syncFixture(t)

		if err := st.Put(protocol.NewDataFrame(selfID, protocol.Broadcast, 2, 5, []byte("m"))); err != nil {
			t.Fatalf("Put falhou: %v", err)
		}

		s.HandleRequest(nodeA, []protocol.SeqRange{{Lo: 1, Hi: 5}})
		s.Close()

		if len(tx.replies) != 1 {
			t.Errorf("Esperada 1 resposta, obtidas: %d", len(tx.replies))
		}
	})

	t.Run("Reset zera o cursor da origem", func(t *testing.T) {
		s, tx, _, _, _ := syncFixture(t)

		s.ObserveData(nodeA, 1)
		s.ObserveData(nodeA, 5)
		s.Reset(nodeA)

		if s.Pending(nodeA) != nil {
			t.Error("Reset deveria descartar as faixas pendentes")
		}

		// Readmissão do zero: a primeira sequência vira linha de base
		s.ObserveData(nodeA, 10)
		if tx.requestCount() != 1 {
			t.Errorf("Readmissão não deveria abrir lacuna, pedidos: %d", tx.requestCount())
		}
	})

	t.Run("Estouro de faixas rastreadas abandona a mais antiga", func(t *testing.T) {
		s, _, _, _, _ := syncFixture(t)

		// Cada salto de 2 abre uma faixa de um elemento
		s.ObserveData(nodeA, 1)
		for seq := uint32(3); seq <= 13; seq += 2 {
			s.ObserveData(nodeA, seq)
		}

		pending := s.Pending(nodeA)
		if len(pending) != 4 {
			t.Fatalf("Rastreamento deveria respeitar o limite 4, obtidas: %d", len(pending))
		}
		if pending[0].Lo != 6 {
			t.Errorf("Faixas mais antigas deveriam ter sido abandonadas, primeira: %v", pending[0])
		}
	})

	t.Run("Divisão de faixa no limite abandona a mais antiga", func(t *testing.T) {
		s, tx, _, _, _ := syncFixture(t)

		// Uma faixa larga e três unitárias: rastreamento no limite 4
		s.ObserveData(nodeA, 1)
		s.ObserveData(nodeA, 11)
		for seq := uint32(13); seq <= 17; seq += 2 {
			s.ObserveData(nodeA, seq)
		}
		if pending := s.Pending(nodeA); len(pending) != 4 {
			t.Fatalf("Montagem deveria deixar 4 faixas, obtidas: %v", pending)
		}

		// Preenchimento no meio da faixa larga criaria uma quinta
		// faixa: o limite vale também para a divisão
		s.ObserveData(nodeA, 5)

		pending := s.Pending(nodeA)
		if len(pending) != 4 {
			t.Fatalf("Divisão deveria respeitar o limite 4, obtidas: %v", pending)
		}
		if pending[0].Lo != 6 || pending[0].Hi != 10 {
			t.Errorf("Metade baixa da divisão deveria ter sido abandonada, primeira: %v", pending[0])
		}

		// O cursor pulou a metade abandonada: sequências dela viraram
		// passado e não reabrem nada
		requests := tx.requestCount()
		s.ObserveData(nodeA, 3)
		if tx.requestCount() != requests {
			t.Error("Sequência de faixa abandonada não deveria abrir pedido novo")
		}
	})

	t.Run("Quadros do próprio nó são ignorados", func(t *testing.T) {
		s, tx, _, _, _ := syncFixture(t)

		s.ObserveData(selfID, 1)
		s.ObserveData(selfID, 100)

		if tx.requestCount() != 0 {
			t.Error("Sequências próprias não deveriam abrir lacuna")
		}
	})
}
