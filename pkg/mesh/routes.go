package mesh

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/radiomesh/meshchat/internal/event"
	"github.com/radiomesh/meshchat/internal/protocol"
)

// PeerRecord descreve um peer conhecido e a melhor rota até ele
type PeerRecord struct {
	NodeID     protocol.NodeID
	HopCount   int             // 1 = direto
	NextHop    protocol.NodeID // igual ao NodeID quando direto
	Link       string          // link de chegada da melhor rota
	LinkMetric uint8
	LastSeen   time.Time
}

// Observation é a leitura de um anúncio de originador já decodificado.
// HopCount é a distância do nó local até a origem por este caminho
// (corpo do OGM + 1).
type Observation struct {
	Origin     protocol.NodeID
	Seq        uint32
	PrevHop    protocol.NodeID
	HopCount   int
	LinkMetric uint8
	Link       string
}

// peerEntry é o estado interno de um peer na tabela
type peerEntry struct {
	record  PeerRecord
	lastSeq uint32
}

// RouteTable mantém um registro por nó conhecido (não por link),
// construído a partir dos anúncios periódicos de originador.
//
// Nenhuma inundação global é feita: a tabela reflete apenas o que o nó
// recebeu direta ou indiretamente. Visões desatualizadas ou
// particionadas são esperadas e toleradas.
type RouteTable struct {
	mutex  sync.RWMutex
	self   protocol.NodeID
	peers  map[protocol.NodeID]*peerEntry
	expiry time.Duration
	clock  clockwork.Clock
	bus    *event.Bus
	log    *logrus.Entry
}

// NewRouteTable cria uma tabela de rotas vazia
func NewRouteTable(self protocol.NodeID, expiry time.Duration, clock clockwork.Clock, bus *event.Bus, log *logrus.Logger) *RouteTable {
	return &RouteTable{
		self:   self,
		peers:  make(map[protocol.NodeID]*peerEntry),
		expiry: expiry,
		clock:  clock,
		bus:    bus,
		log:    log.WithField("component", "routes"),
	}
}

// Observe ingere um anúncio de originador e atualiza ou insere o
// registro do peer. Retorna true quando o anúncio avançou a sequência
// da origem e deve ser repassado adiante.
//
// Regra de desempate entre anúncios conflitantes para o mesmo peer:
// menor hop count vence; em igualdade de custo, o anúncio mais recente
// só substitui a rota instalada quando chega pelo próprio next hop
// instalado ou quando a rota instalada já envelheceu metade da janela
// de expiração. Isso dá "último escritor vence" sem oscilar a rota a
// cada ciclo de OGM em caminhos alternados.
func (rt *RouteTable) Observe(obs Observation) bool {
	if obs.Origin == rt.self {
		return false
	}

	// Invariante: rota direta aponta para a própria origem
	if obs.HopCount == 1 {
		obs.PrevHop = obs.Origin
	}

	rt.mutex.Lock()

	now := rt.clock.Now()
	entry, known := rt.peers[obs.Origin]

	if !known {
		// Peer novo (ou expirado e readmitido): adesão do zero
		entry = &peerEntry{
			record: PeerRecord{
				NodeID:     obs.Origin,
				HopCount:   obs.HopCount,
				NextHop:    obs.PrevHop,
				Link:       obs.Link,
				LinkMetric: obs.LinkMetric,
				LastSeen:   now,
			},
			lastSeq: obs.Seq,
		}
		rt.peers[obs.Origin] = entry
		rt.mutex.Unlock()

		rt.log.WithFields(logrus.Fields{
			"peer": obs.Origin.Short(),
			"hops": obs.HopCount,
			"via":  obs.PrevHop.Short(),
		}).Info("Peer descoberto")

		// Publicado fora do mutex: ouvintes podem consultar a tabela
		rt.bus.Publish(event.PeerJoined{
			Node:     obs.Origin,
			HopCount: obs.HopCount,
			NextHop:  obs.PrevHop,
		})
		return true
	}
	defer rt.mutex.Unlock()

	if obs.Seq > entry.lastSeq {
		// Anúncio novo: refresca a vida do peer e aplica o desempate
		better := obs.HopCount < entry.record.HopCount
		sameCost := obs.HopCount == entry.record.HopCount
		viaInstalled := obs.PrevHop == entry.record.NextHop
		halfStale := now.Sub(entry.record.LastSeen) > rt.expiry/2

		entry.lastSeq = obs.Seq
		entry.record.LastSeen = now

		if better || (sameCost && (viaInstalled || halfStale)) {
			entry.record.HopCount = obs.HopCount
			entry.record.NextHop = obs.PrevHop
			entry.record.Link = obs.Link
			entry.record.LinkMetric = obs.LinkMetric
		}
		return true
	}

	if obs.Seq == entry.lastSeq && obs.HopCount < entry.record.HopCount {
		// Mesma inundação chegando por um caminho mais curto
		entry.record.HopCount = obs.HopCount
		entry.record.NextHop = obs.PrevHop
		entry.record.Link = obs.Link
		entry.record.LinkMetric = obs.LinkMetric
		return false
	}

	// Anúncio velho: ignorar (supressão de laços de OGM)
	return false
}

// Lookup retorna a rota instalada para um destino
func (rt *RouteTable) Lookup(dest protocol.NodeID) (PeerRecord, bool) {
	rt.mutex.RLock()
	defer rt.mutex.RUnlock()

	entry, ok := rt.peers[dest]
	if !ok {
		return PeerRecord{}, false
	}
	return entry.record, true
}

// NextHop retorna o próximo salto para um destino
func (rt *RouteTable) NextHop(dest protocol.NodeID) (protocol.NodeID, bool) {
	record, ok := rt.Lookup(dest)
	if !ok {
		return "", false
	}
	return record.NextHop, true
}

// Reachable verifica se um destino é atualmente alcançável
func (rt *RouteTable) Reachable(dest protocol.NodeID) bool {
	_, ok := rt.Lookup(dest)
	return ok
}

// ReachablePeers retorna uma cópia consistente dos peers alcançáveis,
// ordenada por identificador. Leituras podem prosseguir em paralelo
// com atualizações.
func (rt *RouteTable) ReachablePeers() []PeerRecord {
	rt.mutex.RLock()
	defer rt.mutex.RUnlock()

	peers := make([]PeerRecord, 0, len(rt.peers))
	for _, entry := range rt.peers {
		peers = append(peers, entry.record)
	}

	sort.Slice(peers, func(i, j int) bool {
		return peers[i].NodeID < peers[j].NodeID
	})
	return peers
}

// Expire transiciona para inalcançável todo peer sem anúncios dentro
// da janela de expiração, emitindo um evento de perda por peer.
// Um novo anúncio depois disso é tratado como adesão nova, não como
// retomada: hop count e next hop são recomputados do zero.
func (rt *RouteTable) Expire(now time.Time) {
	rt.mutex.Lock()

	var lost []protocol.NodeID
	for id, entry := range rt.peers {
		if now.Sub(entry.record.LastSeen) >= rt.expiry {
			lost = append(lost, id)
			delete(rt.peers, id)
		}
	}
	rt.mutex.Unlock()

	for _, id := range lost {
		rt.log.WithField("peer", id.Short()).Info("Peer expirou")
		rt.bus.Publish(event.PeerLost{Node: id})
	}
}
