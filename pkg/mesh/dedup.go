package mesh

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DedupCache lembra identificadores de mensagens vistos recentemente
// para garantir entrega e encaminhamento no máximo uma vez.
//
// A retenção é limitada por capacidade e por idade: entradas mais
// antigas são despejadas quando qualquer um dos limites é excedido.
// A janela de retenção deve exceder o pior tempo de ida e volta
// através do diâmetro da mesh (configurável pelo operador).
type DedupCache struct {
	items *expirable.LRU[string, struct{}]
	mutex sync.Mutex
}

// NewDedupCache cria um cache de deduplicação com os limites dados
func NewDedupCache(capacity int, retention time.Duration) *DedupCache {
	return &DedupCache{
		items: expirable.NewLRU[string, struct{}](capacity, nil, retention),
	}
}

// SeenAndRemember registra o identificador e retorna true apenas na
// primeira vez que ele é visto. Chamadas subsequentes para o mesmo
// identificador retornam false até a entrada ser despejada.
// Atômico em relação a chamadas concorrentes: chegadas duplicadas em
// links paralelos são capturadas mesmo ainda em trânsito.
func (dc *DedupCache) SeenAndRemember(id string) bool {
	dc.mutex.Lock()
	defer dc.mutex.Unlock()

	if _, seen := dc.items.Get(id); seen {
		return false
	}

	dc.items.Add(id, struct{}{})
	return true
}

// Contains verifica se o identificador já foi visto, sem registrá-lo
func (dc *DedupCache) Contains(id string) bool {
	dc.mutex.Lock()
	defer dc.mutex.Unlock()

	_, seen := dc.items.Get(id)
	return seen
}

// Len retorna o número de identificadores lembrados
func (dc *DedupCache) Len() int {
	dc.mutex.Lock()
	defer dc.mutex.Unlock()

	return dc.items.Len()
}
