package event

import (
	"sync"

	"github.com/fatih/structs"
	"github.com/sirupsen/logrus"

	"github.com/radiomesh/meshchat/internal/protocol"
)

// Listener recebe eventos do motor de entrega
type Listener func(Event)

// Bus distribui eventos do motor para os ouvintes registrados.
// Cada ouvinte é invocado em uma chamada contida: um pânico é capturado,
// logado, e a execução continua para os demais ouvintes.
type Bus struct {
	mutex     sync.RWMutex
	listeners []Listener
	log       *logrus.Entry
}

// NewBus cria um novo barramento de eventos
func NewBus(log *logrus.Logger) *Bus {
	return &Bus{
		log: log.WithField("component", "event-bus"),
	}
}

// Subscribe registra um ouvinte para todos os eventos futuros
func (b *Bus) Subscribe(listener Listener) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.listeners = append(b.listeners, listener)
}

// Publish entrega o evento a todos os ouvintes registrados
func (b *Bus) Publish(ev Event) {
	b.mutex.RLock()
	listeners := make([]Listener, len(b.listeners))
	copy(listeners, b.listeners)
	b.mutex.RUnlock()

	for _, listener := range listeners {
		b.invoke(listener, ev)
	}
}

// invoke chama um ouvinte com captura de pânico
func (b *Bus) invoke(listener Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.WithFields(logrus.Fields{
				"event": ev.Name(),
				"panic": r,
			}).Warn("Ouvinte entrou em pânico; evento ignorado por ele")
		}
	}()

	listener(ev)
}

// LogListener retorna um ouvinte que registra cada evento com seus
// campos no logger dado
func LogListener(log *logrus.Logger) Listener {
	entry := log.WithField("component", "events")

	return func(ev Event) {
		fields := structs.Map(ev)
		for key, value := range fields {
			if id, ok := value.(protocol.NodeID); ok {
				fields[key] = id.Short()
			}
		}
		entry.WithFields(fields).Debug(ev.Name())
	}
}
