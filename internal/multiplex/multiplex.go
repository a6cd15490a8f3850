// Package multiplex agrega um ou mais adaptadores de link em um único
// transporte lógico.
//
// No caminho de entrada, os quadros de todos os adaptadores ativos são
// mesclados em um único canal, etiquetados com o link de chegada. Só a
// sanidade rasa do quadro é verificada aqui (quadro malformado é
// rejeitado e logado); a deduplicação semântica fica deliberadamente no
// cache de deduplicação do motor, para que uma única política governe
// tanto a redundância do multiplex quanto os ciclos de roteamento.
package multiplex

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/radiomesh/meshchat/internal/event"
	"github.com/radiomesh/meshchat/internal/link"
	"github.com/radiomesh/meshchat/internal/protocol"
)

// Erros do multiplex
var (
	ErrNoActiveLinks = errors.New("nenhum link ativo")
	ErrUnknownLink   = errors.New("link desconhecido")
	ErrMuxClosed     = errors.New("multiplex fechado")
)

// Tagged é um quadro bruto recebido, etiquetado com o link de chegada
type Tagged struct {
	Link string
	Raw  []byte
}

// Multiplexer agrega adaptadores de link em um transporte lógico único
type Multiplexer struct {
	mutex    sync.RWMutex
	adapters map[string]link.Adapter
	inactive map[string]bool
	closed   bool

	rxChan   chan Tagged
	stopChan chan struct{}
	wg       sync.WaitGroup

	bus *event.Bus
	log *logrus.Entry
}

// New cria um multiplex vazio
func New(bus *event.Bus, log *logrus.Logger) *Multiplexer {
	return &Multiplexer{
		adapters: make(map[string]link.Adapter),
		inactive: make(map[string]bool),
		rxChan:   make(chan Tagged, 256),
		stopChan: make(chan struct{}),
		bus:      bus,
		log:      log.WithField("component", "multiplex"),
	}
}

// Attach incorpora um adaptador ao transporte lógico e começa a
// consumir seus quadros
func (m *Multiplexer) Attach(adapter link.Adapter) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return ErrMuxClosed
	}

	name := adapter.Name()
	m.adapters[name] = adapter
	delete(m.inactive, name)

	m.wg.Add(1)
	go m.intake(adapter)

	return nil
}

// intake consome os quadros de um adaptador até o fim da sequência
func (m *Multiplexer) intake(adapter link.Adapter) {
	defer m.wg.Done()

	name := adapter.Name()
	log := m.log.WithField("link", name)

	for {
		select {
		case <-m.stopChan:
			return
		case raw, ok := <-adapter.Frames():
			if !ok {
				// Transporte perdido: link fica inativo, os demais seguem
				log.Warn("Link encerrou a sequência de quadros")
				m.markInactive(name)
				m.bus.Publish(event.LinkDown{Link: name})
				return
			}

			if !protocol.SaneFrame(raw) {
				log.WithField("len", len(raw)).Debug("Quadro malformado descartado")
				continue
			}

			select {
			case m.rxChan <- Tagged{Link: name, Raw: raw}:
			case <-m.stopChan:
				return
			}
		}
	}
}

// markInactive marca um link como inativo. Retorna true apenas na
// transição, para que a perda seja anunciada uma única vez.
func (m *Multiplexer) markInactive(name string) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.inactive[name] {
		return false
	}
	m.inactive[name] = true
	return true
}

// markActive limpa a marca de inatividade de um link
func (m *Multiplexer) markActive(name string) {
	m.mutex.Lock()
	delete(m.inactive, name)
	m.mutex.Unlock()
}

// Send faz fan-out de um quadro para todos os links ativos, exceto o
// nomeado em except (horizonte dividido para broadcast). O estouro
// momentâneo da fila limitada de TX é transiente e não desativa o
// link; apenas erros de transporte marcam o link inativo. O envio
// conta como bem-sucedido se ao menos um link aceitou o quadro.
func (m *Multiplexer) Send(frame []byte, except string) error {
	m.mutex.RLock()
	if m.closed {
		m.mutex.RUnlock()
		return ErrMuxClosed
	}
	targets := make([]link.Adapter, 0, len(m.adapters))
	for name, adapter := range m.adapters {
		if name == except || m.inactive[name] {
			continue
		}
		targets = append(targets, adapter)
	}
	m.mutex.RUnlock()

	if len(targets) == 0 {
		return ErrNoActiveLinks
	}

	sent := 0
	for _, adapter := range targets {
		if err := adapter.Send(frame); err != nil {
			if errors.Is(err, link.ErrTxQueueFull) {
				m.log.WithField("link", adapter.Name()).Debug("Fila de TX cheia; quadro não saiu por este link")
				continue
			}
			m.log.WithField("link", adapter.Name()).Warnf("Erro de envio; marcando link inativo: %v", err)
			if m.markInactive(adapter.Name()) {
				m.bus.Publish(event.LinkDown{Link: adapter.Name()})
			}
			continue
		}
		sent++
	}

	if sent == 0 {
		return ErrNoActiveLinks
	}
	return nil
}

// SendOn envia um quadro por um link específico. O envio dirigido
// tenta mesmo um link marcado inativo: adaptadores reconectam por
// conta própria, e um envio aceito reativa a marca.
func (m *Multiplexer) SendOn(name string, frame []byte) error {
	m.mutex.RLock()
	adapter, ok := m.adapters[name]
	inactive := m.inactive[name]
	closed := m.closed
	m.mutex.RUnlock()

	if closed {
		return ErrMuxClosed
	}
	if !ok {
		return ErrUnknownLink
	}

	if err := adapter.Send(frame); err != nil {
		if !errors.Is(err, link.ErrTxQueueFull) {
			if m.markInactive(name) {
				m.bus.Publish(event.LinkDown{Link: name})
			}
		}
		return err
	}

	if inactive {
		m.markActive(name)
	}
	return nil
}

// Receive retorna o canal mesclado de quadros recebidos
func (m *Multiplexer) Receive() <-chan Tagged {
	return m.rxChan
}

// ActiveLinks retorna os nomes dos links ativos
func (m *Multiplexer) ActiveLinks() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	names := make([]string, 0, len(m.adapters))
	for name := range m.adapters {
		if !m.inactive[name] {
			names = append(names, name)
		}
	}
	return names
}

// Close encerra o multiplex em ordem: para a entrada de quadros,
// fecha os adaptadores e espera os consumidores drenarem.
func (m *Multiplexer) Close() error {
	m.mutex.Lock()
	if m.closed {
		m.mutex.Unlock()
		return nil
	}
	m.closed = true
	adapters := make([]link.Adapter, 0, len(m.adapters))
	for _, adapter := range m.adapters {
		adapters = append(adapters, adapter)
	}
	m.mutex.Unlock()

	close(m.stopChan)

	for _, adapter := range adapters {
		adapter.Close()
	}

	m.wg.Wait()
	close(m.rxChan)
	return nil
}
