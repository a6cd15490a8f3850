package event

import (
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/radiomesh/meshchat/internal/protocol"
)

func newTestLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestBus(t *testing.T) {
	t.Run("Evento chega a todos os ouvintes", func(t *testing.T) {
		bus := NewBus(newTestLogger())

		received1 := 0
		received2 := 0
		bus.Subscribe(func(ev Event) { received1++ })
		bus.Subscribe(func(ev Event) { received2++ })

		bus.Publish(PeerJoined{Node: protocol.DeriveNodeID("PU5ABC")})

		if received1 != 1 || received2 != 1 {
			t.Errorf("Ambos os ouvintes deveriam receber 1 evento, obtido: %d e %d", received1, received2)
		}
	})

	t.Run("Pânico em um ouvinte não afeta os demais", func(t *testing.T) {
		bus := NewBus(newTestLogger())

		received := 0
		bus.Subscribe(func(ev Event) { panic("ouvinte quebrado") })
		bus.Subscribe(func(ev Event) { received++ })

		bus.Publish(PeerLost{Node: protocol.DeriveNodeID("PU5ABC")})

		if received != 1 {
			t.Errorf("Ouvinte saudável deveria receber o evento mesmo após pânico, obtido: %d", received)
		}
	})

	t.Run("Publicar sem ouvintes não falha", func(t *testing.T) {
		bus := NewBus(newTestLogger())
		bus.Publish(MessageDelivered{MessageID: "abc:1"})
	})

	t.Run("Ouvinte vê os campos do evento", func(t *testing.T) {
		bus := NewBus(newTestLogger())

		var got PeerJoined
		bus.Subscribe(func(ev Event) {
			if pj, ok := ev.(PeerJoined); ok {
				got = pj
			}
		})

		node := protocol.DeriveNodeID("PU5XYZ")
		bus.Publish(PeerJoined{Node: node, HopCount: 2, NextHop: protocol.DeriveNodeID("RELAY")})

		if got.Node != node {
			t.Errorf("Node esperado %q, obtido: %q", node.Short(), got.Node.Short())
		}
		if got.HopCount != 2 {
			t.Errorf("HopCount esperado 2, obtido: %d", got.HopCount)
		}
	})
}
