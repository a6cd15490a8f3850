package link

import (
	"bytes"
	"testing"
	"time"
)

func TestPipe(t *testing.T) {
	t.Run("Quadro enviado por uma ponta chega na outra", func(t *testing.T) {
		a, b := NewPipePair("a", "b")
		defer a.Close()
		defer b.Close()

		if err := a.Send([]byte("quadro")); err != nil {
			t.Fatalf("Send falhou: %v", err)
		}

		select {
		case frame := <-b.Frames():
			if !bytes.Equal(frame, []byte("quadro")) {
				t.Errorf("Quadro esperado %q, obtido: %q", "quadro", frame)
			}
		case <-time.After(time.Second):
			t.Fatal("Quadro não chegou na outra ponta")
		}
	})

	t.Run("Send após Close retorna erro", func(t *testing.T) {
		a, b := NewPipePair("a", "b")
		b.Close()
		a.Close()

		if err := a.Send([]byte("x")); err != ErrLinkClosed {
			t.Errorf("Erro esperado ErrLinkClosed, obtido: %v", err)
		}
	})

	t.Run("Close fecha a sequência de quadros da outra ponta", func(t *testing.T) {
		a, b := NewPipePair("a", "b")
		defer b.Close()

		a.Close()

		select {
		case _, ok := <-b.Frames():
			if ok {
				t.Error("Canal deveria estar fechado, não entregar quadro")
			}
		case <-time.After(time.Second):
			t.Fatal("Fechamento não foi observado pela outra ponta")
		}
	})

	t.Run("Quadro é copiado e isolado de mutações", func(t *testing.T) {
		a, b := NewPipePair("a", "b")
		defer a.Close()
		defer b.Close()

		frame := []byte("original")
		if err := a.Send(frame); err != nil {
			t.Fatalf("Send falhou: %v", err)
		}
		frame[0] = 'X'

		received := <-b.Frames()
		if !bytes.Equal(received, []byte("original")) {
			t.Error("Mutação do chamador não deveria afetar o quadro entregue")
		}
	})
}
