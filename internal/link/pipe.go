package link

import "sync"

// Pipe é um adaptador em memória. NewPipePair devolve as duas pontas
// cruzadas: o que uma envia a outra recebe. Usado em testes e em
// topologias simuladas de múltiplos nós no mesmo processo.
type Pipe struct {
	name string
	out  chan<- []byte
	in   chan []byte

	mutex  sync.Mutex
	closed bool
}

// NewPipePair cria duas pontas conectadas de um link em memória
func NewPipePair(nameA, nameB string) (*Pipe, *Pipe) {
	aToB := make(chan []byte, 256)
	bToA := make(chan []byte, 256)

	a := &Pipe{name: nameA, out: aToB, in: bToA}
	b := &Pipe{name: nameB, out: bToA, in: aToB}
	return a, b
}

// Name identifica o link
func (p *Pipe) Name() string {
	return p.name
}

// Send entrega o quadro à outra ponta
func (p *Pipe) Send(frame []byte) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.closed {
		return ErrLinkClosed
	}

	// Copiar para isolar a outra ponta de mutações do chamador
	buf := make([]byte, len(frame))
	copy(buf, frame)

	select {
	case p.out <- buf:
		return nil
	default:
		return ErrTxQueueFull
	}
}

// Frames retorna o canal de quadros recebidos
func (p *Pipe) Frames() <-chan []byte {
	return p.in
}

// Close encerra esta ponta do par. A outra ponta observa o fim da
// sequência de quadros como um fechamento de canal.
func (p *Pipe) Close() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	close(p.out)
	return nil
}
