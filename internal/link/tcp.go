package link

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/radiomesh/meshchat/internal/config"
	"github.com/radiomesh/meshchat/internal/protocol"
)

// TCP é um adaptador sobre um socket TCP com framing de prefixo de
// tamanho (4 bytes big-endian por quadro).
//
// Mantém loops de RX e TX em goroutines próprias e reconecta com
// backoff exponencial quando o transporte cai. Fechar o adaptador
// encerra os loops e fecha o canal de quadros recebidos.
type TCP struct {
	name string
	addr string
	cfg  config.LinkConfig
	log  *logrus.Entry

	txQueue chan []byte
	rxChan  chan []byte

	mutex sync.Mutex
	conn  net.Conn

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewTCP cria e inicia um adaptador TCP
func NewTCP(cfg config.LinkConfig, log *logrus.Logger) *TCP {
	a := &TCP{
		name:     cfg.Name,
		addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		cfg:      cfg,
		log:      log.WithField("component", "link").WithField("link", cfg.Name),
		txQueue:  make(chan []byte, cfg.TxQueueSize),
		rxChan:   make(chan []byte, 64),
		stopChan: make(chan struct{}),
	}

	a.wg.Add(2)
	go a.rxLoop()
	go a.txLoop()

	return a
}

// Name identifica o link
func (a *TCP) Name() string {
	return a.name
}

// Send enfileira um quadro para transmissão
func (a *TCP) Send(frame []byte) error {
	select {
	case <-a.stopChan:
		return ErrLinkClosed
	default:
	}

	select {
	case a.txQueue <- frame:
		return nil
	default:
		return ErrTxQueueFull
	}
}

// Frames retorna o canal de quadros recebidos
func (a *TCP) Frames() <-chan []byte {
	return a.rxChan
}

// Close encerra o adaptador
func (a *TCP) Close() error {
	a.stopOnce.Do(func() {
		close(a.stopChan)
		a.mutex.Lock()
		if a.conn != nil {
			a.conn.Close()
			a.conn = nil
		}
		a.mutex.Unlock()
	})

	a.wg.Wait()
	return nil
}

// connectWithBackoff garante uma conexão ativa, com backoff em falha
func (a *TCP) connectWithBackoff() net.Conn {
	delay := a.cfg.ReconnectBaseDelay

	for {
		select {
		case <-a.stopChan:
			return nil
		default:
		}

		conn, err := net.DialTimeout("tcp", a.addr, 10*time.Second)
		if err == nil {
			a.log.Info("Conexão TCP estabelecida")
			a.mutex.Lock()
			a.conn = conn
			a.mutex.Unlock()
			return conn
		}

		a.log.WithField("delay", delay).Warnf("Conexão falhou; tentando novamente: %v", err)

		select {
		case <-a.stopChan:
			return nil
		case <-time.After(delay):
		}

		if delay < a.cfg.ReconnectMaxDelay {
			delay *= 2
			if delay > a.cfg.ReconnectMaxDelay {
				delay = a.cfg.ReconnectMaxDelay
			}
		}
	}
}

// current retorna a conexão ativa, se houver
func (a *TCP) current() net.Conn {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.conn
}

// dropConn descarta a conexão ativa após um erro de transporte
func (a *TCP) dropConn() {
	a.mutex.Lock()
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}
	a.mutex.Unlock()
}

// rxLoop lê quadros da conexão e os publica no canal de recepção
func (a *TCP) rxLoop() {
	defer a.wg.Done()
	defer close(a.rxChan)

	for {
		select {
		case <-a.stopChan:
			return
		default:
		}

		conn := a.current()
		if conn == nil {
			conn = a.connectWithBackoff()
			if conn == nil {
				return
			}
		}

		frame, err := readFrame(conn)
		if err != nil {
			select {
			case <-a.stopChan:
				return
			default:
			}
			a.log.Warnf("RX perdeu a conexão; reconectando: %v", err)
			a.dropConn()
			continue
		}

		select {
		case a.rxChan <- frame:
		case <-a.stopChan:
			return
		}
	}
}

// txLoop retira quadros da fila e os escreve na conexão
func (a *TCP) txLoop() {
	defer a.wg.Done()

	for {
		select {
		case <-a.stopChan:
			return
		case frame := <-a.txQueue:
			conn := a.current()
			if conn == nil {
				// RX está reconectando; quadro descartado
				a.log.Debug("Quadro de TX descartado: sem conexão")
				continue
			}

			if err := writeFrame(conn, frame); err != nil {
				a.log.Warnf("Erro ao escrever quadro; derrubando conexão: %v", err)
				a.dropConn()
			}
		}
	}
}

// readFrame lê um quadro com prefixo de tamanho
func readFrame(conn net.Conn) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return nil, err
	}

	frameLen := binary.BigEndian.Uint32(lenBuf[:])
	if frameLen == 0 || frameLen > protocol.HeaderSize+protocol.MaxPayloadSize {
		return nil, fmt.Errorf("tamanho de quadro inválido: %d", frameLen)
	}

	frame := make([]byte, frameLen)
	if _, err := io.ReadFull(conn, frame); err != nil {
		return nil, err
	}

	return frame, nil
}

// writeFrame escreve um quadro com prefixo de tamanho
func writeFrame(conn net.Conn, frame []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(frame)))

	if _, err := conn.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := conn.Write(frame)
	return err
}
