package store

import (
	"sort"
	"sync"

	"github.com/radiomesh/meshchat/internal/protocol"
)

// Memory é um armazenamento em memória usado em testes e em nós sem
// persistência configurada.
type Memory struct {
	mutex  sync.RWMutex
	frames map[protocol.NodeID]map[uint32]*protocol.Frame
}

// NewMemory cria um armazenamento em memória vazio
func NewMemory() *Memory {
	return &Memory{
		frames: make(map[protocol.NodeID]map[uint32]*protocol.Frame),
	}
}

// Put persiste um quadro, ignorando se já presente
func (s *Memory) Put(frame *protocol.Frame) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	byOrigin, ok := s.frames[frame.Origin]
	if !ok {
		byOrigin = make(map[uint32]*protocol.Frame)
		s.frames[frame.Origin] = byOrigin
	}

	if _, exists := byOrigin[frame.Seq]; exists {
		return nil
	}

	byOrigin[frame.Seq] = frame
	return nil
}

// Has verifica se um quadro já foi persistido
func (s *Memory) Has(origin protocol.NodeID, seq uint32) (bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	byOrigin, ok := s.frames[origin]
	if !ok {
		return false, nil
	}
	_, exists := byOrigin[seq]
	return exists, nil
}

// FetchRange retorna os quadros de uma origem dentro de [lo, hi]
func (s *Memory) FetchRange(origin protocol.NodeID, lo, hi uint32) ([]*protocol.Frame, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	byOrigin, ok := s.frames[origin]
	if !ok || hi < lo {
		return nil, nil
	}

	var frames []*protocol.Frame
	for seq, frame := range byOrigin {
		if seq >= lo && seq <= hi {
			frames = append(frames, frame)
		}
	}

	sort.Slice(frames, func(i, j int) bool {
		return frames[i].Seq < frames[j].Seq
	})

	return frames, nil
}

// HighestSeq retorna a maior sequência armazenada de uma origem
func (s *Memory) HighestSeq(origin protocol.NodeID) (uint32, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	byOrigin, ok := s.frames[origin]
	if !ok || len(byOrigin) == 0 {
		return 0, false, nil
	}

	var highest uint32
	for seq := range byOrigin {
		if seq > highest {
			highest = seq
		}
	}
	return highest, true, nil
}

// Count retorna o total de quadros armazenados (apoio a testes)
func (s *Memory) Count() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	total := 0
	for _, byOrigin := range s.frames {
		total += len(byOrigin)
	}
	return total
}

// Close não faz nada para o armazenamento em memória
func (s *Memory) Close() error {
	return nil
}
