package store

import (
	"encoding/binary"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/radiomesh/meshchat/internal/protocol"
)

// LevelDB persiste quadros em um banco LevelDB local.
// A chave é origem(8) + seq(4) big-endian, de modo que FetchRange é
// uma varredura ordenada de iterador.
type LevelDB struct {
	db     *leveldb.DB
	mutex  sync.Mutex
	closed bool
}

// OpenLevelDB abre (ou cria) o banco no caminho dado
func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// frameKey monta a chave origem+sequência
func frameKey(origin protocol.NodeID, seq uint32) []byte {
	key := make([]byte, protocol.NodeIDSize+4)
	copy(key, origin)
	binary.BigEndian.PutUint32(key[protocol.NodeIDSize:], seq)
	return key
}

// Put persiste um quadro, ignorando se já presente
func (s *LevelDB) Put(frame *protocol.Frame) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	key := frameKey(frame.Origin, frame.Seq)

	// Idempotência por origem+sequência
	if exists, err := s.db.Has(key, nil); err != nil {
		return err
	} else if exists {
		return nil
	}

	data, err := protocol.Encode(frame)
	if err != nil {
		return err
	}

	return s.db.Put(key, data, nil)
}

// Has verifica se um quadro já foi persistido
func (s *LevelDB) Has(origin protocol.NodeID, seq uint32) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return false, ErrStoreClosed
	}

	return s.db.Has(frameKey(origin, seq), nil)
}

// FetchRange retorna os quadros de uma origem dentro de [lo, hi]
func (s *LevelDB) FetchRange(origin protocol.NodeID, lo, hi uint32) ([]*protocol.Frame, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if hi < lo {
		return nil, nil
	}

	iterRange := &util.Range{
		Start: frameKey(origin, lo),
		Limit: frameKey(origin, hi+1),
	}
	// Faixa aberta quando hi é o máximo representável
	if hi == ^uint32(0) {
		iterRange.Limit = append([]byte(origin), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
	}

	iter := s.db.NewIterator(iterRange, nil)
	defer iter.Release()

	var frames []*protocol.Frame
	for iter.Next() {
		frame, err := protocol.Decode(iter.Value())
		if err != nil {
			// Entrada corrompida não impede o resto da faixa
			continue
		}
		frames = append(frames, frame)
	}

	if err := iter.Error(); err != nil {
		return nil, err
	}

	return frames, nil
}

// HighestSeq retorna a maior sequência armazenada de uma origem
func (s *LevelDB) HighestSeq(origin protocol.NodeID) (uint32, bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return 0, false, ErrStoreClosed
	}

	iter := s.db.NewIterator(util.BytesPrefix([]byte(origin)), nil)
	defer iter.Release()

	if !iter.Last() {
		return 0, false, iter.Error()
	}

	key := iter.Key()
	seq := binary.BigEndian.Uint32(key[protocol.NodeIDSize:])
	return seq, true, nil
}

// Close fecha o banco
func (s *LevelDB) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
