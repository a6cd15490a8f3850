package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// Erros do corpo de sincronização
var (
	ErrTooManyRanges = errors.New("pedido de sincronização com faixas demais")
	ErrInvalidRange  = errors.New("faixa de sequência inválida")
)

// SeqRange é uma faixa fechada de números de sequência [Lo, Hi]
type SeqRange struct {
	Lo uint32
	Hi uint32
}

// Contains verifica se a sequência está dentro da faixa
func (r SeqRange) Contains(seq uint32) bool {
	return seq >= r.Lo && seq <= r.Hi
}

// Count retorna quantas sequências a faixa cobre
func (r SeqRange) Count() uint32 {
	return r.Hi - r.Lo + 1
}

// EncodeSyncBody serializa a lista de faixas faltantes de um pedido
// de sincronização: contagem(1) seguida de pares lo(4) hi(4).
func EncodeSyncBody(ranges []SeqRange) ([]byte, error) {
	if len(ranges) > MaxSyncRanges {
		return nil, ErrTooManyRanges
	}

	buf := bytes.NewBuffer(make([]byte, 0, 1+8*len(ranges)))
	buf.WriteByte(byte(len(ranges)))

	for _, r := range ranges {
		if r.Hi < r.Lo {
			return nil, ErrInvalidRange
		}
		if err := binary.Write(buf, binary.BigEndian, r.Lo); err != nil {
			return nil, err
		}
		if err := binary.Write(buf, binary.BigEndian, r.Hi); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// DecodeSyncBody deserializa a lista de faixas de um pedido de sincronização
func DecodeSyncBody(data []byte) ([]SeqRange, error) {
	if len(data) < 1 {
		return nil, ErrBufferTooSmall
	}

	count := int(data[0])
	if count > MaxSyncRanges {
		return nil, ErrTooManyRanges
	}
	if len(data) != 1+8*count {
		return nil, ErrInvalidFrame
	}

	ranges := make([]SeqRange, 0, count)
	for i := 0; i < count; i++ {
		off := 1 + 8*i
		r := SeqRange{
			Lo: binary.BigEndian.Uint32(data[off : off+4]),
			Hi: binary.BigEndian.Uint32(data[off+4 : off+8]),
		}
		if r.Hi < r.Lo {
			return nil, ErrInvalidRange
		}
		ranges = append(ranges, r)
	}

	return ranges, nil
}
