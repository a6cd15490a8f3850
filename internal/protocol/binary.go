package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

// Erros relacionados ao protocolo binário
var (
	ErrInvalidFrame       = errors.New("quadro inválido ou corrompido")
	ErrBufferTooSmall     = errors.New("buffer muito pequeno para decodificar o quadro")
	ErrUnsupportedVersion = errors.New("versão de protocolo não suportada")
	ErrPayloadTooLarge    = errors.New("payload excede o tamanho máximo")
)

// Encode serializa um Frame no formato binário do protocolo.
// O layout do cabeçalho é fixo (HeaderSize bytes) seguido do payload.
func Encode(frame *Frame) ([]byte, error) {
	if !frame.Origin.Valid() || !frame.Destination.Valid() {
		return nil, ErrInvalidFrame
	}
	if len(frame.Payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+len(frame.Payload)))

	// Escrever cabeçalho fixo
	buf.WriteByte(frame.Version)
	buf.WriteByte(byte(frame.Type))
	buf.WriteByte(frame.Flags)
	buf.WriteByte(frame.TTL)
	buf.WriteString(string(frame.Origin))
	buf.WriteString(string(frame.Destination))

	if err := binary.Write(buf, binary.BigEndian, frame.Seq); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.BigEndian, frame.CreatedAt); err != nil {
		return nil, err
	}

	// Escrever tamanho e dados do payload
	if err := binary.Write(buf, binary.BigEndian, uint32(len(frame.Payload))); err != nil {
		return nil, err
	}
	if _, err := buf.Write(frame.Payload); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode deserializa um Frame a partir de dados binários
func Decode(data []byte) (*Frame, error) {
	if len(data) < HeaderSize {
		return nil, ErrBufferTooSmall
	}

	buf := bytes.NewBuffer(data)
	frame := &Frame{}

	// Ler versão
	version, err := buf.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != CurrentVersion {
		return nil, ErrUnsupportedVersion
	}
	frame.Version = version

	// Ler tipo
	frameType, err := buf.ReadByte()
	if err != nil {
		return nil, err
	}
	frame.Type = FrameType(frameType)

	// Ler flags e TTL
	if frame.Flags, err = buf.ReadByte(); err != nil {
		return nil, err
	}
	if frame.TTL, err = buf.ReadByte(); err != nil {
		return nil, err
	}

	// Ler origem e destino
	origin := make([]byte, NodeIDSize)
	if _, err := io.ReadFull(buf, origin); err != nil {
		return nil, err
	}
	frame.Origin = NodeID(origin)

	destination := make([]byte, NodeIDSize)
	if _, err := io.ReadFull(buf, destination); err != nil {
		return nil, err
	}
	frame.Destination = NodeID(destination)

	// Ler sequência e timestamp de criação
	if err := binary.Read(buf, binary.BigEndian, &frame.Seq); err != nil {
		return nil, err
	}
	if err := binary.Read(buf, binary.BigEndian, &frame.CreatedAt); err != nil {
		return nil, err
	}

	// Ler payload
	var payloadLen uint32
	if err := binary.Read(buf, binary.BigEndian, &payloadLen); err != nil {
		return nil, err
	}
	if payloadLen > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	if int(payloadLen) != buf.Len() {
		return nil, ErrInvalidFrame
	}
	if payloadLen > 0 {
		frame.Payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(buf, frame.Payload); err != nil {
			return nil, err
		}
	}

	return frame, nil
}

// SaneFrame faz a verificação rasa usada na borda do multiplex:
// o quadro precisa ter ao menos o cabeçalho e declarar um tamanho
// de payload consistente. Não interpreta a semântica do quadro.
func SaneFrame(raw []byte) bool {
	if len(raw) < HeaderSize {
		return false
	}
	if raw[0] != CurrentVersion {
		return false
	}
	declared := binary.BigEndian.Uint32(raw[HeaderSize-4 : HeaderSize])
	if declared > MaxPayloadSize {
		return false
	}
	return int(declared) == len(raw)-HeaderSize
}
