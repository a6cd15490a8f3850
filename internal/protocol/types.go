package protocol

import (
	"fmt"
	"strings"
	"time"
)

// FrameType define os tipos de quadros do protocolo mesh
type FrameType uint8

const (
	FrameData        FrameType = 0x00 // Dados de aplicação (chat)
	FrameOGM         FrameType = 0x01 // Anúncio de originador (descoberta de rotas)
	FrameSyncRequest FrameType = 0x02 // Pedido de retransmissão de faixas perdidas
	FrameSyncReply   FrameType = 0x03 // Replay de um quadro armazenado
)

// String retorna o nome legível do tipo de quadro
func (ft FrameType) String() string {
	switch ft {
	case FrameData:
		return "DATA"
	case FrameOGM:
		return "OGM"
	case FrameSyncRequest:
		return "SYNC_REQUEST"
	case FrameSyncReply:
		return "SYNC_REPLY"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(ft))
	}
}

// Flags de payload
const (
	FlagCompressed uint8 = 0x01 // Payload comprimido pelo codec
	FlagEncrypted  uint8 = 0x02 // Payload cifrado pelo codec
)

// NodeIDSize é o tamanho fixo de um identificador de nó em bytes
const NodeIDSize = 8

// NodeID identifica um nó na rede mesh.
// Derivado do callsign, sempre com exatamente 8 bytes (preenchido com NUL).
type NodeID string

// Broadcast é o destinatário especial que significa "todos os nós"
var Broadcast = NodeID("\xff\xff\xff\xff\xff\xff\xff\xff")

// DeriveNodeID deriva um NodeID a partir de um callsign ASCII.
// O callsign é truncado ou preenchido com NUL até 8 bytes.
func DeriveNodeID(callsign string) NodeID {
	b := make([]byte, NodeIDSize)
	copy(b, strings.ToUpper(callsign))
	return NodeID(b)
}

// Valid verifica se o NodeID tem o tamanho correto
func (id NodeID) Valid() bool {
	return len(id) == NodeIDSize
}

// Short retorna uma forma legível do NodeID para logs e exibição
func (id NodeID) Short() string {
	if id == Broadcast {
		return "*"
	}
	return strings.TrimRight(string(id), "\x00")
}

// Frame é a unidade que se move pela rede mesh.
// Imutável em trânsito, exceto pelo TTL que é decrementado a cada salto.
type Frame struct {
	Version     uint8
	Type        FrameType
	Flags       uint8
	TTL         uint8
	Origin      NodeID
	Destination NodeID
	Seq         uint32 // Número de sequência por origem, monotônico
	CreatedAt   uint64 // Timestamp de criação na origem (ms), apenas para exibição
	Payload     []byte
}

// MessageID retorna o identificador globalmente único do quadro,
// composto pela origem e pelo número de sequência.
// Usado pelo cache de deduplicação e pelo armazenamento durável.
func (f *Frame) MessageID() string {
	return fmt.Sprintf("%x:%d", string(f.Origin), f.Seq)
}

// DedupKey retorna a chave usada pelo cache de deduplicação.
// Inclui o tipo do quadro porque quadros de controle usam um espaço
// de sequência separado dos quadros de dados.
func (f *Frame) DedupKey() string {
	return fmt.Sprintf("%x:%d:%d", string(f.Origin), uint8(f.Type), f.Seq)
}

// IsBroadcast verifica se o quadro é destinado a todos os nós
func (f *Frame) IsBroadcast() bool {
	return f.Destination == Broadcast
}

// NewDataFrame cria um quadro de dados com valores padrão
func NewDataFrame(origin, destination NodeID, seq uint32, ttl uint8, payload []byte) *Frame {
	return &Frame{
		Version:     CurrentVersion,
		Type:        FrameData,
		TTL:         ttl,
		Origin:      origin,
		Destination: destination,
		Seq:         seq,
		CreatedAt:   uint64(time.Now().UnixMilli()),
		Payload:     payload,
	}
}

// NewOGMFrame cria um quadro de anúncio de originador
func NewOGMFrame(origin NodeID, seq uint32, ttl uint8, body []byte) *Frame {
	return &Frame{
		Version:     CurrentVersion,
		Type:        FrameOGM,
		TTL:         ttl,
		Origin:      origin,
		Destination: Broadcast,
		Seq:         seq,
		CreatedAt:   uint64(time.Now().UnixMilli()),
		Payload:     body,
	}
}

// NewSyncRequest cria um pedido de sincronização endereçado à origem
// cujas faixas estão faltando. O pedido é roteado normalmente.
func NewSyncRequest(requester, target NodeID, seq uint32, ttl uint8, body []byte) *Frame {
	return &Frame{
		Version:     CurrentVersion,
		Type:        FrameSyncRequest,
		TTL:         ttl,
		Origin:      requester,
		Destination: target,
		Seq:         seq,
		CreatedAt:   uint64(time.Now().UnixMilli()),
		Payload:     body,
	}
}

// NewSyncReply cria um quadro de replay carregando um quadro armazenado
// já codificado como payload.
func NewSyncReply(replier, requester NodeID, seq uint32, ttl uint8, inner []byte) *Frame {
	return &Frame{
		Version:     CurrentVersion,
		Type:        FrameSyncReply,
		TTL:         ttl,
		Origin:      replier,
		Destination: requester,
		Seq:         seq,
		CreatedAt:   uint64(time.Now().UnixMilli()),
		Payload:     inner,
	}
}
