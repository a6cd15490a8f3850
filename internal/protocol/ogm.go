package protocol

import "io"

// OGMBody é o corpo de um anúncio de originador.
// PrevHop identifica o nó que transmitiu o anúncio por último (o vizinho
// pelo qual a origem é alcançável). HopCount é o número de saltos que o
// anúncio já percorreu desde a origem (0 quando a própria origem envia).
type OGMBody struct {
	PrevHop    NodeID
	HopCount   uint8
	LinkMetric uint8
}

// ogmBodySize é o tamanho fixo do corpo de um OGM
const ogmBodySize = NodeIDSize + 2

// EncodeOGMBody serializa o corpo de um OGM
func EncodeOGMBody(body *OGMBody) ([]byte, error) {
	if !body.PrevHop.Valid() {
		return nil, ErrInvalidFrame
	}

	out := make([]byte, 0, ogmBodySize)
	out = append(out, []byte(body.PrevHop)...)
	out = append(out, body.HopCount, body.LinkMetric)
	return out, nil
}

// DecodeOGMBody deserializa o corpo de um OGM
func DecodeOGMBody(data []byte) (*OGMBody, error) {
	if len(data) < ogmBodySize {
		return nil, io.ErrUnexpectedEOF
	}

	return &OGMBody{
		PrevHop:    NodeID(data[:NodeIDSize]),
		HopCount:   data[NodeIDSize],
		LinkMetric: data[NodeIDSize+1],
	}, nil
}
