// Package codec implementa as transformações opcionais de payload
// aplicadas pelo motor de entrega: compressão e cifragem.
//
// Todo codec é invertível; a ausência de codec é equivalente à
// transformação identidade, de modo que o comportamento padrão do
// motor nunca depende de um codec estar presente.
package codec

import "errors"

// ErrDecodeFailed indica que um payload recebido não pôde ser revertido
// pelo codec. O quadro correspondente é logado e descartado, nunca
// entregue corrompido.
var ErrDecodeFailed = errors.New("falha ao decodificar payload")

// Codec transforma payloads no caminho de saída e reverte a
// transformação no caminho de entrada.
type Codec interface {
	// Encode aplica a transformação e retorna as flags de quadro
	// que descrevem o que foi aplicado
	Encode(payload []byte) ([]byte, uint8, error)

	// Decode reverte a transformação indicada pelas flags
	Decode(payload []byte, flags uint8) ([]byte, error)
}

// Identity é o codec padrão: não transforma nada
type Identity struct{}

// Encode retorna o payload inalterado
func (Identity) Encode(payload []byte) ([]byte, uint8, error) {
	return payload, 0, nil
}

// Decode retorna o payload inalterado
func (Identity) Decode(payload []byte, flags uint8) ([]byte, error) {
	return payload, nil
}

// Chain compõe codecs: Encode aplica na ordem dada, Decode reverte
// na ordem inversa.
type Chain []Codec

// Encode aplica cada codec em sequência, acumulando as flags
func (c Chain) Encode(payload []byte) ([]byte, uint8, error) {
	var flags uint8
	out := payload

	for _, codec := range c {
		var err error
		var f uint8
		out, f, err = codec.Encode(out)
		if err != nil {
			return nil, 0, err
		}
		flags |= f
	}

	return out, flags, nil
}

// Decode reverte cada codec na ordem inversa
func (c Chain) Decode(payload []byte, flags uint8) ([]byte, error) {
	out := payload

	for i := len(c) - 1; i >= 0; i-- {
		var err error
		out, err = c[i].Decode(out, flags)
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}
