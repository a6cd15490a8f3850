package codec

import (
	"bytes"
	"io"

	"github.com/pierrec/lz4/v4"

	"github.com/radiomesh/meshchat/internal/protocol"
)

// LZ4 comprime payloads com o algoritmo LZ4.
// A compressão só é mantida quando reduz o tamanho; caso contrário o
// payload segue sem a flag de compressão.
type LZ4 struct {
	level lz4.CompressionLevel
}

// NewLZ4 cria um codec LZ4 com o nível de compressão dado (0-9)
func NewLZ4(level int) *LZ4 {
	// Converter nível inteiro para CompressionLevel do lz4
	var compressionLevel lz4.CompressionLevel

	switch level {
	case 0:
		compressionLevel = lz4.Fast
	case 1:
		compressionLevel = lz4.Level1
	case 2:
		compressionLevel = lz4.Level2
	case 3:
		compressionLevel = lz4.Level3
	case 4:
		compressionLevel = lz4.Level4
	case 5:
		compressionLevel = lz4.Level5
	case 6:
		compressionLevel = lz4.Level6
	case 7:
		compressionLevel = lz4.Level7
	case 8:
		compressionLevel = lz4.Level8
	case 9:
		compressionLevel = lz4.Level9
	default:
		compressionLevel = lz4.Level1 // Nível padrão
	}

	return &LZ4{level: compressionLevel}
}

// Encode comprime o payload, mantendo o original se a compressão
// não reduzir o tamanho
func (c *LZ4) Encode(payload []byte) ([]byte, uint8, error) {
	if len(payload) == 0 {
		return payload, 0, nil
	}

	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if err := zw.Apply(lz4.CompressionLevelOption(c.level)); err != nil {
		return nil, 0, err
	}

	if _, err := zw.Write(payload); err != nil {
		return nil, 0, err
	}
	if err := zw.Close(); err != nil {
		return nil, 0, err
	}

	compressed := buf.Bytes()
	if len(compressed) >= len(payload) {
		// Compressão não foi eficiente, enviar o original
		return payload, 0, nil
	}

	return compressed, protocol.FlagCompressed, nil
}

// Decode descomprime o payload se a flag de compressão estiver presente
func (c *LZ4) Decode(payload []byte, flags uint8) ([]byte, error) {
	if flags&protocol.FlagCompressed == 0 {
		return payload, nil
	}

	zr := lz4.NewReader(bytes.NewReader(payload))

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, zr); err != nil {
		return nil, ErrDecodeFailed
	}

	return buf.Bytes(), nil
}
