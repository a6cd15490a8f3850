package protocol

import (
	"encoding/json"
	"errors"
)

// ErrInvalidChatPayload indica um payload de chat que não pôde ser decodificado
var ErrInvalidChatPayload = errors.New("payload de chat inválido")

// ChatPayload é o conteúdo de aplicação transportado em quadros DATA.
// Campos espelham o histórico durável: canal, apelido e texto.
type ChatPayload struct {
	Channel string `json:"channel"`
	Nick    string `json:"nick"`
	Text    string `json:"text"`
}

// ChatPayloadToBytes serializa um payload de chat para bytes
func ChatPayloadToBytes(payload *ChatPayload) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}

// ChatPayloadFromBytes deserializa bytes para um payload de chat
func ChatPayloadFromBytes(data []byte) (*ChatPayload, error) {
	var payload ChatPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, ErrInvalidChatPayload
	}
	return &payload, nil
}
