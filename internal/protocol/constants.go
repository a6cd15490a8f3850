package protocol

// Constantes de versão do protocolo
const (
	// CurrentVersion é a versão atual do protocolo mesh
	CurrentVersion uint8 = 1
)

// Limites do protocolo
const (
	// HeaderSize é o tamanho fixo do cabeçalho de um quadro em bytes:
	// versão(1) + tipo(1) + flags(1) + ttl(1) + origem(8) + destino(8) +
	// seq(4) + criado_em(8) + payload_len(4)
	HeaderSize = 36

	// MaxPayloadSize é o tamanho máximo aceito para o payload de um quadro.
	// Quadros maiores são rejeitados como malformados na borda do multiplex.
	MaxPayloadSize = 64 * 1024

	// MaxSyncRanges é o número máximo de faixas em um pedido de sincronização
	MaxSyncRanges = 32
)
