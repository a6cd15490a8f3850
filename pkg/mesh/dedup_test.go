package mesh

import (
	"fmt"
	"testing"
	"time"
)

func TestDedupCache(t *testing.T) {
	t.Run("Primeira vez retorna true, repetições retornam false", func(t *testing.T) {
		cache := NewDedupCache(100, time.Minute)

		if !cache.SeenAndRemember("msg-1") {
			t.Error("Primeira ocorrência deveria retornar true")
		}
		if cache.SeenAndRemember("msg-1") {
			t.Error("Segunda ocorrência deveria retornar false")
		}
		if cache.SeenAndRemember("msg-1") {
			t.Error("Terceira ocorrência deveria retornar false")
		}
	})

	t.Run("Identificadores distintos não interferem", func(t *testing.T) {
		cache := NewDedupCache(100, time.Minute)

		cache.SeenAndRemember("msg-1")
		if !cache.SeenAndRemember("msg-2") {
			t.Error("Identificador diferente deveria retornar true")
		}
	})

	t.Run("Contains não registra", func(t *testing.T) {
		cache := NewDedupCache(100, time.Minute)

		if cache.Contains("msg-1") {
			t.Error("Identificador nunca visto não deveria estar no cache")
		}
		if !cache.SeenAndRemember("msg-1") {
			t.Error("Contains não deveria ter registrado o identificador")
		}
		if !cache.Contains("msg-1") {
			t.Error("Identificador registrado deveria estar no cache")
		}
	})

	t.Run("Capacidade limita o cache despejando os mais antigos", func(t *testing.T) {
		cache := NewDedupCache(10, time.Hour)

		for i := 0; i < 20; i++ {
			cache.SeenAndRemember(fmt.Sprintf("msg-%d", i))
		}

		if cache.Len() > 10 {
			t.Errorf("Cache deveria respeitar a capacidade 10, tem: %d", cache.Len())
		}

		// O mais antigo foi despejado e voltaria a ser processado
		if !cache.SeenAndRemember("msg-0") {
			t.Error("Identificador despejado deveria retornar true de novo")
		}
	})

	t.Run("Chamadas concorrentes aceitam o identificador uma única vez", func(t *testing.T) {
		cache := NewDedupCache(100, time.Minute)

		const workers = 16
		results := make(chan bool, workers)
		for i := 0; i < workers; i++ {
			go func() {
				results <- cache.SeenAndRemember("concorrente")
			}()
		}

		accepted := 0
		for i := 0; i < workers; i++ {
			if <-results {
				accepted++
			}
		}

		if accepted != 1 {
			t.Errorf("Exatamente 1 chamada deveria retornar true, obtidas: %d", accepted)
		}
	})
}
