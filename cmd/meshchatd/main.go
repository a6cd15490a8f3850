package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/radiomesh/meshchat/internal/codec"
	"github.com/radiomesh/meshchat/internal/config"
	"github.com/radiomesh/meshchat/internal/engine"
	"github.com/radiomesh/meshchat/internal/event"
	"github.com/radiomesh/meshchat/internal/link"
	"github.com/radiomesh/meshchat/internal/multiplex"
	"github.com/radiomesh/meshchat/internal/protocol"
	"github.com/radiomesh/meshchat/internal/store"
)

const AppVersion = "0.1.0"

func main() {
	configPath := flag.String("config", "", "Caminho do arquivo de configuração YAML")
	callsign := flag.String("callsign", "", "Callsign deste nó (sobrepõe a configuração)")
	nick := flag.String("nick", "", "Apelido exibido nas mensagens")
	debug := flag.Bool("debug", false, "Ativar modo de depuração")
	flag.Parse()

	cfg, err := loadConfig(*configPath, *callsign, *nick)
	if err != nil {
		fmt.Println("Erro na configuração:", err)
		os.Exit(1)
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *debug {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.WarnLevel)
	}

	st, err := openStore(cfg)
	if err != nil {
		fmt.Println("Erro ao abrir o armazenamento:", err)
		os.Exit(1)
	}

	cdc, err := buildCodec(cfg)
	if err != nil {
		fmt.Println("Erro ao montar os codecs:", err)
		os.Exit(1)
	}

	bus := event.NewBus(log)
	bus.Subscribe(event.LogListener(log))

	mux := multiplex.New(bus, log)
	for _, lc := range cfg.Links {
		if lc.Type != "tcp" {
			fmt.Printf("Tipo de link não suportado: %q\n", lc.Type)
			os.Exit(1)
		}
		if err := mux.Attach(link.NewTCP(lc, log)); err != nil {
			fmt.Println("Erro ao incorporar link:", err)
			os.Exit(1)
		}
	}

	eng, err := engine.New(cfg, mux, st, cdc, clockwork.NewRealClock(), bus, log)
	if err != nil {
		fmt.Println("Erro ao montar o motor:", err)
		os.Exit(1)
	}

	// Saída de console das mensagens e dos peers
	bus.Subscribe(consoleListener(eng))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.Start(ctx)

	fmt.Println("meshchatd", AppVersion)
	fmt.Println("Nó:", eng.Self().Short())
	fmt.Println("Canal:", cfg.Chat.Channel)
	fmt.Println("Links:", strings.Join(mux.ActiveLinks(), ", "))
	fmt.Println("Digite /help para ajuda")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go inputLoop(eng, cfg)

	<-sigChan
	fmt.Println("\nEncerrando...")
	eng.Stop()
	fmt.Println("meshchatd encerrado")
}

// loadConfig carrega a configuração do arquivo, ou monta uma a partir
// das flags quando nenhum arquivo foi dado
func loadConfig(path, callsign, nick string) (*config.Config, error) {
	var cfg *config.Config

	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if callsign != "" {
		cfg.Callsign = callsign
	}
	if nick != "" {
		cfg.Chat.Nick = nick
	}

	if path == "" {
		// Sem arquivo as flags precisam bastar
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// openStore abre o histórico durável, ou um armazenamento em memória
// quando nenhum caminho foi configurado
func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.Chat.DBPath == "" {
		return store.NewMemory(), nil
	}
	return store.OpenLevelDB(cfg.Chat.DBPath)
}

// buildCodec monta a cadeia de codecs conforme a configuração
func buildCodec(cfg *config.Config) (codec.Codec, error) {
	var chain codec.Chain

	if cfg.Security.EnableCompression {
		chain = append(chain, codec.NewLZ4(cfg.Security.CompressionLevel))
	}
	if cfg.Security.EnableEncryption {
		key, err := cfg.Security.Key()
		if err != nil {
			return nil, err
		}
		cc, err := codec.NewChaCha(key)
		if err != nil {
			return nil, err
		}
		chain = append(chain, cc)
	}

	if len(chain) == 0 {
		return codec.Identity{}, nil
	}
	return chain, nil
}

// consoleListener imprime eventos relevantes para o operador
func consoleListener(eng *engine.Engine) event.Listener {
	return func(ev event.Event) {
		switch e := ev.(type) {
		case event.MessageDelivered:
			if e.Origin == eng.Self() {
				return
			}
			msg, err := protocol.ChatPayloadFromBytes(e.Payload)
			if err != nil {
				return
			}
			fmt.Printf("[%s] [%s] %s: %s\n",
				time.Now().Format("15:04:05"), msg.Channel, msg.Nick, msg.Text)

		case event.PeerJoined:
			fmt.Printf("Peer alcançável: %s (%d saltos via %s)\n",
				e.Node.Short(), e.HopCount, e.NextHop.Short())

		case event.PeerLost:
			fmt.Printf("Peer perdido: %s\n", e.Node.Short())
		}
	}
}

// inputLoop processa a entrada do operador
func inputLoop(eng *engine.Engine, cfg *config.Config) {
	scanner := bufio.NewScanner(os.Stdin)

	for scanner.Scan() {
		processInput(scanner.Text(), eng, cfg)
	}
}

// processInput trata comandos e mensagens do operador
func processInput(input string, eng *engine.Engine, cfg *config.Config) {
	input = strings.TrimSpace(input)
	if input == "" {
		return
	}

	if !strings.HasPrefix(input, "/") {
		// Mensagem normal: broadcast no canal configurado
		if err := eng.SendText(protocol.Broadcast, input); err != nil {
			fmt.Println("Erro ao enviar:", err)
		}
		return
	}

	parts := strings.SplitN(input, " ", 2)
	command := parts[0]
	args := ""
	if len(parts) > 1 {
		args = strings.TrimSpace(parts[1])
	}

	switch command {
	case "/peers", "/w":
		peers := eng.Peers()
		if len(peers) == 0 {
			fmt.Println("Nenhum peer alcançável")
			return
		}
		fmt.Println("Peers alcançáveis:")
		for _, peer := range peers {
			fmt.Printf("  %-8s %d saltos via %s (link %s)\n",
				peer.NodeID.Short(), peer.HopCount, peer.NextHop.Short(), peer.Link)
		}

	case "/send", "/m":
		fields := strings.SplitN(args, " ", 2)
		if len(fields) < 2 {
			fmt.Println("Uso: /send CALLSIGN mensagem")
			return
		}
		dest := protocol.DeriveNodeID(fields[0])
		if err := eng.SendText(dest, fields[1]); err != nil {
			fmt.Println("Erro ao enviar:", err)
			return
		}
		fmt.Printf("[para %s]: %s\n", dest.Short(), fields[1])

	case "/sync-reset":
		if args == "" {
			fmt.Println("Uso: /sync-reset CALLSIGN")
			return
		}
		eng.ResetSync(protocol.DeriveNodeID(args))
		fmt.Println("Cursor de sincronização zerado para", strings.ToUpper(args))

	case "/help":
		fmt.Println("Comandos:")
		fmt.Println("  /peers              Lista os peers alcançáveis")
		fmt.Println("  /send CALLSIGN msg  Envia mensagem direta")
		fmt.Println("  /sync-reset CALL    Zera o cursor de sincronização de uma origem")
		fmt.Println("  /quit               Encerra o daemon")
		fmt.Println("  (texto sem /)       Broadcast no canal", cfg.Chat.Channel)

	case "/quit", "/q":
		// O caminho de desligamento é o mesmo do sinal
		p, _ := os.FindProcess(os.Getpid())
		p.Signal(syscall.SIGTERM)

	default:
		fmt.Println("Comando desconhecido. Digite /help para ajuda.")
	}
}
