package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"consult-room/internal/config"
	"consult-room/internal/domain"
	"consult-room/internal/room"
	"consult-room/internal/wsclient"
)

func main() {
	ctx := context.Background()
	reader := bufio.NewReader(os.Stdin)

	_ = godotenv.Load()

	cfg, err := config.LoadClientConfig()
	if err != nil {
		log.Fatal(err)
	}

	// zap de desarrollo escribe a stderr; stdout queda para el chat.
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	client := wsclient.New(wsclient.Config{
		ServerURL:           cfg.ServerURL,
		SessionID:           cfg.SessionID,
		UserID:              cfg.UserID,
		HandshakeTimeout:    cfg.HandshakeTimeout,
		ReconnectInterval:   cfg.ReconnectInterval,
		MaxReconnectElapsed: cfg.MaxReconnectElapsed,
	}, logger)
	defer client.Close()

	session, err := client.FetchSession(ctx)
	if err != nil {
		log.Fatalf("cargar sesion: %v", err)
	}
	local, ok := session.Participants.RoleOf(cfg.UserID)
	if !ok {
		log.Fatalf("el usuario %s no participa en la sesion %s", cfg.UserID, session.ID)
	}

	chat, err := room.New(session, local, client,
		room.WithLogger(logger),
		room.WithDeliveryTimeout(cfg.DeliveryTimeout),
		room.WithObserver(printEvent(local)),
	)
	if err != nil {
		log.Fatalf("abrir sala: %v", err)
	}
	client.OnSessionEnded(chat.Close)
	client.OnTyping(func(role domain.Role) {
		fmt.Printf("(%s esta escribiendo...)\n", role)
	})

	client.OnDisconnected(func(err error) {
		fmt.Printf("! se perdio la conexion con el servidor (%v); escribe /reconectar para volver a intentar\n", err)
	})

	ack, err := client.Connect(ctx)
	if err != nil {
		log.Fatalf("conectar: %v", err)
	}
	if ack.Status == domain.SessionEnded {
		chat.Close()
	}

	fmt.Printf("---- Consulta %s como %s (/history para ver el historial, /quit para salir) ----\n", session.ID, local)
	for {
		text, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		line := strings.TrimRight(text, "\r\n")

		switch strings.TrimSpace(line) {
		case "/quit":
			chat.Wait()
			return
		case "/history":
			printHistory(chat.Messages(), local)
			continue
		case "/reconectar":
			if _, err := client.Connect(ctx); err != nil {
				fmt.Printf("! no se pudo reconectar: %v\n", err)
			} else {
				fmt.Println("---- Conectado de nuevo ----")
			}
			continue
		}

		chat.SetDraft(line)
		if _, err := chat.Submit(ctx); err != nil {
			switch {
			case errors.Is(err, room.ErrEmptySubmission):
			case errors.Is(err, room.ErrInvalidTransition):
				fmt.Println("La sesion termino; ya no se pueden enviar mensajes.")
			default:
				fmt.Printf("error enviando mensaje: %v\n", err)
			}
		}
	}
	chat.Wait()
}

func printEvent(local domain.Role) func(room.Event) {
	return func(ev room.Event) {
		switch ev.Kind {
		case room.EventAppended:
			if ev.Message.Sender != local {
				fmt.Printf("%s > %s\n", ev.Message.Sender, ev.Message.Body)
			}
		case room.EventDelivery:
			if ev.Message.DeliveryState == domain.DeliveryFailed {
				fmt.Printf("! no se pudo entregar %q: %s\n", ev.Message.Body, ev.Message.DeliveryError)
			}
		case room.EventStatus:
			if ev.Status == domain.SessionEnded {
				fmt.Println("---- La sesion termino ----")
			}
		}
	}
}

func printHistory(messages []domain.Message, local domain.Role) {
	if len(messages) == 0 {
		fmt.Println("(sin mensajes)")
		return
	}
	for _, m := range messages {
		who := string(m.Sender)
		if m.Sender == local {
			who = "yo"
		}
		mark := ""
		switch m.DeliveryState {
		case domain.DeliveryPending:
			mark = " [enviando]"
		case domain.DeliveryFailed:
			mark = " [no entregado]"
		}
		fmt.Printf("#%d %s %s > %s%s\n", m.Seq, m.SentAt.Local().Format("15:04"), who, m.Body, mark)
	}
}
