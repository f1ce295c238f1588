package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/park285/carp-board/internal/apiclient"
	"github.com/park285/carp-board/internal/boardclient"
	"github.com/park285/carp-board/pkg/boarddto"
)

func main() {
	baseURL := os.Getenv("BOARD_HTTP_URL")
	wsURL := os.Getenv("BOARD_WS_URL")
	sessionID := os.Getenv("BOARD_SESSION")

	if baseURL == "" {
		log.Fatal("BOARD_HTTP_URL is required")
	}

	client := apiclient.New(baseURL, apiclient.WithTimeout(8*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h, err := client.Health(ctx)
	if err != nil {
		log.Printf("/healthz error: %v", err)
	} else {
		log.Printf("/healthz ok: status=%s sessions=%d", h.Status, h.Sessions)
	}

	if raw := os.Getenv("BOARD_GAME_ID"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			log.Fatalf("BOARD_GAME_ID: %v", err)
		}
		pgn, err := client.GamePGN(ctx, id)
		switch {
		case errors.Is(err, apiclient.ErrNotFound):
			log.Printf("game %d not found", id)
		case err != nil:
			log.Printf("/games/%d error: %v", id, err)
		default:
			fmt.Println(pgn)
		}
	}

	if wsURL == "" {
		log.Println("BOARD_WS_URL not set; skipping board check")
		return
	}

	ws := boardclient.New(wsURL, 3, time.Second)
	if sessionID != "" {
		ws.SetSession(sessionID)
	}
	ws.OnStateChange(func(state boardclient.State) {
		log.Printf("WS state: %s", state)
	})
	ready := make(chan struct{}, 1)
	replied := make(chan string, 1)
	ws.OnMessage(func(msg *boarddto.ServerMessage) {
		switch msg.Type {
		case boarddto.TypeHello:
			log.Printf("board session=%s", msg.Session)
		case boarddto.TypeInput:
			if msg.Enabled != nil && *msg.Enabled {
				select {
				case ready <- struct{}{}:
				default:
				}
			}
		case boarddto.TypeEvaluation:
			if ev := msg.Evaluation; ev != nil {
				log.Printf("evaluation %s %d (w=%d d=%d l=%d)", ev.ScoreType, ev.Score.Val, ev.Score.W, ev.Score.D, ev.Score.L)
			}
		case boarddto.TypePosition:
			if msg.Animate {
				select {
				case replied <- msg.FEN:
				default:
				}
			}
		case boarddto.TypeShowOverlay:
			log.Printf("overlay %s: %q", msg.Overlay, msg.Text)
		}
	})

	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ccancel()
	if err := ws.Connect(cctx); err != nil {
		log.Printf("WS connect error: %v", err)
		return
	}
	defer func() { _ = ws.Close(context.Background()) }()

	wait := time.NewTimer(30 * time.Second)
	defer wait.Stop()
	select {
	case <-ready:
	case <-wait.C:
		log.Println("board never enabled input")
		return
	}
	if sessionID != "" {
		log.Println("resumed board is ready")
		return
	}

	// Play e2e4 on a fresh board and wait for the engine's answer.
	for _, sq := range []string{"e2", "e4"} {
		if err := ws.Send(cctx, boarddto.ClientMessage{Type: boarddto.TypeClick, Square: sq}); err != nil {
			log.Printf("send click %s: %v", sq, err)
			return
		}
	}
	select {
	case fen := <-replied:
		log.Printf("engine replied: %s", fen)
	case <-wait.C:
		log.Println("engine did not reply in time")
	}
}
