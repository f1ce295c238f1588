package wsboard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/carp-board/internal/chess"
	"github.com/park285/carp-board/internal/coordinator"
	"github.com/park285/carp-board/internal/session"
	"github.com/park285/carp-board/pkg/boarddto"
)

var errUnknownMessage = errors.New("unknown message type")

// Starter is the part of session.Manager the handler needs.
type Starter interface {
	Start(ctx context.Context, id string, board coordinator.Board, display coordinator.Display, notify session.Notifier) (*session.Session, error)
	Stop(sess *session.Session)
}

// Handler upgrades GET /ws?session=<uuid> and runs one board session per connection.
// ?promotion=0 tells the server the client has no promotion dialog.
type Handler struct {
	sessions       Starter
	logger         *zap.Logger
	originPatterns []string
}

func NewHandler(sessions Starter, originPatterns []string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{sessions: sessions, logger: logger, originPatterns: originPatterns}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  h.originPatterns,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		h.logger.Info("board_accept_failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	id := session.NormalizeID(r.URL.Query().Get("session"))
	canPrompt := r.URL.Query().Get("promotion") != "0"
	logger := h.logger.With(zap.String("session", id))

	client := newClient(r.Context(), conn, canPrompt, logger)
	defer client.close()
	client.hello(id)

	sess, err := h.sessions.Start(r.Context(), id, client, client, client)
	if err != nil {
		logger.Warn("board_session_start_failed", zap.Error(err))
		_ = conn.Close(websocket.StatusTryAgainLater, "session unavailable")
		return
	}
	defer h.sessions.Stop(sess)
	logger.Info("board_connected", zap.String("remote", r.RemoteAddr))

	// A reconnect with the same id ends this session; drop the stale socket.
	reading := make(chan struct{})
	defer close(reading)
	go func() {
		select {
		case <-sess.Done():
			logger.Info("board_taken_over")
			_ = conn.Close(websocket.StatusGoingAway, "session taken over")
		case <-reading:
		}
	}()

	for {
		var msg boarddto.ClientMessage
		if err := wsjson.Read(client.ctx, conn, &msg); err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				logger.Info("board_disconnected")
			default:
				if client.ctx.Err() == nil {
					logger.Info("board_read_failed", zap.Error(err))
				}
			}
			return
		}
		cmd, err := decodeCommand(msg)
		if err != nil {
			logger.Debug("board_message_invalid", zap.String("type", msg.Type), zap.Error(err))
			continue
		}
		if err := sess.Post(client.ctx, cmd); err != nil {
			logger.Info("board_post_failed", zap.Error(err))
			return
		}
	}
}

func decodeCommand(m boarddto.ClientMessage) (session.Command, error) {
	switch m.Type {
	case boarddto.TypeClick:
		sq, err := chess.ParseSquare(m.Square)
		if err != nil {
			return nil, err
		}
		return session.Input{Event: coordinator.SquareClicked{Square: sq}}, nil
	case boarddto.TypeDragStart:
		sq, err := chess.ParseSquare(m.Square)
		if err != nil {
			return nil, err
		}
		return session.Input{Event: coordinator.DragStarted{Square: sq}}, nil
	case boarddto.TypeDrop:
		from, err := chess.ParseSquare(m.From)
		if err != nil {
			return nil, err
		}
		to, err := chess.ParseSquare(m.To)
		if err != nil {
			return nil, err
		}
		return session.Input{Event: coordinator.Dropped{From: from, To: to}}, nil
	case boarddto.TypeDragCancel:
		return session.Input{Event: coordinator.DragCanceled{}}, nil
	case boarddto.TypePromote:
		if !m.OK || strings.TrimSpace(m.Piece) == "" {
			return session.Input{Event: coordinator.PromotionResolved{}}, nil
		}
		piece, err := chess.ParsePromotion(m.Piece)
		if err != nil {
			return nil, err
		}
		return session.Input{Event: coordinator.PromotionResolved{Piece: piece, OK: true}}, nil
	case boarddto.TypeNewGame:
		cmd := session.NewGame{FEN: m.FEN}
		if strings.TrimSpace(m.Human) != "" {
			side, err := chess.ParseSide(m.Human)
			if err != nil {
				return nil, err
			}
			cmd.Human = &side
		}
		return cmd, nil
	case boarddto.TypeRestart:
		return session.Restart{}, nil
	case boarddto.TypeRetry:
		return session.Retry{}, nil
	case boarddto.TypeSetSearch:
		return session.SetSearch{Mode: m.Mode, Value: m.Value}, nil
	case boarddto.TypeHoverAsk:
		sq, err := chess.ParseSquare(m.Square)
		if err != nil {
			return nil, err
		}
		return session.Hover{Square: sq}, nil
	}
	return nil, fmt.Errorf("%w %q", errUnknownMessage, m.Type)
}
