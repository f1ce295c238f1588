// Package wsboard drives a browser chessboard over a WebSocket. A Client is the
// board, the evaluation display and the notifier of one session.
package wsboard

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/carp-board/internal/chess"
	"github.com/park285/carp-board/internal/coordinator"
	"github.com/park285/carp-board/internal/evalbar"
	"github.com/park285/carp-board/internal/score"
	"github.com/park285/carp-board/pkg/boarddto"
)

const (
	sendBuffer   = 256
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
	pingTimeout  = 3 * time.Second
)

// Client queues outgoing messages so the session loop never waits on the network.
// A client that falls sendBuffer messages behind is disconnected.
type Client struct {
	conn      *websocket.Conn
	logger    *zap.Logger
	canPrompt bool

	out    chan boarddto.ServerMessage
	ctx    context.Context
	cancel context.CancelFunc

	wg sync.WaitGroup
}

func newClient(ctx context.Context, conn *websocket.Conn, canPrompt bool, logger *zap.Logger) *Client {
	c := &Client{
		conn:      conn,
		logger:    logger,
		canPrompt: canPrompt,
		out:       make(chan boarddto.ServerMessage, sendBuffer),
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(2)
	go c.writeLoop()
	go c.pingLoop()
	return c
}

// Done is closed once the connection is being torn down.
func (c *Client) Done() <-chan struct{} { return c.ctx.Done() }

func (c *Client) close() {
	c.cancel()
	c.wg.Wait()
}

func (c *Client) send(msg boarddto.ServerMessage) {
	select {
	case <-c.ctx.Done():
		return
	default:
	}
	select {
	case c.out <- msg:
	default:
		c.logger.Warn("board_send_overflow", zap.String("type", msg.Type))
		c.cancel()
	}
}

func (c *Client) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.out:
			ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := wsjson.Write(ctx, c.conn, msg)
			cancel()
			if err != nil {
				if c.ctx.Err() == nil {
					c.logger.Info("board_write_failed", zap.String("type", msg.Type), zap.Error(err))
				}
				c.cancel()
				return
			}
		}
	}
}

func (c *Client) pingLoop() {
	defer c.wg.Done()
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	misses := 0
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(c.ctx, pingTimeout)
			err := c.conn.Ping(ctx)
			cancel()
			if err == nil {
				misses = 0
				continue
			}
			misses++
			if misses >= 2 {
				c.logger.Info("board_ping_failed", zap.Error(err))
				c.cancel()
				return
			}
		}
	}
}

func (c *Client) hello(id string) {
	c.send(boarddto.ServerMessage{Type: boarddto.TypeHello, Session: id})
}

// coordinator.Board

func (c *Client) SetPosition(fen chess.Position, animate bool) {
	c.send(boarddto.ServerMessage{Type: boarddto.TypePosition, FEN: string(fen), Animate: animate})
}

func (c *Client) SetOrientation(side chess.Side) {
	c.send(boarddto.ServerMessage{Type: boarddto.TypeOrientation, Side: side.String()})
}

func (c *Client) AddMarker(kind coordinator.MarkerKind, sq chess.Square) {
	c.send(boarddto.ServerMessage{Type: boarddto.TypeAddMarker, Marker: kind.String(), Square: string(sq)})
}

func (c *Client) RemoveMarkers(kind coordinator.MarkerKind) {
	c.send(boarddto.ServerMessage{Type: boarddto.TypeRemoveMarkers, Marker: kind.String()})
}

func (c *Client) RemoveMarkersAt(sq chess.Square) {
	c.send(boarddto.ServerMessage{Type: boarddto.TypeRemoveMarkersAt, Square: string(sq)})
}

func (c *Client) EnableMoveInput()  { c.setInput(true) }
func (c *Client) DisableMoveInput() { c.setInput(false) }

func (c *Client) setInput(on bool) {
	c.send(boarddto.ServerMessage{Type: boarddto.TypeInput, Enabled: &on})
}

func (c *Client) ShowPromotionDialog(sq chess.Square, side chess.Side) {
	c.send(boarddto.ServerMessage{Type: boarddto.TypePromotion, Square: string(sq), Side: side.String()})
}

func (c *Client) CanPromptPromotion() bool { return c.canPrompt }

// coordinator.Display

func (c *Client) ShowEvaluation(t score.Type, s score.Score) {
	c.send(boarddto.ServerMessage{Type: boarddto.TypeEvaluation, Evaluation: &boarddto.Evaluation{
		ScoreType:    t.String(),
		Score:        boarddto.Score{Val: s.Val, W: s.W, D: s.D, L: s.L},
		Continuous:   toBar(evalbar.Continuous(t, s)),
		Distribution: toBar(evalbar.Distribution(s)),
	}})
}

func (c *Client) ResetEvaluation() {
	c.send(boarddto.ServerMessage{Type: boarddto.TypeResetEvaluation, Evaluation: &boarddto.Evaluation{
		ScoreType:    score.Cp.String(),
		Continuous:   toBar(evalbar.Reset(evalbar.ModeContinuous)),
		Distribution: toBar(evalbar.Reset(evalbar.ModeDistribution)),
	}})
}

func (c *Client) ShowOverlay(kind coordinator.OverlayKind, text string) {
	c.send(boarddto.ServerMessage{Type: boarddto.TypeShowOverlay, Overlay: kind.String(), Text: text})
}

func (c *Client) HideOverlay(kind coordinator.OverlayKind) {
	c.send(boarddto.ServerMessage{Type: boarddto.TypeHideOverlay, Overlay: kind.String()})
}

// session.Notifier

func (c *Client) HoverTargets(sq chess.Square, targets []chess.Square) {
	squares := make([]string, 0, len(targets))
	for _, t := range targets {
		squares = append(squares, string(t))
	}
	c.send(boarddto.ServerMessage{Type: boarddto.TypeHover, Square: string(sq), Squares: squares})
}

func (c *Client) FENRejected(current chess.Position) {
	c.send(boarddto.ServerMessage{Type: boarddto.TypeFENRejected, FEN: string(current)})
}

func (c *Client) SearchChanged(limits chess.SearchLimits) {
	c.send(boarddto.ServerMessage{Type: boarddto.TypeSearch, Search: &boarddto.Search{Mode: string(limits.Mode), Value: limits.Value}})
}

func toBar(l evalbar.Layout) boarddto.Bar {
	label := func(x evalbar.Label) string {
		if !x.Visible {
			return ""
		}
		return x.Text
	}
	return boarddto.Bar{
		Favored:      l.Favored,
		Grey:         l.Grey,
		Other:        l.Other,
		FavoredLabel: label(l.FavoredLabel),
		GreyLabel:    label(l.GreyLabel),
		OtherLabel:   label(l.OtherLabel),
	}
}
