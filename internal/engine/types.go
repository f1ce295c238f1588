// Package engine owns one background compute unit at a time and turns its
// replies into generation-stamped events.
package engine

import (
	"context"
	"time"

	"github.com/park285/carp-board/internal/score"
)

type WorkerState int

const (
	Uninitialized WorkerState = iota
	Initializing
	Initialized
)

func (s WorkerState) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Initialized:
		return "initialized"
	default:
		return "uninitialized"
	}
}

// Request is a message posted to a compute unit.
type Request interface{ isRequest() }

type InitRequest struct{}

type SearchRequest struct {
	Seq         uint64
	Position    string
	TimeControl string
}

type PerftRequest struct {
	Seq      uint64
	Position string
	Depth    int
}

func (InitRequest) isRequest()   {}
func (SearchRequest) isRequest() {}
func (PerftRequest) isRequest()  {}

// Reply is a message emitted by a compute unit. Seq echoes the request it answers.
type Reply interface{ isReply() }

type ReadyReply struct{}

type SearchInfo struct {
	Seq       uint64
	Depth     int
	Nodes     uint64
	NPS       uint64
	Time      time.Duration
	ScoreType score.Type
	Score     score.Score
	PV        []string
}

type PerftInfo struct {
	Seq   uint64
	Nodes uint64
	NPS   uint64
	Time  time.Duration
	Move  string
}

type PickReply struct {
	Seq  uint64
	Move string
}

type CrashReply struct {
	Reason string
}

func (ReadyReply) isReply() {}
func (SearchInfo) isReply() {}
func (PerftInfo) isReply()  {}
func (PickReply) isReply()  {}
func (CrashReply) isReply() {}

// Emitter delivers replies from a unit. Each unit gets an emitter bound to its generation.
type Emitter func(Reply)

// Unit is one live compute unit. Post must not block on the search itself.
type Unit interface {
	Post(Request) error
	Terminate() error
}

// Spawner starts a fresh unit that reports through emit.
type Spawner func(ctx context.Context, emit Emitter) (Unit, error)

// Ticket identifies one search or perft request within one unit generation.
type Ticket struct {
	Generation uint64
	Seq        uint64
}

// Event is what consumers of a Channel receive.
type Event interface{ generation() uint64 }

type Ready struct {
	Generation uint64
}

type SearchResult struct {
	Ticket
	Position  string
	Depth     int
	Nodes     uint64
	NPS       uint64
	Time      time.Duration
	ScoreType score.Type
	Score     score.Score
	PV        []string
}

type PerftResult struct {
	Ticket
	Position string
	Nodes    uint64
	NPS      uint64
	Time     time.Duration
	Move     string
}

type EnginePick struct {
	Ticket
	Position string
	Move     string
}

type Fatal struct {
	Generation uint64
	Reason     string
}

func (e Ready) generation() uint64        { return e.Generation }
func (e SearchResult) generation() uint64 { return e.Ticket.Generation }
func (e PerftResult) generation() uint64  { return e.Ticket.Generation }
func (e EnginePick) generation() uint64   { return e.Ticket.Generation }
func (e Fatal) generation() uint64        { return e.Generation }
