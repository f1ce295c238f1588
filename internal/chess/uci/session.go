package uci

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/carp-board/internal/engine"
)

const (
	terminateGrace = 2 * time.Second
	defaultHashMB  = 256
)

var errTerminated = errors.New("uci session terminated")

type Options struct {
	Threads int
	HashMB  int
	// ShowWDL asks the engine for "wdl" in info lines.
	ShowWDL bool
}

type requestKind int

const (
	kindSearch requestKind = iota
	kindPerft
)

type inflight struct {
	seq     uint64
	kind    requestKind
	started time.Time
}

// Session is a UCI engine subprocess driven as an engine.Unit. It reads stdout
// continuously and runs at most one search or perft at a time; a request posted
// while another is running waits in a single slot and replaces any request
// already waiting there.
type Session struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	opt    Options
	emit   engine.Emitter
	logger *zap.Logger
	onExit func()

	mu          sync.Mutex
	booted      bool
	terminating bool
	current     *inflight
	queued      engine.Request
	// failure is reported as the crash reason once the killed process exits.
	failure string

	done     chan struct{}
	exitErr  error
	termOnce sync.Once
}

// Start launches the engine binary. The UCI handshake begins when an InitRequest is posted.
func Start(ctx context.Context, binaryPath string, opt Options, emit engine.Emitter, logger *zap.Logger) (*Session, error) {
	return start(ctx, binaryPath, opt, emit, logger, nil)
}

func start(ctx context.Context, binaryPath string, opt Options, emit engine.Emitter, logger *zap.Logger, onExit func()) (*Session, error) {
	if err := validateOptions(opt); err != nil {
		return nil, err
	}
	if emit == nil {
		return nil, fmt.Errorf("emitter required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cmd := exec.CommandContext(ctx, binaryPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutPipe.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}

	s := &Session{
		cmd:    cmd,
		stdin:  stdin,
		opt:    opt,
		emit:   emit,
		logger: logger.With(zap.Int("pid", cmd.Process.Pid)),
		onExit: onExit,
		done:   make(chan struct{}),
	}
	go s.readLoop(stdoutPipe)
	return s, nil
}

func validateOptions(opt Options) error {
	if opt.Threads < 0 {
		return fmt.Errorf("threads must be >= 0: %d", opt.Threads)
	}
	if opt.HashMB < 0 {
		return fmt.Errorf("hash size must be >= 0: %d", opt.HashMB)
	}
	return nil
}

func (s *Session) Post(r engine.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminating {
		return errTerminated
	}
	switch r := r.(type) {
	case engine.InitRequest:
		return s.send("uci\n")
	case engine.SearchRequest, engine.PerftRequest:
		if err := validateRequest(r); err != nil {
			return err
		}
		if s.current != nil {
			if s.queued != nil {
				s.logger.Debug("uci_request_superseded")
			}
			s.queued = r
			return nil
		}
		return s.begin(r)
	default:
		return fmt.Errorf("unsupported request %T", r)
	}
}

// validateRequest rejects requests begin could not send, before they are queued.
func validateRequest(r engine.Request) error {
	switch r := r.(type) {
	case engine.SearchRequest:
		if strings.ContainsAny(r.Position, "\r\n") {
			return fmt.Errorf("position must be a single line")
		}
		_, err := buildGoCommand(r.TimeControl)
		return err
	case engine.PerftRequest:
		if strings.ContainsAny(r.Position, "\r\n") {
			return fmt.Errorf("position must be a single line")
		}
		if r.Depth <= 0 {
			return fmt.Errorf("perft depth must be > 0: %d", r.Depth)
		}
	}
	return nil
}

// begin sends a search or perft. Caller holds s.mu.
func (s *Session) begin(r engine.Request) error {
	switch r := r.(type) {
	case engine.SearchRequest:
		if err := s.send(buildPositionCommand(r.Position)); err != nil {
			return fmt.Errorf("send position: %w", err)
		}
		goCmd, err := buildGoCommand(r.TimeControl)
		if err != nil {
			return err
		}
		if err := s.send(goCmd); err != nil {
			return fmt.Errorf("send go: %w", err)
		}
		s.current = &inflight{seq: r.Seq, kind: kindSearch, started: time.Now()}
	case engine.PerftRequest:
		if r.Depth <= 0 {
			return fmt.Errorf("perft depth must be > 0: %d", r.Depth)
		}
		if err := s.send(buildPositionCommand(r.Position)); err != nil {
			return fmt.Errorf("send position: %w", err)
		}
		if err := s.send(fmt.Sprintf("go perft %d\n", r.Depth)); err != nil {
			return fmt.Errorf("send go perft: %w", err)
		}
		s.current = &inflight{seq: r.Seq, kind: kindPerft, started: time.Now()}
	}
	return nil
}

// Terminate asks the engine to quit, kills it after a grace period and waits for exit.
func (s *Session) Terminate() error {
	s.termOnce.Do(func() {
		s.mu.Lock()
		s.terminating = true
		_ = s.send("quit\n")
		s.mu.Unlock()
		_ = s.stdin.Close()

		select {
		case <-s.done:
		case <-time.After(terminateGrace):
			if s.cmd.Process != nil {
				_ = s.cmd.Process.Kill()
			}
			<-s.done
		}
	})
	return nil
}

// Done is closed once the process has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		for _, r := range s.handleLine(line) {
			s.emit(r)
		}
	}

	err := s.cmd.Wait()
	s.mu.Lock()
	terminating := s.terminating
	failure := s.failure
	s.terminating = true
	s.exitErr = err
	s.mu.Unlock()
	close(s.done)
	if s.onExit != nil {
		s.onExit()
	}

	if terminating {
		s.logger.Info("uci_exit")
		return
	}
	reason := "engine exited"
	if failure != "" {
		reason = failure
	} else if err != nil {
		reason = fmt.Sprintf("engine exited: %v", err)
	} else if scanErr := scanner.Err(); scanErr != nil {
		reason = fmt.Sprintf("engine output: %v", scanErr)
	}
	s.logger.Error("uci_crash", zap.String("reason", reason))
	s.emit(engine.CrashReply{Reason: reason})
}

// handleLine updates session state for one line of engine output and returns
// the replies to emit once the lock is released.
func (s *Session) handleLine(line string) []engine.Reply {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case line == "uciok":
		for _, cmd := range optionCommands(s.opt) {
			if err := s.send(cmd); err != nil {
				s.logger.Warn("uci_apply_options_failed", zap.Error(err))
				return nil
			}
		}
		if err := s.send("isready\n"); err != nil {
			s.logger.Warn("uci_send_isready_failed", zap.Error(err))
		}
	case line == "readyok":
		if !s.booted {
			s.booted = true
			return []engine.Reply{engine.ReadyReply{}}
		}
	case strings.HasPrefix(line, "info "):
		if s.current == nil || s.current.kind != kindSearch {
			return nil
		}
		info, ok := parseInfo(line)
		if !ok {
			return nil
		}
		info.Seq = s.current.seq
		if info.Time == 0 {
			info.Time = time.Since(s.current.started)
		}
		return []engine.Reply{info}
	case strings.HasPrefix(line, "bestmove"):
		if s.current == nil || s.current.kind != kindSearch {
			return nil
		}
		pick := engine.PickReply{Seq: s.current.seq, Move: parseBestMove(line)}
		return append([]engine.Reply{pick}, s.finishCurrent()...)
	case strings.HasPrefix(line, "Nodes searched"):
		if s.current == nil || s.current.kind != kindPerft {
			return nil
		}
		nodes, ok := parsePerftNodes(line)
		if !ok {
			return nil
		}
		elapsed := time.Since(s.current.started)
		res := engine.PerftInfo{Seq: s.current.seq, Nodes: nodes, Time: elapsed, NPS: nodesPerSecond(nodes, elapsed)}
		return append([]engine.Reply{res}, s.finishCurrent()...)
	}
	return nil
}

// finishCurrent clears the running request and starts the queued one. Caller holds s.mu.
func (s *Session) finishCurrent() []engine.Reply {
	s.current = nil
	next := s.queued
	s.queued = nil
	if next == nil || s.terminating {
		return nil
	}
	if err := s.begin(next); err != nil {
		// The crash is reported by readLoop after done is closed, so a
		// Terminate issued from the emitter cannot wait on itself.
		s.logger.Warn("uci_begin_queued_failed", zap.Error(err))
		s.failure = err.Error()
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
	}
	return nil
}

func optionCommands(opt Options) []string {
	threads := opt.Threads
	if threads <= 0 {
		threads = 1
	}
	hash := opt.HashMB
	if hash <= 0 {
		hash = defaultHashMB
	}
	cmds := []string{
		fmt.Sprintf("setoption name Threads value %d\n", threads),
		fmt.Sprintf("setoption name Hash value %d\n", hash),
	}
	if opt.ShowWDL {
		cmds = append(cmds, "setoption name UCI_ShowWDL value true\n")
	}
	return cmds
}

// buildPositionCommand accepts a bare FEN, "fen <FEN>" or "startpos".
func buildPositionCommand(position string) string {
	p := strings.TrimSpace(position)
	p = strings.TrimSpace(strings.TrimPrefix(p, "fen "))
	if p == "" || p == "startpos" {
		return "position startpos\n"
	}
	return "position fen " + p + "\n"
}

// buildGoCommand passes the time control through unparsed, e.g. "depth 18" becomes "go depth 18".
func buildGoCommand(tc string) (string, error) {
	tc = strings.TrimSpace(tc)
	if tc == "" {
		return "", fmt.Errorf("no search limits specified")
	}
	if strings.ContainsAny(tc, "\r\n") {
		return "", fmt.Errorf("time control must be a single line")
	}
	tc = strings.TrimSpace(strings.TrimPrefix(tc, "go "))
	return "go " + tc + "\n", nil
}

// send writes one command. Caller holds s.mu.
func (s *Session) send(msg string) error {
	_, err := io.WriteString(s.stdin, msg)
	return err
}

func nodesPerSecond(nodes uint64, elapsed time.Duration) uint64 {
	if elapsed <= 0 {
		return 0
	}
	return uint64(float64(nodes) / elapsed.Seconds())
}
