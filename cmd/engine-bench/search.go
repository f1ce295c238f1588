package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/park285/carp-board/internal/chess"
	"github.com/park285/carp-board/internal/engine"
	"github.com/park285/carp-board/internal/score"
)

var (
	searchMode  string
	searchValue int
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search a position and print the engine's pick",
	Args:  cobra.NoArgs,
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().StringVar(&searchMode, "mode", string(chess.ModeDepth), "search mode: depth or movetime")
	searchCmd.Flags().IntVar(&searchValue, "value", 0, "depth in plies or movetime in ms (0 selects the default)")
	rootCmd.AddCommand(searchCmd)
}

type searchOutput struct {
	FEN       string      `json:"fen"`
	Limits    string      `json:"limits"`
	Depth     int         `json:"depth"`
	ScoreType string      `json:"score_type"`
	Score     score.Score `json:"score"`
	Nodes     uint64      `json:"nodes"`
	NPS       uint64      `json:"nps"`
	PV        []string    `json:"pv"`
	Best      string      `json:"best"`
	BestSAN   string      `json:"best_san,omitempty"`
}

func runSearch(cmd *cobra.Command, args []string) error {
	limits, err := chess.NewSearchLimits(searchMode, searchValue)
	if err != nil {
		return err
	}
	pos, err := position()
	if err != nil {
		return err
	}
	rules := chess.NewRules()
	if rules.IsGameOver(pos) {
		return errors.New("position is already decided")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
	defer cancel()
	ch, done, err := openChannel(ctx)
	if err != nil {
		return err
	}
	defer done()

	ticket, ok := ch.RequestSearch(string(pos), limits.TimeControl())
	if !ok {
		return errors.New("engine not ready for search")
	}
	out := searchOutput{FEN: string(pos), Limits: limits.TimeControl()}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-ch.Events():
			switch ev := ev.(type) {
			case engine.SearchResult:
				if ev.Ticket != ticket {
					continue
				}
				out.Depth, out.Nodes, out.NPS, out.PV = ev.Depth, ev.Nodes, ev.NPS, ev.PV
				out.ScoreType, out.Score = ev.ScoreType.String(), ev.Score
				if !outputJSON {
					fmt.Printf("depth %2d  %-6s %6d  nps %-9d pv %s\n", ev.Depth, ev.ScoreType, ev.Score.Val, ev.NPS, strings.Join(ev.PV, " "))
				}
			case engine.EnginePick:
				if ev.Ticket != ticket {
					continue
				}
				out.Best = ev.Move
				if mv, err := chess.ParseMove(ev.Move); err == nil {
					out.BestSAN = rules.SAN(pos, mv)
				}
				if outputJSON {
					return json.NewEncoder(os.Stdout).Encode(out)
				}
				fmt.Printf("bestmove %s (%s)\n", out.Best, out.BestSAN)
				return nil
			case engine.Fatal:
				return fmt.Errorf("engine failed: %s", ev.Reason)
			}
		}
	}
}
