package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/park285/carp-board/internal/engine"
)

var perftDepth int

var perftCmd = &cobra.Command{
	Use:   "perft",
	Short: "Count leaf nodes to a fixed depth",
	Args:  cobra.NoArgs,
	RunE:  runPerft,
}

func init() {
	perftCmd.Flags().IntVar(&perftDepth, "depth", 4, "perft depth")
	rootCmd.AddCommand(perftCmd)
}

type perftOutput struct {
	FEN    string `json:"fen"`
	Depth  int    `json:"depth"`
	Nodes  uint64 `json:"nodes"`
	NPS    uint64 `json:"nps"`
	TimeMS int64  `json:"time_ms"`
}

func runPerft(cmd *cobra.Command, args []string) error {
	if perftDepth < 1 {
		return fmt.Errorf("--depth must be at least 1")
	}
	pos, err := position()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
	defer cancel()

	ch, done, err := openChannel(ctx)
	if err != nil {
		return err
	}
	defer done()

	ticket, ok := ch.RequestPerft(string(pos), perftDepth)
	if !ok {
		return errors.New("engine not ready for perft")
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-ch.Events():
			switch ev := ev.(type) {
			case engine.PerftResult:
				if ev.Ticket != ticket {
					continue
				}
				out := perftOutput{FEN: string(pos), Depth: perftDepth, Nodes: ev.Nodes, NPS: ev.NPS, TimeMS: ev.Time.Milliseconds()}
				if outputJSON {
					return json.NewEncoder(os.Stdout).Encode(out)
				}
				fmt.Printf("FEN:   %s\n", out.FEN)
				fmt.Printf("Depth: %d\n", out.Depth)
				fmt.Printf("Nodes: %d\n", out.Nodes)
				fmt.Printf("NPS:   %d\n", out.NPS)
				fmt.Printf("Time:  %s\n", ev.Time)
				return nil
			case engine.Fatal:
				return fmt.Errorf("engine failed: %s", ev.Reason)
			}
		}
	}
}
