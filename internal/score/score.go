// Package score holds the engine evaluation value shared by the engine channel
// and the evaluation bar.
package score

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Type classifies an evaluation relative to the side to move.
type Type int

const (
	Cp Type = iota
	Mate
	Mated
)

func (t Type) String() string {
	switch t {
	case Mate:
		return "Mate"
	case Mated:
		return "Mated"
	default:
		return "Cp"
	}
}

// ParseType accepts "Cp", "Mate" or "Mated" in any case.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cp", "":
		return Cp, nil
	case "mate":
		return Mate, nil
	case "mated":
		return Mated, nil
	default:
		return Cp, fmt.Errorf("unknown score type %q", s)
	}
}

func (t Type) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Type) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseType(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Score is a centipawn value (or mate distance) plus a win/draw/loss split in permille.
type Score struct {
	Val int `json:"val"`
	W   int `json:"w"`
	D   int `json:"d"`
	L   int `json:"l"`
}
