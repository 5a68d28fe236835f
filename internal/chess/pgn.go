package chess

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/notnil/chess"
)

// PGNGame is a parsed PGN record: a header block plus movetext.
type PGNGame struct {
	g *chess.Game
}

// ParsePGN parses a single PGN game from text.
func ParsePGN(text string) (*PGNGame, error) {
	fn, err := chess.PGN(strings.NewReader(strings.TrimSpace(text) + "\n"))
	if err != nil {
		return nil, fmt.Errorf("parse PGN: %w", err)
	}
	return &PGNGame{g: chess.NewGame(fn)}, nil
}

// Header looks up a header tag value.
func (p *PGNGame) Header(key string) (string, bool) {
	tp := p.g.GetTagPair(key)
	if tp == nil {
		return "", false
	}
	return tp.Value, true
}

// Result returns the Result header, or "*" when absent.
func (p *PGNGame) Result() string {
	if v, ok := p.Header("Result"); ok && v != "" {
		return v
	}
	return "*"
}

// PlyCount is the number of half-moves in the mainline.
func (p *PGNGame) PlyCount() int {
	return len(p.g.Moves())
}

// StartFEN is the position before any move (honors a SetUp/FEN header).
func (p *PGNGame) StartFEN() string {
	return p.g.Positions()[0].String()
}

// LeafFEN is the position after the last mainline move.
func (p *PGNGame) LeafFEN() string {
	positions := p.g.Positions()
	return positions[len(positions)-1].String()
}

// LeafBoard returns the position after the last mainline move.
func (p *PGNGame) LeafBoard() *Board {
	positions := p.g.Positions()
	return &Board{pos: positions[len(positions)-1]}
}

// MainlineStep is one half-move of a game's mainline.
type MainlineStep struct {
	Ply        int // 1 for White's first move
	UCI        string
	SAN        string
	FEN        string // position after the move
	WhiteMoved bool
	ClockSecs  *int // from a [%clk h:mm:ss] comment, if present
}

var clkRe = regexp.MustCompile(`\[%clk\s+(\d+):(\d{1,2}):(\d{1,2})(?:\.\d+)?\]`)

func parseClock(comments []string) *int {
	for _, c := range comments {
		m := clkRe.FindStringSubmatch(c)
		if m == nil {
			continue
		}
		h, _ := strconv.Atoi(m[1])
		min, _ := strconv.Atoi(m[2])
		sec, _ := strconv.Atoi(m[3])
		total := h*3600 + min*60 + sec
		return &total
	}
	return nil
}

// Mainline walks the game's main variation, producing one step per ply.
func (p *PGNGame) Mainline() []MainlineStep {
	moves := p.g.Moves()
	positions := p.g.Positions()
	comments := p.g.Comments()

	steps := make([]MainlineStep, 0, len(moves))
	for i, m := range moves {
		before := positions[i]
		step := MainlineStep{
			Ply:        i + 1,
			UCI:        chess.UCINotation{}.Encode(before, m),
			SAN:        chess.AlgebraicNotation{}.Encode(before, m),
			FEN:        positions[i+1].String(),
			WhiteMoved: before.Turn() == chess.White,
		}
		if i < len(comments) {
			step.ClockSecs = parseClock(comments[i])
		}
		steps = append(steps, step)
	}
	return steps
}
