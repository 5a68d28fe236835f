// Package chess wraps notnil/chess with the position and PGN operations the
// analysis pipeline needs: FEN round-trips, UCI move application, SAN
// rendering and mainline walks with embedded clock comments.
package chess

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/notnil/chess"
)

// ErrIllegalMove is returned when a UCI move string does not resolve to a
// legal move in the current position.
var ErrIllegalMove = errors.New("chess: illegal move")

type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Board is a single chess position.
type Board struct {
	pos *chess.Position
}

// StartingBoard returns the standard initial position.
func StartingBoard() *Board {
	return &Board{pos: chess.NewGame().Position()}
}

// ParseFEN builds a board from a FEN string.
func ParseFEN(fen string) (*Board, error) {
	fn, err := chess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("invalid FEN %q: %w", fen, err)
	}
	return &Board{pos: chess.NewGame(fn).Position()}, nil
}

// FEN renders the position as a FEN string.
func (b *Board) FEN() string {
	return b.pos.String()
}

// Turn reports the side to move.
func (b *Board) Turn() Color {
	if b.pos.Turn() == chess.White {
		return White
	}
	return Black
}

// FullmoveNumber returns the fullmove counter (the sixth FEN field).
func (b *Board) FullmoveNumber() int {
	fields := strings.Fields(b.pos.String())
	if len(fields) < 6 {
		return 1
	}
	n, err := strconv.Atoi(fields[5])
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// LegalMoves returns all legal moves in UCI notation.
func (b *Board) LegalMoves() []string {
	valid := b.pos.ValidMoves()
	moves := make([]string, 0, len(valid))
	for _, m := range valid {
		moves = append(moves, chess.UCINotation{}.Encode(b.pos, m))
	}
	return moves
}

// NumLegalMoves counts the legal moves of the position.
func (b *Board) NumLegalMoves() int {
	return len(b.pos.ValidMoves())
}

func (b *Board) findMove(uci string) *chess.Move {
	for _, m := range b.pos.ValidMoves() {
		if (chess.UCINotation{}).Encode(b.pos, m) == uci {
			return m
		}
	}
	return nil
}

// SAN renders a UCI move as short algebraic notation relative to the board.
func (b *Board) SAN(uci string) (string, error) {
	m := b.findMove(uci)
	if m == nil {
		return "", fmt.Errorf("%w: %q in %s", ErrIllegalMove, uci, b.FEN())
	}
	return chess.AlgebraicNotation{}.Encode(b.pos, m), nil
}

// ApplyUCI plays a move given in long algebraic ("e2e4", "e7e8q") notation.
func (b *Board) ApplyUCI(uci string) error {
	m := b.findMove(uci)
	if m == nil {
		return fmt.Errorf("%w: %q in %s", ErrIllegalMove, uci, b.FEN())
	}
	b.pos = b.pos.Update(m)
	return nil
}

// Copy returns an independent copy of the board.
func (b *Board) Copy() *Board {
	return &Board{pos: b.pos}
}
