package store

import "time"

// Tournament is one followed broadcast event. ExtID identifies it at the
// provider; its rounds are rediscovered on every selection pass, so only
// the event itself is pinned here.
type Tournament struct {
	ID         int64
	ExtID      string
	Name       string
	IsFinished bool
	IsHidden   bool
	CreatedAt  time.Time
}

// PlayerInfo is one side of a game. Rating, FIDE id and federation are
// optional: broadcasts for amateur events omit them.
type PlayerInfo struct {
	Name   string
	Rating *int
	FideID *int64
	Fed    *string
}

// Game is one board being (or having been) analyzed.
type Game struct {
	ID           int64
	TournamentID int64
	ExtID        string
	RoundExtID   string
	RoundName    string
	Name         string
	FeedURL      string
	Player1      PlayerInfo
	Player2      PlayerInfo
	IsFinished   bool
	CreatedAt    time.Time
}

// Position is one ply of a game's mainline, with the last aggregate
// engine scores published for it.
type Position struct {
	ID         int64
	GameID     int64
	Ply        int
	MoveUCI    string
	MoveSAN    string
	FEN        string
	WhiteClock *int
	BlackClock *int
	QScore     *int
	WhiteWins  *int
	Draws      *int
	BlackWins  *int
	Nodes      *int64
	TimeMS     *int64
	Depth      *int
	SelDepth   *int
	MovesLeft  *int
}

// PositionScores is the verdict of one complete engine bundle, mirrored
// onto the position row: node-weighted scores plus the search totals of
// the bundle's principal line.
type PositionScores struct {
	QScore    int
	WhiteWins int
	Draws     int
	BlackWins int
	Nodes     int64
	TimeMS    int64
	Depth     int
	SelDepth  int
	MovesLeft *int
}

// Evaluation is one published engine snapshot of a position. The search
// totals come from the engine's principal line.
type Evaluation struct {
	ID         int64
	PositionID int64
	Nodes      int64
	TimeMS     int64
	Depth      int
	SelDepth   int
	MovesLeft  *int
	CreatedAt  time.Time
}

// EvaluationMove is one engine line of an evaluation: its rank, first
// move, continuation and scores, all from White's point of view. QScore
// is the clamped centipawn value; MateScore is set only for forced mates
// and holds the signed ply count.
type EvaluationMove struct {
	ID           int64
	EvaluationID int64
	MultiPV      int
	Nodes        int64
	MoveUCI      string
	MoveSAN      string
	QScore       int
	PVSAN        string
	PVUCI        string
	MateScore    *int
	WhiteWins    *int
	Draws        *int
	BlackWins    *int
	MovesLeft    *int
}
