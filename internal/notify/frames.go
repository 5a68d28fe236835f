package notify

// Frame is one JSON message to a subscriber. Unset sections are omitted;
// the hello frame carries both status and games.
type Frame struct {
	Status      *Status      `json:"status,omitempty"`
	Games       []GameEntry  `json:"games,omitempty"`
	Positions   []Position   `json:"positions,omitempty"`
	Evaluations []Evaluation `json:"evaluations,omitempty"`
}

// Status is the periodic service heartbeat.
type Status struct {
	Message    string `json:"message"`
	NumViewers int    `json:"numViewers"`
	JSHash     string `json:"jsHash"`
}

// PlayerCard is one side of a game as shown on its card.
type PlayerCard struct {
	Name   string  `json:"name"`
	Rating *int    `json:"rating"`
	FideID *int64  `json:"fideId"`
	Fed    *string `json:"fed"`
}

// GameEntry is one game card.
type GameEntry struct {
	GameID          int64      `json:"gameId"`
	Name            string     `json:"name"`
	IsFinished      bool       `json:"isFinished"`
	IsBeingAnalyzed bool       `json:"isBeingAnalyzed"`
	Player1         PlayerCard `json:"player1"`
	Player2         PlayerCard `json:"player2"`
	FeedURL         string     `json:"feedUrl"`
}

// Position is one mainline ply of a game.
type Position struct {
	GameID     int64  `json:"gameId"`
	Ply        int    `json:"ply"`
	MoveUCI    string `json:"moveUci"`
	MoveSAN    string `json:"moveSan"`
	FEN        string `json:"fen"`
	WhiteClock *int   `json:"whiteClock"`
	BlackClock *int   `json:"blackClock"`
	QScore     *int   `json:"qScore"`
	WhiteWins  *int   `json:"whiteWins"`
	Draws      *int   `json:"draws"`
	BlackWins  *int   `json:"blackWins"`
}

// Variation is one engine line of an evaluation, scored from White's
// point of view. Score is the clamped centipawn value; MateScore is set
// only for forced mates and holds the signed ply count.
type Variation struct {
	MultiPV   int    `json:"multipv"`
	Nodes     int64  `json:"nodes"`
	MoveUCI   string `json:"moveUci"`
	MoveSAN   string `json:"moveSan"`
	Score     int    `json:"score"`
	PVSAN     string `json:"pvSan"`
	PVUCI     string `json:"pvUci"`
	MateScore *int   `json:"mateScore"`
	WhiteWins *int   `json:"whiteWins"`
	Draws     *int   `json:"draws"`
	BlackWins *int   `json:"blackWins"`
	MovesLeft *int   `json:"movesLeft"`
}

// Evaluation is one published engine snapshot of a (game, ply).
type Evaluation struct {
	GameID     int64       `json:"gameId"`
	Ply        int         `json:"ply"`
	EvalID     int64       `json:"evalId"`
	Nodes      int64       `json:"nodes"`
	Time       int64       `json:"time"`
	Depth      int         `json:"depth"`
	SelDepth   int         `json:"seldepth"`
	MovesLeft  *int        `json:"movesLeft"`
	Variations []Variation `json:"variations"`
}
