package selector

import (
	"context"
	"errors"
	"testing"

	"github.com/kibitzerlive/kibitzer/internal/catalog"
	kchess "github.com/kibitzerlive/kibitzer/internal/chess"
	"github.com/kibitzerlive/kibitzer/internal/store"
)

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }
func clockPtr(v int64) *int64 { return &v }

func board(id string, clocks ...*int64) catalog.BoardGame {
	b := catalog.BoardGame{ID: id, Name: id, Status: "*"}
	for _, c := range clocks {
		b.Players = append(b.Players, catalog.Player{Name: "p", Clock: c})
	}
	return b
}

func TestPickBestPrefersLowestSlowClock(t *testing.T) {
	boards := []catalog.BoardGame{
		board("even", clockPtr(300000), clockPtr(300000)),
		board("pressed", clockPtr(500), clockPtr(90000)),
		board("one-side-low", clockPtr(100), clockPtr(600000)),
	}
	// "pressed" has the lowest maximum clock: both players are short.
	if got := PickBest(boards); got.ID != "pressed" {
		t.Errorf("Expected pressed, got %s", got.ID)
	}
}

func TestPickBestMissingClocksSortLast(t *testing.T) {
	boards := []catalog.BoardGame{
		board("no-clocks", nil, nil),
		board("clocked", clockPtr(3000000), clockPtr(2000000)),
	}
	if got := PickBest(boards); got.ID != "clocked" {
		t.Errorf("Expected clocked, got %s", got.ID)
	}
}

func TestPickBestIsDeterministicOnTies(t *testing.T) {
	boards := []catalog.BoardGame{
		board("first", clockPtr(1000), clockPtr(1000)),
		board("second", clockPtr(1000), clockPtr(1000)),
	}
	for i := 0; i < 10; i++ {
		if got := PickBest(boards); got.ID != "first" {
			t.Fatalf("Expected ties to keep provider order, got %s", got.ID)
		}
	}
}

const livePGN = `[Event "Open"]
[Round "3.1"]
[White "Carlsen, Magnus"]
[Black "Caruana, Fabiano"]
[WhiteElo "2830"]
[BlackElo "2800"]
[Result "*"]

1. e4 *`

func parsed(t *testing.T, text string) *kchess.PGNGame {
	t.Helper()
	g, err := kchess.ParsePGN(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return g
}

func TestMatchBoardNullSafety(t *testing.T) {
	g := parsed(t, livePGN)

	full := catalog.BoardGame{Players: []catalog.Player{
		{Name: "Carlsen, Magnus", Rating: intPtr(2830)},
		{Name: "Caruana, Fabiano", Rating: intPtr(2800)},
	}}
	if !matchBoard(full, g) {
		t.Error("Expected full match")
	}

	// Fields the provider omits do not constrain the match
	sparse := catalog.BoardGame{Players: []catalog.Player{
		{Name: "Carlsen, Magnus"},
		{Name: "Caruana, Fabiano"},
	}}
	if !matchBoard(sparse, g) {
		t.Error("Expected sparse match")
	}

	// But a supplied field must agree
	wrongElo := catalog.BoardGame{Players: []catalog.Player{
		{Name: "Carlsen, Magnus", Rating: intPtr(2500)},
		{Name: "Caruana, Fabiano"},
	}}
	if matchBoard(wrongElo, g) {
		t.Error("Expected rating mismatch to fail")
	}

	// Headers the PGN lacks do not constrain the match either: a board
	// with a FIDE id still matches a PGN without WhiteFideId
	withFide := catalog.BoardGame{Players: []catalog.Player{
		{Name: "Carlsen, Magnus", FideID: int64Ptr(1503014)},
		{Name: "Caruana, Fabiano"},
	}}
	if !matchBoard(withFide, g) {
		t.Error("Expected missing WhiteFideId header to be ignored")
	}
}

func TestMatchBoardIgnoresAbsentHeaders(t *testing.T) {
	// The round PGN often omits ratings entirely
	g := parsed(t, `[White "Carlsen, Magnus"]
[Black "Caruana, Fabiano"]
[Result "*"]

1. e4 *`)
	b := catalog.BoardGame{Players: []catalog.Player{
		{Name: "Carlsen, Magnus", Rating: intPtr(2830), FideID: int64Ptr(1503014)},
		{Name: "Caruana, Fabiano", Rating: intPtr(2800)},
	}}
	if !matchBoard(b, g) {
		t.Error("Expected known ratings to match a PGN without Elo headers")
	}
}

func TestMatchBoardRejectsFinishedGames(t *testing.T) {
	g := parsed(t, `[White "Carlsen, Magnus"]
[Black "Caruana, Fabiano"]
[Result "1-0"]

1. e4 e5 1-0`)
	b := catalog.BoardGame{Players: []catalog.Player{
		{Name: "Carlsen, Magnus"}, {Name: "Caruana, Fabiano"},
	}}
	if matchBoard(b, g) {
		t.Error("Expected finished game to be rejected")
	}
}

func TestFilterHeaders(t *testing.T) {
	filters := FilterHeaders(parsed(t, livePGN))

	want := map[string]string{
		"Event":    "Open",
		"Round":    "3.1",
		"White":    "Carlsen, Magnus",
		"Black":    "Caruana, Fabiano",
		"WhiteElo": "2830",
		"BlackElo": "2800",
	}
	for k, v := range want {
		if filters[k] != v {
			t.Errorf("Expected %s=%q, got %q", k, v, filters[k])
		}
	}
	if _, ok := filters["Result"]; ok {
		t.Error("Result must not be part of the filter")
	}
	if _, ok := filters["WhiteFideId"]; ok {
		t.Error("Absent headers must not be part of the filter")
	}
}

// fakes for NextGame

type fakeCatalog struct {
	rounds []catalog.Round
	boards map[string][]catalog.BoardGame
	pgns   map[string][]string
}

func (f *fakeCatalog) GetTournament(ctx context.Context, tournamentID string) (*catalog.Tournament, error) {
	return &catalog.Tournament{
		Tour:   catalog.TourInfo{ID: tournamentID, Name: "Open"},
		Rounds: f.rounds,
	}, nil
}
func (f *fakeCatalog) GetRoundBoards(ctx context.Context, roundID string) (*catalog.RoundBoards, error) {
	return &catalog.RoundBoards{Games: f.boards[roundID]}, nil
}
func (f *fakeCatalog) FetchRoundPGNs(ctx context.Context, roundID string) ([]string, error) {
	return f.pgns[roundID], nil
}
func (f *fakeCatalog) StreamURL(roundID string) string {
	return "https://example.com/api/stream/broadcast/round/" + roundID + ".pgn"
}

type fakeStore struct {
	existing map[string]bool
	created  []*store.Game
	filters  map[string]string
}

func (f *fakeStore) GameExists(ctx context.Context, extID string) (bool, error) {
	return f.existing[extID], nil
}
func (f *fakeStore) CreateGame(ctx context.Context, g *store.Game, filters map[string]string) (int64, error) {
	f.created = append(f.created, g)
	f.filters = filters
	return int64(len(f.created)), nil
}

func tournament() *store.Tournament {
	return &store.Tournament{ID: 7, ExtID: "t1", Name: "Open"}
}

func TestNextGameMaterializes(t *testing.T) {
	cat := &fakeCatalog{
		rounds: []catalog.Round{{ID: "r3", Name: "Round 3", Ongoing: true}},
		boards: map[string][]catalog.BoardGame{"r3": {{
			ID: "g1", Name: "Carlsen, Magnus - Caruana, Fabiano", Status: "*",
			Players: []catalog.Player{
				{Name: "Carlsen, Magnus", Rating: intPtr(2830), Clock: clockPtr(90000)},
				{Name: "Caruana, Fabiano", Rating: intPtr(2800), Clock: clockPtr(91000)},
			},
		}}},
		pgns: map[string][]string{"r3": {livePGN}},
	}
	st := &fakeStore{existing: map[string]bool{}}

	game, err := New(cat, st).NextGame(context.Background(), tournament())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if game.ExtID != "r3/g1" {
		t.Errorf("Unexpected ext id %s", game.ExtID)
	}
	if game.RoundExtID != "r3" || game.RoundName != "Round 3" {
		t.Errorf("Unexpected round %s / %s", game.RoundExtID, game.RoundName)
	}
	if game.Name != "Carlsen, Magnus - Caruana, Fabiano (Round 3) --- Open" {
		t.Errorf("Unexpected name %s", game.Name)
	}
	if game.FeedURL != "https://example.com/api/stream/broadcast/round/r3.pgn" {
		t.Errorf("Unexpected feed url %s", game.FeedURL)
	}
	if game.Player1.Rating == nil || *game.Player1.Rating != 2830 {
		t.Errorf("Unexpected player1 %+v", game.Player1)
	}
	if st.filters["White"] != "Carlsen, Magnus" {
		t.Errorf("Expected stored filter, got %v", st.filters)
	}
}

func TestNextGameSpansOngoingRounds(t *testing.T) {
	// Two rounds live at once: the board in deeper time trouble wins,
	// whichever round it belongs to
	cat := &fakeCatalog{
		rounds: []catalog.Round{
			{ID: "r3", Name: "Round 3", Ongoing: true},
			{ID: "r4", Name: "Round 4", Ongoing: true},
		},
		boards: map[string][]catalog.BoardGame{
			"r3": {board("slow", clockPtr(500000), clockPtr(400000))},
			"r4": {{
				ID: "g1", Name: "Carlsen, Magnus - Caruana, Fabiano", Status: "*",
				Players: []catalog.Player{
					{Name: "Carlsen, Magnus", Clock: clockPtr(900)},
					{Name: "Caruana, Fabiano", Clock: clockPtr(1200)},
				},
			}},
		},
		pgns: map[string][]string{"r4": {livePGN}},
	}
	st := &fakeStore{existing: map[string]bool{}}

	game, err := New(cat, st).NextGame(context.Background(), tournament())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if game.ExtID != "r4/g1" {
		t.Errorf("Expected the pressed board of round 4, got %s", game.ExtID)
	}
}

func TestNextGameTournamentFinished(t *testing.T) {
	cat := &fakeCatalog{rounds: []catalog.Round{
		{ID: "r1", Finished: true},
		{ID: "r2", Finished: true},
	}}
	_, err := New(cat, &fakeStore{}).NextGame(context.Background(), tournament())
	if !errors.Is(err, ErrTournamentFinished) {
		t.Errorf("Expected ErrTournamentFinished, got %v", err)
	}
}

func TestNextGameWaitsForScheduledRounds(t *testing.T) {
	// One round done, the next not started: the tournament is idle, not
	// finished
	cat := &fakeCatalog{rounds: []catalog.Round{
		{ID: "r1", Finished: true},
		{ID: "r2"},
	}}
	_, err := New(cat, &fakeStore{}).NextGame(context.Background(), tournament())
	if !errors.Is(err, ErrNoCandidates) {
		t.Errorf("Expected ErrNoCandidates, got %v", err)
	}
}

func TestNextGameNoCandidates(t *testing.T) {
	cat := &fakeCatalog{
		rounds: []catalog.Round{{ID: "r3", Ongoing: true}},
		boards: map[string][]catalog.BoardGame{"r3": {{ID: "g1", Status: "*"}}},
	}
	st := &fakeStore{existing: map[string]bool{"r3/g1": true}}
	_, err := New(cat, st).NextGame(context.Background(), tournament())
	if !errors.Is(err, ErrNoCandidates) {
		t.Errorf("Expected ErrNoCandidates, got %v", err)
	}
}

func TestNextGameAmbiguous(t *testing.T) {
	cat := &fakeCatalog{
		rounds: []catalog.Round{{ID: "r3", Name: "Round 3", Ongoing: true}},
		boards: map[string][]catalog.BoardGame{"r3": {{
			ID: "g1", Status: "*",
			Players: []catalog.Player{{Name: "Carlsen, Magnus"}, {Name: "Caruana, Fabiano"}},
		}}},
		pgns: map[string][]string{"r3": {livePGN, livePGN}},
	}
	_, err := New(cat, &fakeStore{existing: map[string]bool{}}).NextGame(context.Background(), tournament())
	if !errors.Is(err, ErrAmbiguousGame) {
		t.Errorf("Expected ErrAmbiguousGame, got %v", err)
	}
}
