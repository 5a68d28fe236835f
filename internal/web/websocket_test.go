package web

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kibitzerlive/kibitzer/internal/notify"
	"github.com/kibitzerlive/kibitzer/internal/store"
	"github.com/kibitzerlive/kibitzer/internal/supervisor"
)

type stubStore struct {
	games     []*store.Game
	positions map[int64][]*store.Position
}

func (s *stubStore) NextUnfinishedGame(ctx context.Context, assigned []int64) (*store.Game, error) {
	return nil, store.ErrNotFound
}
func (s *stubStore) GetGame(ctx context.Context, id int64) (*store.Game, error) {
	return nil, store.ErrNotFound
}
func (s *stubStore) VisibleGames(ctx context.Context) ([]*store.Game, error) {
	return s.games, nil
}
func (s *stubStore) UnfinishedTournaments(ctx context.Context) ([]*store.Tournament, error) {
	return nil, nil
}
func (s *stubStore) SetTournamentFinished(ctx context.Context, id int64) error { return nil }
func (s *stubStore) PositionsForGame(ctx context.Context, gameID int64) ([]*store.Position, error) {
	return s.positions[gameID], nil
}
func (s *stubStore) LatestEvaluation(ctx context.Context, gameID int64, ply int) (*store.Evaluation, []store.EvaluationMove, error) {
	return nil, nil, store.ErrNotFound
}

func testService(st *stubStore) *Service {
	sup := supervisor.New(st, nil, notify.New(), "")
	return NewService(sup, "")
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func TestConnectReceivesHello(t *testing.T) {
	st := &stubStore{games: []*store.Game{
		{ID: 1, Name: "A --- B", FeedURL: "u"},
	}}
	srv := httptest.NewServer(testService(st).Routes())
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	// One hello frame with both the status and the game list
	hello := readFrame(t, conn)
	if _, ok := hello["status"]; !ok {
		t.Errorf("Expected status in the hello frame, got %v", hello)
	}
	games, ok := hello["games"].([]any)
	if !ok || len(games) != 1 {
		t.Errorf("Expected one game card in the hello frame, got %v", hello)
	}
}

func TestWatchRequestSendsPositions(t *testing.T) {
	st := &stubStore{
		positions: map[int64][]*store.Position{
			1: {{ID: 10, GameID: 1, Ply: 0}, {ID: 11, GameID: 1, Ply: 1, MoveSAN: "e4"}},
		},
	}
	srv := httptest.NewServer(testService(st).Routes())
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	readFrame(t, conn) // hello

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"gameId": 1}`)); err != nil {
		t.Fatalf("write watch request: %v", err)
	}
	frame := readFrame(t, conn)
	positions, ok := frame["positions"].([]any)
	if !ok || len(positions) != 2 {
		t.Errorf("Expected positions snapshot, got %v", frame)
	}
}

func TestMalformedRequestClosesConnection(t *testing.T) {
	srv := httptest.NewServer(testService(&stubStore{}).Routes())
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	readFrame(t, conn) // hello

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`not json`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return // closed as expected
		}
	}
}

func TestSendReportsBackpressure(t *testing.T) {
	c := &Client{send: make(chan []byte, 1)}
	if err := c.Send(notify.Frame{}); err != nil {
		t.Fatalf("first send failed: %v", err)
	}
	if err := c.Send(notify.Frame{}); err == nil {
		t.Error("Expected backpressure error when the buffer is full")
	}
}
