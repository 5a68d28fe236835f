package pgnfeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const gameA = `[Event "Open"]
[White "Aaa"]
[Black "Bbb"]
[Result "*"]

1. e4 *`

const gameB = `[Event "Open"]
[White "Ccc"]
[Black "Ddd"]
[Result "*"]

1. d4 *`

const gameAFinished = `[Event "Open"]
[White "Aaa"]
[Black "Bbb"]
[Result "1-0"]

1. e4 e5 1-0`

func collect(t *testing.T, ch <-chan string, want int) []string {
	t.Helper()
	var out []string
	timeout := time.After(5 * time.Second)
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, s)
			if len(out) > want {
				t.Fatalf("Got more snapshots than expected: %v", out)
			}
		case <-timeout:
			t.Fatalf("Timed out after %d snapshots", len(out))
		}
	}
}

func TestFilterMatches(t *testing.T) {
	f := Filter{"White": "Aaa", "Black": "Bbb"}
	require.True(t, f.Matches(gameA))
	require.False(t, f.Matches(gameB))
	require.True(t, Filter(nil).Matches(gameB))
	require.False(t, Filter{"White": "Aaa", "WhiteElo": "2700"}.Matches(gameA))
}

func TestSubscribeFiltersAndCloses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fl := w.(http.Flusher)
		for _, g := range []string{gameB, gameA, gameB, gameAFinished} {
			_, _ = w.Write([]byte(g + "\n\n\n"))
			fl.Flush()
		}
		// Keep the connection open; the feed must close on the result,
		// not on EOF.
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	feed := New(srv.URL, Filter{"White": "Aaa"}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snapshots := collect(t, feed.Subscribe(ctx), 2)
	require.Len(t, snapshots, 2)
	require.Equal(t, gameA, snapshots[0])
	require.Equal(t, gameAFinished, snapshots[1])
}

func TestSubscribeReconnects(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fl := w.(http.Flusher)
		if requests.Add(1) == 1 {
			// Drop mid-snapshot; the truncated text must never surface.
			_, _ = w.Write([]byte(gameA[:20]))
			fl.Flush()
			return
		}
		_, _ = w.Write([]byte(gameAFinished + "\n\n\n"))
		fl.Flush()
	}))
	defer srv.Close()

	feed := New(srv.URL, Filter{"White": "Aaa"}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	snapshots := collect(t, feed.Subscribe(ctx), 1)
	require.Len(t, snapshots, 1)
	require.Equal(t, gameAFinished, snapshots[0])
	require.GreaterOrEqual(t, requests.Load(), int32(2))
}

func TestSubscribeStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fl := w.(http.Flusher)
		_, _ = w.Write([]byte(gameA + "\n\n\n"))
		fl.Flush()
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	feed := New(srv.URL, nil, nil)
	ch := feed.Subscribe(ctx)

	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for snapshot")
	}
	cancel()

	select {
	case _, ok := <-ch:
		require.False(t, ok, "Expected channel to close after cancel")
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for close")
	}
}
