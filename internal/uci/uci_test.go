package uci

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeEngine scripts a UCI engine on in-memory pipes.
type fakeEngine struct {
	tr *transport

	mu       sync.Mutex
	commands []string
}

func newFakeEngine(t *testing.T) *fakeEngine {
	t.Helper()
	cmdR, cmdW := io.Pipe()
	outR, outW := io.Pipe()

	f := &fakeEngine{
		tr: &transport{
			stdin:  cmdW,
			stdout: outR,
			close: func() error {
				cmdW.Close()
				outW.Close()
				return nil
			},
		},
	}

	go func() {
		defer outW.Close()
		sc := bufio.NewScanner(cmdR)
		searching := false
		for sc.Scan() {
			cmd := sc.Text()
			f.mu.Lock()
			f.commands = append(f.commands, cmd)
			f.mu.Unlock()

			switch {
			case cmd == "uci":
				fmt.Fprintln(outW, "id name faker")
				fmt.Fprintln(outW, "uciok")
			case cmd == "isready":
				fmt.Fprintln(outW, "readyok")
			case strings.HasPrefix(cmd, "go"):
				searching = true
				fmt.Fprintln(outW, "info string starting search")
				fmt.Fprintln(outW, "info depth 10 multipv 1 score cp 35 nodes 1000 time 15 pv e2e4 e7e5")
				fmt.Fprintln(outW, "info depth 10 multipv 2 score cp 20 nodes 1000 time 15 pv d2d4 d7d5")
			case cmd == "stop":
				if searching {
					fmt.Fprintln(outW, "bestmove e2e4")
					searching = false
				}
			case cmd == "quit":
				return
			}
		}
	}()
	return f
}

func (f *fakeEngine) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

func startTestClient(t *testing.T, cfg Config) (*Client, *fakeEngine) {
	t.Helper()
	f := newFakeEngine(t)
	c := newClient(cfg, f.tr)
	if err := c.handshake(); err != nil {
		t.Fatalf("handshake failed: %v", err)
	}
	go c.dispatch()
	return c, f
}

func TestHandshakeSendsOptions(t *testing.T) {
	c, f := startTestClient(t, Config{
		MaxMultiPV: 3,
		Options:    StaticOptions{"Threads": "4", "Hash": "512"},
	})
	defer c.Quit(context.Background())

	cmds := f.received()
	var setopts []string
	for _, cmd := range cmds {
		if strings.HasPrefix(cmd, "setoption") {
			setopts = append(setopts, cmd)
		}
	}
	if len(setopts) != 2 {
		t.Fatalf("Expected 2 setoptions, got %v", setopts)
	}
	// Sorted by name for a stable wire log
	if setopts[0] != "setoption name Hash value 512" {
		t.Errorf("Unexpected first setoption: %s", setopts[0])
	}
	if setopts[1] != "setoption name Threads value 4" {
		t.Errorf("Unexpected second setoption: %s", setopts[1])
	}
}

func TestAnalyzeStreamsInfos(t *testing.T) {
	c, f := startTestClient(t, Config{MaxMultiPV: 2})
	defer c.Quit(context.Background())

	a, err := c.Analyze("rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1", nil, 2)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	var infos []Info
	timeout := time.After(5 * time.Second)
	for len(infos) < 2 {
		select {
		case info := <-a.Infos():
			infos = append(infos, info)
		case <-timeout:
			t.Fatal("Timed out waiting for infos")
		}
	}
	if infos[0].MultiPV != 1 || infos[1].MultiPV != 2 {
		t.Errorf("Unexpected multipv sequence: %d, %d", infos[0].MultiPV, infos[1].MultiPV)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Cancel(ctx); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	select {
	case <-a.Done():
	default:
		t.Error("Expected Done to be closed after cancel")
	}

	cmds := f.received()
	joined := strings.Join(cmds, "\n")
	if !strings.Contains(joined, "setoption name MultiPV value 2") {
		t.Errorf("Expected MultiPV setoption, got:\n%s", joined)
	}
	if !strings.Contains(joined, "position fen rnbqkbnr") {
		t.Errorf("Expected position command, got:\n%s", joined)
	}
	if !strings.Contains(joined, "go infinite") {
		t.Errorf("Expected go infinite, got:\n%s", joined)
	}
}

func TestAnalyzeAppliesPerPositionOptions(t *testing.T) {
	c, f := startTestClient(t, Config{
		MaxMultiPV: 1,
		Options: DynamicOptions{
			Base: map[string]string{"Threads": "2"},
			Func: func(fen string) map[string]string {
				return map[string]string{"SyzygyProbeDepth": "1", "LastFen": fen}
			},
		},
	})
	defer c.Quit(context.Background())

	fen := "8/8/8/8/8/8/8/K6k w - - 0 1"
	a, err := c.Analyze(fen, map[string]string{"SyzygyProbeDepth": "4"}, 1)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Cancel(ctx); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	joined := strings.Join(f.received(), "\n")
	if !strings.Contains(joined, "setoption name LastFen value "+fen) {
		t.Errorf("Expected per-position option, got:\n%s", joined)
	}
	// The caller's per-analysis value wins over the configured one
	if !strings.Contains(joined, "setoption name SyzygyProbeDepth value 4") {
		t.Errorf("Expected per-analysis override, got:\n%s", joined)
	}
	if strings.Contains(joined, "setoption name SyzygyProbeDepth value 1") {
		t.Errorf("Expected configured value to be overridden, got:\n%s", joined)
	}
}

func TestAnalyzeRejectsConcurrentSearch(t *testing.T) {
	c, _ := startTestClient(t, Config{MaxMultiPV: 1})
	defer c.Quit(context.Background())

	a, err := c.Analyze("8/8/8/8/8/8/8/K6k w - - 0 1", nil, 1)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if _, err := c.Analyze("8/8/8/8/8/8/8/K6k w - - 0 1", nil, 1); err == nil {
		t.Error("Expected second Analyze to fail while searching")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Cancel(ctx); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	// A finished analysis frees the engine for the next search
	if _, err := c.Analyze("8/8/8/8/8/8/8/K6k w - - 0 1", nil, 1); err != nil {
		t.Errorf("Expected Analyze to succeed after cancel, got %v", err)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	c, _ := startTestClient(t, Config{MaxMultiPV: 1})
	defer c.Quit(context.Background())

	a, err := c.Analyze("8/8/8/8/8/8/8/K6k w - - 0 1", nil, 1)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Cancel(ctx); err != nil {
		t.Fatalf("First cancel failed: %v", err)
	}
	if err := a.Cancel(ctx); err != nil {
		t.Errorf("Second cancel failed: %v", err)
	}
}
