// Package uci drives a UCI chess engine over stdin/stdout, locally or
// through an SSH session, and exposes its analysis output as a stream of
// parsed Info records.
package uci

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrEngineStartup is returned when the engine process does not complete
// the uci/isready handshake.
var ErrEngineStartup = errors.New("uci: engine startup failed")

const handshakeTimeout = 30 * time.Second

// SSHConfig names a remote host to run the engine on. Authentication uses
// the local ssh agent.
type SSHConfig struct {
	Host     string
	Username string
}

// Config describes one engine instance.
type Config struct {
	Command    []string
	MaxMultiPV int
	ShowPV     int
	SSH        *SSHConfig
	Options    Options
}

// Options supplies engine setoption values: the static ones sent during
// the handshake plus any that depend on the position being searched.
type Options interface {
	Static() map[string]string
	PerPosition(fen string) map[string]string
}

// StaticOptions is a fixed option set with no per-position component.
type StaticOptions map[string]string

func (o StaticOptions) Static() map[string]string            { return o }
func (o StaticOptions) PerPosition(string) map[string]string { return nil }

// DynamicOptions derives extra options for each searched position on top
// of a static base.
type DynamicOptions struct {
	Base map[string]string
	Func func(fen string) map[string]string
}

func (o DynamicOptions) Static() map[string]string { return o.Base }

func (o DynamicOptions) PerPosition(fen string) map[string]string {
	if o.Func == nil {
		return nil
	}
	return o.Func(fen)
}

// Client is a handle on one running engine. A client runs at most one
// analysis at a time.
type Client struct {
	cfg   Config
	tr    *transport
	lines chan string

	// engineMu guards current and serializes analysis startup; cancelMu
	// serializes cancellation against new analyses so a Cancel always
	// observes the analysis it was called on.
	engineMu sync.Mutex
	cancelMu sync.Mutex
	current  *Analysis

	closed chan struct{}
}

// Analysis is one in-flight "go infinite" search. Infos delivers parsed
// engine output until the search stops; Done is closed once the engine
// acknowledges the stop with a bestmove.
type Analysis struct {
	client *Client
	infos  chan Info
	done   chan struct{}
}

// Infos returns the stream of engine info lines for this analysis. The
// channel is closed when the analysis ends.
func (a *Analysis) Infos() <-chan Info { return a.infos }

// Done is closed when the engine has acknowledged the end of the search.
func (a *Analysis) Done() <-chan struct{} { return a.done }

// New starts the engine process and performs the UCI handshake. A failed
// handshake wraps ErrEngineStartup.
func New(cfg Config) (*Client, error) {
	tr, err := openTransport(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineStartup, err)
	}
	c := newClient(cfg, tr)
	if err := c.handshake(); err != nil {
		_ = tr.close()
		return nil, err
	}
	go c.dispatch()
	return c, nil
}

func newClient(cfg Config, tr *transport) *Client {
	c := &Client{
		cfg:    cfg,
		tr:     tr,
		lines:  make(chan string, 64),
		closed: make(chan struct{}),
	}
	go c.readLines()
	return c
}

func (c *Client) readLines() {
	defer close(c.lines)
	sc := bufio.NewScanner(c.tr.stdout)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		c.lines <- sc.Text()
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.EOF) {
		log.Debug().Err(err).Msg("engine output closed")
	}
}

func (c *Client) send(cmd string) error {
	log.Trace().Str("cmd", cmd).Msg("engine <-")
	if _, err := io.WriteString(c.tr.stdin, cmd+"\n"); err != nil {
		return fmt.Errorf("write to engine: %w", err)
	}
	return nil
}

// waitFor consumes engine lines until one starts with the given prefix.
func (c *Client) waitFor(prefix string, timeout time.Duration) error {
	deadline := time.After(timeout)
	for {
		select {
		case line, ok := <-c.lines:
			if !ok {
				return fmt.Errorf("engine exited waiting for %q", prefix)
			}
			if strings.HasPrefix(line, prefix) {
				return nil
			}
		case <-deadline:
			return fmt.Errorf("timed out waiting for %q", prefix)
		}
	}
}

func (c *Client) handshake() error {
	if err := c.send("uci"); err != nil {
		return fmt.Errorf("%w: %v", ErrEngineStartup, err)
	}
	if err := c.waitFor("uciok", handshakeTimeout); err != nil {
		return fmt.Errorf("%w: %v", ErrEngineStartup, err)
	}
	if c.cfg.Options != nil {
		for _, kv := range sortedOptions(c.cfg.Options.Static()) {
			if err := c.send("setoption name " + kv[0] + " value " + kv[1]); err != nil {
				return fmt.Errorf("%w: %v", ErrEngineStartup, err)
			}
		}
	}
	if err := c.send("isready"); err != nil {
		return fmt.Errorf("%w: %v", ErrEngineStartup, err)
	}
	if err := c.waitFor("readyok", handshakeTimeout); err != nil {
		return fmt.Errorf("%w: %v", ErrEngineStartup, err)
	}
	return nil
}

// dispatch routes engine output to the active analysis.
func (c *Client) dispatch() {
	defer close(c.closed)
	for line := range c.lines {
		switch {
		case strings.HasPrefix(line, "info"):
			info, ok := ParseInfo(line)
			if !ok {
				continue
			}
			c.engineMu.Lock()
			cur := c.current
			c.engineMu.Unlock()
			if cur == nil {
				continue
			}
			select {
			case cur.infos <- info:
			default:
				// Slow consumer; dropping an intermediate info line
				// only delays the next published evaluation.
			}
		case strings.HasPrefix(line, "bestmove"):
			c.finishCurrent()
		}
	}
	c.finishCurrent()
}

func (c *Client) finishCurrent() {
	c.engineMu.Lock()
	cur := c.current
	c.current = nil
	c.engineMu.Unlock()
	if cur != nil {
		close(cur.infos)
		close(cur.done)
	}
}

// Analyze starts an infinite search of the given position. At most
// min(MaxMultiPV, legal move count) lines are requested; the caller passes
// that bound as multipv. The configured per-position options are applied
// first, then the caller's per-analysis options on top.
func (c *Client) Analyze(fen string, options map[string]string, multipv int) (*Analysis, error) {
	c.cancelMu.Lock()
	defer c.cancelMu.Unlock()
	c.engineMu.Lock()
	defer c.engineMu.Unlock()

	if c.current != nil {
		return nil, fmt.Errorf("analysis already in progress")
	}
	if multipv < 1 {
		multipv = 1
	}
	if c.cfg.MaxMultiPV > 0 && multipv > c.cfg.MaxMultiPV {
		multipv = c.cfg.MaxMultiPV
	}

	merged := map[string]string{}
	if c.cfg.Options != nil {
		for k, v := range c.cfg.Options.PerPosition(fen) {
			merged[k] = v
		}
	}
	for k, v := range options {
		merged[k] = v
	}
	for _, kv := range sortedOptions(merged) {
		if err := c.send("setoption name " + kv[0] + " value " + kv[1]); err != nil {
			return nil, err
		}
	}
	if err := c.send(fmt.Sprintf("setoption name MultiPV value %d", multipv)); err != nil {
		return nil, err
	}
	if err := c.send("position fen " + fen); err != nil {
		return nil, err
	}
	if err := c.send("go infinite"); err != nil {
		return nil, err
	}

	a := &Analysis{
		client: c,
		infos:  make(chan Info, 256),
		done:   make(chan struct{}),
	}
	c.current = a
	return a, nil
}

// Cancel stops the search and waits for the engine to acknowledge it. It is
// safe to call on an analysis that has already finished.
func (a *Analysis) Cancel(ctx context.Context) error {
	c := a.client
	c.cancelMu.Lock()
	defer c.cancelMu.Unlock()

	select {
	case <-a.done:
		return nil
	default:
	}

	if err := c.send("stop"); err != nil {
		return err
	}
	select {
	case <-a.done:
		return nil
	case <-c.closed:
		return fmt.Errorf("engine exited during cancel")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Quit shuts the engine down, cancelling any running analysis first.
func (c *Client) Quit(ctx context.Context) error {
	c.engineMu.Lock()
	cur := c.current
	c.engineMu.Unlock()
	if cur != nil {
		if err := cur.Cancel(ctx); err != nil {
			log.Warn().Err(err).Msg("cancel before quit")
		}
	}
	if err := c.send("quit"); err != nil {
		log.Debug().Err(err).Msg("quit write failed")
	}
	select {
	case <-c.closed:
	case <-time.After(3 * time.Second):
	case <-ctx.Done():
	}
	return c.tr.close()
}

// MaxMultiPV reports the configured MultiPV ceiling (at least 1).
func (c *Client) MaxMultiPV() int {
	if c.cfg.MaxMultiPV < 1 {
		return 1
	}
	return c.cfg.MaxMultiPV
}

// ShowPV reports how many leading PV moves should be published.
func (c *Client) ShowPV() int {
	if c.cfg.ShowPV < 1 {
		return 2
	}
	return c.cfg.ShowPV
}

// sortedOptions renders an option map as key/value pairs in a stable order.
func sortedOptions(opts map[string]string) [][2]string {
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([][2]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, [2]string{k, opts[k]})
	}
	return out
}
