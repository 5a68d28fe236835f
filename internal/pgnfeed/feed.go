// Package pgnfeed consumes a long-lived streaming PGN endpoint, splitting
// the byte stream into individual game snapshots and delivering the ones
// that match a header filter.
package pgnfeed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// gameSeparator splits consecutive game snapshots inside the stream: one
// blank line ends the movetext, a second one precedes the next header block.
const gameSeparator = "\n\n\n"

const reconnectDelay = 1 * time.Second

var headerRe = regexp.MustCompile(`(?m)^\[(\w+)\s+"((?:[^"\\]|\\.)*)"\]`)

// Filter selects game snapshots by exact header values. A nil or empty
// filter matches every game.
type Filter map[string]string

// Matches reports whether a PGN snapshot's headers satisfy the filter.
func (f Filter) Matches(pgn string) bool {
	if len(f) == 0 {
		return true
	}
	headers := parseHeaders(pgn)
	for k, want := range f {
		if headers[k] != want {
			return false
		}
	}
	return true
}

func parseHeaders(pgn string) map[string]string {
	headers := map[string]string{}
	for _, m := range headerRe.FindAllStringSubmatch(pgn, -1) {
		headers[m[1]] = m[2]
	}
	return headers
}

func resultOf(pgn string) string {
	if r, ok := parseHeaders(pgn)["Result"]; ok && r != "" {
		return r
	}
	return "*"
}

// Feed follows one streaming PGN URL.
type Feed struct {
	url    string
	filter Filter
	client *http.Client
}

// New builds a feed for the given stream URL. A nil client uses
// http.DefaultClient.
func New(url string, filter Filter, client *http.Client) *Feed {
	if client == nil {
		client = http.DefaultClient
	}
	return &Feed{url: url, filter: filter, client: client}
}

// Subscribe opens the stream and returns a channel of matching game
// snapshots. Each value is the full PGN text of the game as last seen.
// The channel is closed when a matching snapshot carries a terminal
// Result, or when ctx is cancelled. Transport failures reconnect after a
// short delay; snapshots are only ever delivered whole.
func (f *Feed) Subscribe(ctx context.Context) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		for {
			finished, err := f.stream(ctx, out)
			if finished {
				return
			}
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("url", f.url).Msg("pgn stream interrupted, reconnecting")
			select {
			case <-time.After(reconnectDelay):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// stream runs one connection. It reports finished=true when a matching
// game reached a terminal result and the feed should end.
func (f *Feed) stream(ctx context.Context, out chan<- string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("stream %s: status %s", f.url, resp.Status)
	}

	// Buffer resets on every reconnect so a snapshot truncated by a
	// dropped connection is never emitted.
	var buf strings.Builder
	chunk := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			rest, finished := f.drain(ctx, &buf, out)
			if finished {
				return true, nil
			}
			buf.Reset()
			buf.WriteString(rest)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return false, fmt.Errorf("stream %s: connection closed", f.url)
			}
			return false, err
		}
	}
}

// drain emits every complete snapshot currently buffered and returns the
// unfinished remainder.
func (f *Feed) drain(ctx context.Context, buf *strings.Builder, out chan<- string) (string, bool) {
	text := buf.String()
	for {
		idx := strings.Index(text, gameSeparator)
		if idx < 0 {
			return text, false
		}
		snapshot := strings.TrimSpace(text[:idx])
		text = text[idx+len(gameSeparator):]
		if snapshot == "" || !f.filter.Matches(snapshot) {
			continue
		}
		select {
		case out <- snapshot:
		case <-ctx.Done():
			return text, true
		}
		if resultOf(snapshot) != "*" {
			log.Info().Str("url", f.url).Str("result", resultOf(snapshot)).Msg("game finished, closing feed")
			return text, true
		}
	}
}
