package catalog

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// splitPGNs splits a multi-game PGN document into individual games. A new
// game starts at a header line that follows movetext.
func splitPGNs(r io.Reader) ([]string, error) {
	var (
		games   []string
		current []string
		inMoves bool
	)
	flush := func() {
		text := strings.TrimSpace(strings.Join(current, "\n"))
		if text != "" {
			games = append(games, text)
		}
		current = current[:0]
		inMoves = false
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[") && inMoves {
			flush()
		}
		if trimmed != "" && !strings.HasPrefix(trimmed, "[") {
			inMoves = true
		}
		current = append(current, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read PGN: %w", err)
	}
	flush()
	return games, nil
}
