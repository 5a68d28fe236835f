// Package catalog talks to the broadcast provider's REST API: tournament
// listings, round metadata and per-board state for live events.
package catalog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrUnavailable is returned when the provider cannot be reached or
// answers with a non-success status.
var ErrUnavailable = errors.New("catalog: provider unavailable")

// DefaultBaseURL is the public broadcast provider.
const DefaultBaseURL = "https://lichess.org"

// TourInfo is the tournament header shared by listing and detail replies.
type TourInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

// Round is one round of a tournament.
type Round struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	StartsAt  int64  `json:"startsAt"`
	Finished  bool   `json:"finished"`
	Ongoing   bool   `json:"ongoing"`
	CreatedAt int64  `json:"createdAt"`
}

// Tournament is a tournament with its rounds.
type Tournament struct {
	Tour   TourInfo `json:"tour"`
	Rounds []Round  `json:"rounds"`
}

// Player is one side of a board as the provider reports it. Every field
// beyond the name is optional.
type Player struct {
	Name   string `json:"name"`
	Title  string `json:"title,omitempty"`
	Rating *int   `json:"rating,omitempty"`
	FideID *int64 `json:"fideId,omitempty"`
	Fed    *string `json:"fed,omitempty"`
	// Clock is centiseconds remaining at the player's last move.
	Clock *int64 `json:"clock,omitempty"`
}

// BoardGame is one board of a round with its live state.
type BoardGame struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	FEN      string   `json:"fen"`
	Players  []Player `json:"players"`
	LastMove string   `json:"lastMove"`
	Status   string   `json:"status"`
}

// RoundBoards is the provider's round detail: metadata plus every board.
type RoundBoards struct {
	Round Round       `json:"round"`
	Tour  TourInfo    `json:"tour"`
	Games []BoardGame `json:"games"`
}

// Client is a broadcast provider API client.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a client for the given provider base URL. An empty base URL
// selects the public provider; a nil http client gets a sane timeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: GET %s: %s", ErrUnavailable, path, resp.Status)
	}
	return resp, nil
}

// ListTournaments fetches the official broadcast listing. The reply is
// newline-delimited JSON, one tournament per line.
func (c *Client) ListTournaments(ctx context.Context) ([]Tournament, error) {
	resp, err := c.get(ctx, "/api/broadcast")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out []Tournament
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var t Tournament
		if err := json.Unmarshal(line, &t); err != nil {
			log.Warn().Err(err).Msg("skipping malformed tournament line")
			continue
		}
		out = append(out, t)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out, nil
}

// GetTournament fetches one tournament with its rounds.
func (c *Client) GetTournament(ctx context.Context, tournamentID string) (*Tournament, error) {
	resp, err := c.get(ctx, "/api/broadcast/"+tournamentID)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var t Tournament
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return nil, fmt.Errorf("decode tournament %s: %w", tournamentID, err)
	}
	return &t, nil
}

// GetRoundBoards fetches one round's metadata and the live state of every
// board in it.
func (c *Client) GetRoundBoards(ctx context.Context, roundID string) (*RoundBoards, error) {
	resp, err := c.get(ctx, "/api/broadcast/-/-/"+roundID)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rb RoundBoards
	if err := json.NewDecoder(resp.Body).Decode(&rb); err != nil {
		return nil, fmt.Errorf("decode round %s: %w", roundID, err)
	}
	return &rb, nil
}

// FetchRoundPGNs downloads the round's current PGN and returns one string
// per game.
func (c *Client) FetchRoundPGNs(ctx context.Context, roundID string) ([]string, error) {
	resp, err := c.get(ctx, "/api/broadcast/round/"+roundID+".pgn")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return splitPGNs(resp.Body)
}

// StreamURL is the long-poll PGN stream for a round, suitable for pgnfeed.
func (c *Client) StreamURL(roundID string) string {
	return c.baseURL + "/api/stream/broadcast/round/" + roundID + ".pgn"
}
