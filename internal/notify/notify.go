// Package notify fans out typed JSON frames to subscribers. A subscriber
// watches one game and optionally one ply; frames carry an optional
// (game, ply) tag and are only delivered to subscribers whose watch
// matches.
package notify

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Subscriber receives frames. Send must not be called concurrently for
// the same subscriber; the notifier serializes dispatch.
type Subscriber interface {
	Send(Frame) error
}

type watch struct {
	gameID *int64
	ply    *int
}

// Notifier is the fan-out hub.
type Notifier struct {
	mu   sync.Mutex
	subs map[Subscriber]*watch

	// dispatchMu keeps frame order stable per subscriber: a full fanout
	// finishes before the next one starts.
	dispatchMu sync.Mutex
}

func New() *Notifier {
	return &Notifier{subs: map[Subscriber]*watch{}}
}

// Register adds a subscriber with no watch. Registering an existing
// subscriber is a no-op.
func (n *Notifier) Register(s Subscriber) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.subs[s]; !ok {
		n.subs[s] = &watch{}
	}
}

// Unregister removes a subscriber. Unknown subscribers are ignored.
func (n *Notifier) Unregister(s Subscriber) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.subs, s)
}

// NumSubscribers reports the current audience size.
func (n *Notifier) NumSubscribers() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

// SetWatch points a subscriber at a game (and optionally a ply within
// it). It reports whether the watched game changed, so the caller can
// send a fresh snapshot. Unknown subscribers report false.
func (n *Notifier) SetWatch(s Subscriber, gameID *int64, ply *int) (gameChanged bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	w, ok := n.subs[s]
	if !ok {
		return false
	}
	gameChanged = !sameID(w.gameID, gameID)
	w.gameID = gameID
	w.ply = ply
	return gameChanged
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Broadcast delivers a frame to every subscriber whose watch matches the
// tag: a nil gameID matches everyone, a set gameID only subscribers
// watching that game, and a set ply additionally only subscribers watching
// that ply. Subscribers whose Send fails are dropped.
func (n *Notifier) Broadcast(f Frame, gameID *int64, ply *int) {
	n.dispatchMu.Lock()
	defer n.dispatchMu.Unlock()

	n.mu.Lock()
	targets := make([]Subscriber, 0, len(n.subs))
	for s, w := range n.subs {
		if matches(w, gameID, ply) {
			targets = append(targets, s)
		}
	}
	n.mu.Unlock()

	for _, s := range targets {
		if err := s.Send(f); err != nil {
			log.Debug().Err(err).Msg("dropping unresponsive subscriber")
			n.Unregister(s)
		}
	}
}

func matches(w *watch, gameID *int64, ply *int) bool {
	if gameID == nil {
		return true
	}
	if w.gameID == nil || *w.gameID != *gameID {
		return false
	}
	if ply == nil {
		return true
	}
	return w.ply != nil && *w.ply == *ply
}

// SendTo delivers a frame to one subscriber, dropping it on failure.
func (n *Notifier) SendTo(s Subscriber, f Frame) {
	n.dispatchMu.Lock()
	defer n.dispatchMu.Unlock()
	if err := s.Send(f); err != nil {
		log.Debug().Err(err).Msg("dropping unresponsive subscriber")
		n.Unregister(s)
	}
}
