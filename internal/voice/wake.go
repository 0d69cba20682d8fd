package voice

import (
	"strings"
	"sync"
)

// WakeGate decides whether a transcribed utterance is dispatched to the
// conversation engine. Each session is either idle (waiting for its wake
// word) or listening (wake word heard, awaiting the command).
//
// The protocol is strictly one exchange per wake word: after a single
// dispatch the session reverts to idle and the wake word must be spoken
// again.
type WakeGate struct {
	mu        sync.Mutex
	listening map[string]bool // session ID -> listening
}

func NewWakeGate() *WakeGate {
	return &WakeGate{listening: make(map[string]bool)}
}

// Observe runs one transcript through the session's gate. When ok is true,
// dispatch holds the text to send to the conversation engine.
//
// Idle: a case-insensitive substring match on the wake word either
// dispatches the remainder of the same utterance immediately (single-turn
// shortcut) or, with nothing after the match, arms the gate so the next
// utterance is dispatched whole.
func (g *WakeGate) Observe(sessionID, wakeWord, text string) (dispatch string, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.listening[sessionID] {
		delete(g.listening, sessionID)
		return strings.TrimSpace(text), true
	}

	if wakeWord == "" {
		return "", false
	}
	idx := strings.Index(strings.ToLower(text), strings.ToLower(wakeWord))
	if idx < 0 {
		return "", false
	}
	rest := strings.TrimLeft(text[idx+len(wakeWord):], " ,.!?;:-\"'`~")
	rest = strings.TrimSpace(rest)
	if rest != "" {
		return rest, true
	}
	g.listening[sessionID] = true
	return "", false
}

// IsListening reports whether the session's gate is armed.
func (g *WakeGate) IsListening(sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.listening[sessionID]
}

// Reset drops the session's gate state (part of session teardown).
func (g *WakeGate) Reset(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.listening, sessionID)
}
