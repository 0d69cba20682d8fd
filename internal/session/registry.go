// Package session owns the speaker -> voice session mapping and is the sole
// lifecycle authority for sessions.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/discord-ai-bridge/internal/events"
	"github.com/discord-ai-bridge/internal/logging"
	"github.com/discord-ai-bridge/internal/transport"
)

// ErrNoActiveSession is returned by Leave when the speaker has no session.
var ErrNoActiveSession = errors.New("no active voice session for speaker")

// State is the session's tagged state. Listening-phase state lives in the
// wake gate keyed by session ID, so there is no independent boolean to
// drift out of sync with this enum.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateErrored:
		return "errored"
	}
	return "unknown"
}

// VoiceSession binds one speaker's voice presence to an output channel and
// a conversation context.
type VoiceSession struct {
	ID              string
	SpeakerID       string
	Room            transport.Room
	OutputChannelID string
	ContextRef      string
	WakeWord        string
	StartedAt       time.Time

	mu    sync.Mutex
	state State
	conn  transport.Conn
}

// State returns the session's current lifecycle state.
func (s *VoiceSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *VoiceSession) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Conn returns the session's transport connection, nil after teardown.
func (s *VoiceSession) Conn() transport.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// CleanupFunc is invoked synchronously during session teardown, before the
// transport connection is closed.
type CleanupFunc func(s *VoiceSession)

// Registry maps speakers to their single active session.
type Registry struct {
	dialer   transport.Dialer
	bus      *events.Bus
	wakeWord string

	mu        sync.Mutex
	bySpeaker map[string]*VoiceSession
	byChannel map[string]*VoiceSession
	cleanups  []CleanupFunc
	joins     map[string]*sync.Mutex
}

func NewRegistry(dialer transport.Dialer, bus *events.Bus, wakeWord string) *Registry {
	return &Registry{
		dialer:    dialer,
		bus:       bus,
		wakeWord:  wakeWord,
		bySpeaker: make(map[string]*VoiceSession),
		byChannel: make(map[string]*VoiceSession),
		joins:     make(map[string]*sync.Mutex),
	}
}

// joinLock returns the mutex serializing joins for one speaker. The transport
// dial can take seconds, so the replace-check and the registration must stay
// atomic per speaker without holding r.mu across the dial.
func (r *Registry) joinLock(speakerID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.joins[speakerID]
	if l == nil {
		l = &sync.Mutex{}
		r.joins[speakerID] = l
	}
	return l
}

// OnTeardown registers a cleanup hook run synchronously whenever a session
// is destroyed. Hooks run in registration order.
func (r *Registry) OnTeardown(fn CleanupFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanups = append(r.cleanups, fn)
}

// Join creates a voice session for the speaker. An existing session for the
// same speaker is torn down first, so Join replaces rather than rejects.
// A connection that fails to become ready leaves no session registered.
// Concurrent joins for the same speaker are serialized; the later caller
// replaces the earlier session.
func (r *Registry) Join(ctx context.Context, speakerID string, room transport.Room, outputChannelID, contextRef string) (*VoiceSession, error) {
	lock := r.joinLock(speakerID)
	lock.Lock()
	defer lock.Unlock()

	if old := r.LookupBySpeaker(speakerID); old != nil {
		logging.Infow("session: replacing existing session", "speaker_id", speakerID, "session_id", old.ID)
		r.teardown(old, StateDisconnected, nil)
	}

	sess := &VoiceSession{
		ID:              uuid.NewString(),
		SpeakerID:       speakerID,
		Room:            room,
		OutputChannelID: outputChannelID,
		ContextRef:      contextRef,
		WakeWord:        r.wakeWord,
		StartedAt:       time.Now(),
		state:           StateConnecting,
	}

	conn, err := r.dialer.Connect(ctx, room)
	if err != nil {
		sess.setState(StateErrored)
		r.bus.Publish(events.Event{
			Kind:      events.ConnectionError,
			SessionID: sess.ID,
			SpeakerID: speakerID,
			RoomID:    room.ChannelID,
			Err:       err,
		})
		logging.Warnw("session: voice connect failed", "speaker_id", speakerID, "err", err)
		return nil, err
	}

	sess.mu.Lock()
	sess.conn = conn
	sess.state = StateConnected
	sess.mu.Unlock()

	r.mu.Lock()
	r.bySpeaker[speakerID] = sess
	r.byChannel[outputChannelID] = sess
	r.mu.Unlock()

	r.bus.Publish(events.Event{
		Kind:      events.SessionStarted,
		SessionID: sess.ID,
		SpeakerID: speakerID,
		RoomID:    room.ChannelID,
		ChannelID: outputChannelID,
	})
	logging.Infow("session: started", "session_id", sess.ID, "speaker_id", speakerID, "room", room.ChannelID)
	return sess, nil
}

// Leave tears down the speaker's session. ErrNoActiveSession when absent.
func (r *Registry) Leave(speakerID string) error {
	sess := r.LookupBySpeaker(speakerID)
	if sess == nil {
		return ErrNoActiveSession
	}
	r.teardown(sess, StateDisconnected, nil)
	return nil
}

// Fail tears down a session after a fatal transport error.
func (r *Registry) Fail(sess *VoiceSession, cause error) {
	r.teardown(sess, StateErrored, cause)
}

// LookupBySpeaker returns the speaker's active session, or nil.
func (r *Registry) LookupBySpeaker(speakerID string) *VoiceSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bySpeaker[speakerID]
}

// LookupByOutputChannel routes synthesized replies back to the session whose
// conversation produced them.
func (r *Registry) LookupByOutputChannel(channelID string) *VoiceSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byChannel[channelID]
}

// Sessions snapshots all active sessions.
func (r *Registry) Sessions() []*VoiceSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*VoiceSession, 0, len(r.bySpeaker))
	for _, s := range r.bySpeaker {
		out = append(out, s)
	}
	return out
}

// Close tears down every active session.
func (r *Registry) Close() {
	for _, s := range r.Sessions() {
		r.teardown(s, StateDisconnected, nil)
	}
}

// teardown removes the session from the maps, runs cleanup hooks
// synchronously (cancelling timers and discarding buffers/queues), closes
// the transport connection, and publishes SessionEnded. Idempotent.
func (r *Registry) teardown(sess *VoiceSession, final State, cause error) {
	r.mu.Lock()
	if r.bySpeaker[sess.SpeakerID] != sess {
		r.mu.Unlock()
		return
	}
	delete(r.bySpeaker, sess.SpeakerID)
	delete(r.byChannel, sess.OutputChannelID)
	hooks := make([]CleanupFunc, len(r.cleanups))
	copy(hooks, r.cleanups)
	r.mu.Unlock()

	for _, fn := range hooks {
		fn(sess)
	}

	sess.mu.Lock()
	conn := sess.conn
	sess.conn = nil
	sess.state = final
	sess.mu.Unlock()
	if conn != nil {
		if err := conn.Close(); err != nil {
			logging.Warnw("session: transport close error", "session_id", sess.ID, "err", err)
		}
	}

	r.bus.Publish(events.Event{
		Kind:      events.SessionEnded,
		SessionID: sess.ID,
		SpeakerID: sess.SpeakerID,
		RoomID:    sess.Room.ChannelID,
		ChannelID: sess.OutputChannelID,
		Err:       cause,
	})
	logging.Infow("session: ended", "session_id", sess.ID, "speaker_id", sess.SpeakerID, "state", final.String())
}
