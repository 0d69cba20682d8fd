package voice

import (
	"context"
	"errors"
	"sync"

	"github.com/discord-ai-bridge/internal/logging"
	"github.com/discord-ai-bridge/internal/queue"
	"github.com/discord-ai-bridge/internal/session"
)

// Player renders one synthesized audio unit to a session's voice output.
type Player interface {
	Play(ctx context.Context, sess *session.VoiceSession, pcm []int16) error
}

// ConnPlayer plays through the session's transport connection.
type ConnPlayer struct{}

func (ConnPlayer) Play(ctx context.Context, sess *session.VoiceSession, pcm []int16) error {
	conn := sess.Conn()
	if conn == nil {
		return errors.New("session has no transport connection")
	}
	return conn.Play(ctx, pcm)
}

// sessionQueue is one session's playback resource, created lazily on first
// enqueue.
type sessionQueue struct {
	items   *queue.Queue[[]int16]
	playing bool
	cancel  context.CancelFunc
}

// PlaybackQueue serializes synthesized replies per session: strictly FIFO,
// never two items at once, the next item starting only when the player
// reports idle. Sessions play independently of each other.
type PlaybackQueue struct {
	player Player

	mu       sync.Mutex
	sessions map[string]*sessionQueue
}

func NewPlaybackQueue(player Player) *PlaybackQueue {
	return &PlaybackQueue{player: player, sessions: make(map[string]*sessionQueue)}
}

// Enqueue pushes pcm onto the session's FIFO and starts playing immediately
// if nothing is in flight.
func (p *PlaybackQueue) Enqueue(sess *session.VoiceSession, pcm []int16) {
	p.mu.Lock()
	sq := p.sessions[sess.ID]
	if sq == nil {
		sq = &sessionQueue{items: queue.New[[]int16]()}
		p.sessions[sess.ID] = sq
	}
	sq.items.Enqueue(pcm)
	start := !sq.playing
	if start {
		sq.playing = true
	}
	p.mu.Unlock()

	if start {
		go p.run(sess, sq)
	}
}

// run drains the session's queue one item at a time. Player completion or
// error is the idle event that admits the next item.
func (p *PlaybackQueue) run(sess *session.VoiceSession, sq *sessionQueue) {
	for {
		p.mu.Lock()
		item, ok := sq.items.Dequeue()
		if !ok {
			sq.playing = false
			sq.cancel = nil
			p.mu.Unlock()
			return
		}
		ctx, cancel := context.WithCancel(context.Background())
		sq.cancel = cancel
		p.mu.Unlock()

		if err := p.player.Play(ctx, sess, item); err != nil {
			logging.Warnw("playback: item failed", "session_id", sess.ID, "err", err)
		}
		cancel()
	}
}

// Stop clears the session's queue and halts any current playback.
func (p *PlaybackQueue) Stop(sess *session.VoiceSession) {
	p.mu.Lock()
	sq := p.sessions[sess.ID]
	if sq == nil {
		p.mu.Unlock()
		return
	}
	sq.items.Clear()
	cancel := sq.cancel
	delete(p.sessions, sess.ID)
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}
