// Package transport abstracts the group-call system. The pipeline only ever
// sees it as a source and sink of raw 48 kHz stereo 16-bit PCM frames.
package transport

import (
	"context"
	"errors"
	"time"
)

// Frame is one decoded chunk of interleaved stereo 16-bit PCM at 48 kHz.
type Frame []int16

// Room identifies a voice call to join.
type Room struct {
	GuildID   string
	ChannelID string
}

// SpeakerStream is a live per-speaker audio stream. Frames is closed when
// the underlying connection is torn down; no frame arrives after that.
type SpeakerStream struct {
	SpeakerID string
	Frames    <-chan Frame
}

// Conn is an established voice connection.
type Conn interface {
	// Speakers emits a stream for each participant the first time audio
	// attributable to them arrives. The channel is closed on Close.
	Speakers() <-chan SpeakerStream
	// Play writes interleaved stereo 48 kHz PCM to the call, blocking until
	// the audio has been sent or ctx is cancelled.
	Play(ctx context.Context, pcm []int16) error
	Close() error
}

// Dialer establishes voice connections.
type Dialer interface {
	Connect(ctx context.Context, room Room) (Conn, error)
}

// Notifier delivers reply text to a text channel. It is the fallback path
// when synthesis fails and the primary path for transcribed replies.
type Notifier interface {
	SendText(channelID, text string) error
}

// ReadyTimeout bounds how long Connect waits for the connection to report
// ready before giving up.
const ReadyTimeout = 5 * time.Second

// ErrConnectTimeout is returned when a voice connection does not reach the
// ready state within ReadyTimeout.
var ErrConnectTimeout = errors.New("voice connection not ready within timeout")
