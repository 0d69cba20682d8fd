package voice

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/discord-ai-bridge/internal/logging"
	"github.com/discord-ai-bridge/internal/transport"
)

// Utterance is one flushed unit of speech: the concatenated raw stereo PCM
// accumulated between endpoint decisions.
type Utterance struct {
	SpeakerID     string
	PCM           []int16 // interleaved stereo at the source rate
	Duration      time.Duration
	CorrelationID string
}

type bufState int

const (
	bufIdle bufState = iota
	bufAccumulating
	bufFlushing
)

// speakerBuffer accumulates raw frames for one speaker. The two timers are
// only ever touched under the segmenter lock, so timer callbacks and
// appends never mutate the buffer concurrently.
type speakerBuffer struct {
	chunks        [][]int16
	sampleCount   int
	firstPacket   time.Time
	lastPacket    time.Time
	silenceTimer  *time.Timer
	forceTimer    *time.Timer
	gen           uint64 // invalidates stale timer fires
	state         bufState
	correlationID string
}

// Segmenter turns live per-speaker frame streams into discrete utterances
// using dual-timer endpoint detection: a silence-end timer that fires on a
// natural pause, and a force-flush timer that bounds a single utterance
// from the first buffered frame.
type Segmenter struct {
	silenceEnd   time.Duration
	maxUtterance time.Duration
	sourceRate   int
	channels     int
	emit         func(Utterance)

	mu     sync.Mutex
	bufs   map[string]*speakerBuffer
	closed bool
}

func NewSegmenter(silenceEnd, maxUtterance time.Duration, sourceRate, channels int, emit func(Utterance)) *Segmenter {
	return &Segmenter{
		silenceEnd:   silenceEnd,
		maxUtterance: maxUtterance,
		sourceRate:   sourceRate,
		channels:     channels,
		emit:         emit,
		bufs:         make(map[string]*speakerBuffer),
	}
}

// Watch consumes a speaker's frame stream until it is closed. Stream end
// cancels the speaker's timers and discards any partial buffer without
// emitting an utterance.
func (s *Segmenter) Watch(speakerID string, frames <-chan transport.Frame) {
	go func() {
		for f := range frames {
			s.Append(speakerID, f)
		}
		s.StopSpeaker(speakerID)
	}()
}

// Append adds one raw frame to the speaker's buffer and reschedules both
// timers. The force-flush timer is anchored at the first buffered frame so
// continuous speech still flushes at the configured bound.
func (s *Segmenter) Append(speakerID string, frame transport.Frame) {
	if len(frame) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	now := time.Now()
	b := s.bufs[speakerID]
	if b == nil {
		b = &speakerBuffer{}
		s.bufs[speakerID] = b
	}
	if b.state == bufIdle {
		b.state = bufAccumulating
		b.firstPacket = now
		b.correlationID = uuid.NewString()
		logging.Debugw("segmenter: accumulating", "speaker_id", speakerID, "correlation_id", b.correlationID)
	}
	chunk := make([]int16, len(frame))
	copy(chunk, frame)
	b.chunks = append(b.chunks, chunk)
	b.sampleCount += len(chunk)
	b.lastPacket = now

	s.rescheduleLocked(speakerID, b, now)
}

// rescheduleLocked cancels and re-arms both timers. Callers hold s.mu.
func (s *Segmenter) rescheduleLocked(speakerID string, b *speakerBuffer, now time.Time) {
	s.cancelTimersLocked(b)
	gen := b.gen
	b.silenceTimer = time.AfterFunc(s.silenceEnd, func() {
		s.flush(speakerID, gen)
	})
	remaining := s.maxUtterance - now.Sub(b.firstPacket)
	if remaining < 0 {
		remaining = 0
	}
	b.forceTimer = time.AfterFunc(remaining, func() {
		s.flush(speakerID, gen)
	})
}

// cancelTimersLocked stops both timers and bumps the generation so any
// callback already fired but waiting on the lock becomes a no-op.
func (s *Segmenter) cancelTimersLocked(b *speakerBuffer) {
	b.gen++
	if b.silenceTimer != nil {
		b.silenceTimer.Stop()
		b.silenceTimer = nil
	}
	if b.forceTimer != nil {
		b.forceTimer.Stop()
		b.forceTimer = nil
	}
}

// flush concatenates the buffered chunks into one utterance, resets the
// buffer, and hands the utterance off asynchronously. A flush with an empty
// buffer is a no-op.
func (s *Segmenter) flush(speakerID string, gen uint64) {
	s.mu.Lock()
	b := s.bufs[speakerID]
	if b == nil || b.gen != gen || len(b.chunks) == 0 {
		s.mu.Unlock()
		return
	}
	b.state = bufFlushing
	s.cancelTimersLocked(b)

	pcm := make([]int16, 0, b.sampleCount)
	for _, c := range b.chunks {
		pcm = append(pcm, c...)
	}
	cid := b.correlationID
	b.chunks = nil
	b.sampleCount = 0
	b.firstPacket = time.Time{}
	b.lastPacket = time.Time{}
	b.correlationID = ""
	b.state = bufIdle
	s.mu.Unlock()

	dur := time.Duration(float64(len(pcm)) / float64(s.sourceRate*s.channels) * float64(time.Second))
	logging.Debugw("segmenter: flushed utterance", "speaker_id", speakerID, "duration", dur, "correlation_id", cid)

	// Asynchronous hand-off: new speech may begin accumulating immediately,
	// with no backpressure on the speaker.
	go s.emit(Utterance{SpeakerID: speakerID, PCM: pcm, Duration: dur, CorrelationID: cid})
}

// StopSpeaker synchronously cancels the speaker's timers and discards any
// partial buffer. Safe to call for speakers with no buffer.
func (s *Segmenter) StopSpeaker(speakerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bufs[speakerID]
	if b == nil {
		return
	}
	s.cancelTimersLocked(b)
	delete(s.bufs, speakerID)
}

// Close cancels every speaker's timers and drops all buffers.
func (s *Segmenter) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, b := range s.bufs {
		s.cancelTimersLocked(b)
		delete(s.bufs, id)
	}
}
