package voice

import (
	"sync"
	"testing"
	"time"

	"github.com/discord-ai-bridge/internal/transport"
)

type utteranceCollector struct {
	mu   sync.Mutex
	got  []Utterance
	ch   chan Utterance
	once sync.Once
}

func newCollector() *utteranceCollector {
	return &utteranceCollector{ch: make(chan Utterance, 16)}
}

func (c *utteranceCollector) emit(u Utterance) {
	c.mu.Lock()
	c.got = append(c.got, u)
	c.mu.Unlock()
	c.ch <- u
}

func (c *utteranceCollector) wait(t *testing.T, d time.Duration) Utterance {
	t.Helper()
	select {
	case u := <-c.ch:
		return u
	case <-time.After(d):
		t.Fatal("timed out waiting for an utterance")
		return Utterance{}
	}
}

func (c *utteranceCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

func frameOf(n int, v int16) transport.Frame {
	f := make(transport.Frame, n)
	for i := range f {
		f[i] = v
	}
	return f
}

func TestSegmenterFlushesAfterSilence(t *testing.T) {
	col := newCollector()
	s := NewSegmenter(40*time.Millisecond, time.Second, 48000, 2, col.emit)
	defer s.Close()

	s.Append("alice", frameOf(960, 10))
	s.Append("alice", frameOf(960, 20))
	s.Append("alice", frameOf(960, 30))

	u := col.wait(t, time.Second)
	if u.SpeakerID != "alice" {
		t.Fatalf("speaker: want=alice got=%s", u.SpeakerID)
	}
	if len(u.PCM) != 3*960 {
		t.Fatalf("samples: want=%d got=%d", 3*960, len(u.PCM))
	}
	if u.CorrelationID == "" {
		t.Fatal("expected a correlation ID")
	}
	if u.PCM[0] != 10 || u.PCM[960] != 20 || u.PCM[2*960] != 30 {
		t.Fatal("chunks concatenated out of order")
	}

	time.Sleep(100 * time.Millisecond)
	if n := col.count(); n != 1 {
		t.Fatalf("expected exactly one flush, got %d", n)
	}
}

func TestSegmenterForceFlushBoundsContinuousSpeech(t *testing.T) {
	col := newCollector()
	// Silence window longer than the inter-frame gap, so only the force
	// timer can end the first utterance.
	s := NewSegmenter(200*time.Millisecond, 120*time.Millisecond, 48000, 2, col.emit)
	defer s.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 15; i++ {
			s.Append("bob", frameOf(960, int16(i)))
			time.Sleep(20 * time.Millisecond)
		}
	}()

	u := col.wait(t, time.Second)
	select {
	case <-done:
		t.Fatal("force flush should fire while frames are still arriving")
	default:
	}
	if len(u.PCM) == 0 || len(u.PCM) >= 15*960 {
		t.Fatalf("first utterance should hold a strict prefix of the stream, got %d samples", len(u.PCM))
	}
	<-done

	// The tail keeps accumulating and flushes on its own bound or silence.
	u2 := col.wait(t, time.Second)
	if u2.CorrelationID == u.CorrelationID {
		t.Fatal("each utterance should get a fresh correlation ID")
	}
}

func TestSegmenterStreamEndDiscardsPartialBuffer(t *testing.T) {
	col := newCollector()
	s := NewSegmenter(100*time.Millisecond, time.Second, 48000, 2, col.emit)
	defer s.Close()

	frames := make(chan transport.Frame, 4)
	s.Watch("carol", frames)
	frames <- frameOf(960, 1)
	frames <- frameOf(960, 2)
	close(frames)

	time.Sleep(300 * time.Millisecond)
	if n := col.count(); n != 0 {
		t.Fatalf("partial buffer should be discarded on stream end, got %d utterances", n)
	}
}

func TestSegmenterIgnoresEmptyFrames(t *testing.T) {
	col := newCollector()
	s := NewSegmenter(30*time.Millisecond, time.Second, 48000, 2, col.emit)
	defer s.Close()

	s.Append("dave", transport.Frame{})
	time.Sleep(120 * time.Millisecond)
	if n := col.count(); n != 0 {
		t.Fatalf("empty frames must not start an utterance, got %d", n)
	}
}

func TestSegmenterCloseStopsAppends(t *testing.T) {
	col := newCollector()
	s := NewSegmenter(20*time.Millisecond, time.Second, 48000, 2, col.emit)
	s.Append("erin", frameOf(960, 1))
	s.Close()
	s.Append("erin", frameOf(960, 2))

	time.Sleep(100 * time.Millisecond)
	if n := col.count(); n != 0 {
		t.Fatalf("no utterance should survive Close, got %d", n)
	}
}
