package voice

import (
	"context"
	"errors"
	"sync"

	"github.com/discord-ai-bridge/internal/audio"
	"github.com/discord-ai-bridge/internal/logging"
	"github.com/discord-ai-bridge/internal/observability"
	"github.com/discord-ai-bridge/internal/session"
	"github.com/discord-ai-bridge/internal/stt"
	"github.com/discord-ai-bridge/internal/transport"
)

// ErrEnginesUnavailable is returned when the availability gate is down and
// a synthesis request was skipped rather than queued.
var ErrEnginesUnavailable = errors.New("speech engines unavailable")

// Transcriber turns a WAV-framed utterance into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte, correlationID string) (string, error)
}

// Synthesizer renders reply text to audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, correlationID string) ([]byte, error)
}

// Responder is the conversation engine.
type Responder interface {
	Respond(ctx context.Context, contextRef, text string) (string, error)
}

// Availability reports whether the speech engines are usable right now.
type Availability interface {
	Available() bool
}

// Pipeline wires the capture side (segmenter output) through transcription,
// the wake gate and the conversation engine, and the reply side through
// synthesis into the playback queue.
//
// Every per-utterance failure is recovered locally: the unit of work is
// dropped and logged, the session continues. In-flight utterances are
// best-effort and unordered; playback is the only hard-ordered stage.
type Pipeline struct {
	prep     audio.STTPrep
	playRate int // synthesized reply sample rate the transcoder expects

	registry  *session.Registry
	segmenter *Segmenter
	gate      *WakeGate
	playback  *PlaybackQueue
	sttc      Transcriber
	ttsc      Synthesizer
	responder Responder
	avail     Availability
	notifier  transport.Notifier
	metrics   *observability.Metrics

	ownerMu      sync.Mutex
	streamOwners map[string]*session.VoiceSession // participants heard on a session's streams
}

// PipelineDeps collects the pipeline's collaborators.
type PipelineDeps struct {
	Prep      audio.STTPrep
	Registry  *session.Registry
	Gate      *WakeGate
	Playback  *PlaybackQueue
	STT       Transcriber
	TTS       Synthesizer
	Responder Responder
	Avail     Availability
	Notifier  transport.Notifier
	Metrics   *observability.Metrics
}

func NewPipeline(d PipelineDeps) *Pipeline {
	return &Pipeline{
		prep:      d.Prep,
		playRate:  24000,
		registry:  d.Registry,
		gate:      d.Gate,
		playback:  d.Playback,
		sttc:      d.STT,
		ttsc:      d.TTS,
		responder: d.Responder,
		avail:     d.Avail,
		notifier:  d.Notifier,
		metrics:   d.Metrics,

		streamOwners: make(map[string]*session.VoiceSession),
	}
}

// SetSegmenter attaches the segmenter whose utterances this pipeline
// consumes. Kept separate because the segmenter's emit callback is this
// pipeline's HandleUtterance.
func (p *Pipeline) SetSegmenter(s *Segmenter) { p.segmenter = s }

// BindSession starts watching the session's per-speaker streams. Returns
// once the connection's speaker channel closes.
func (p *Pipeline) BindSession(sess *session.VoiceSession) {
	conn := sess.Conn()
	if conn == nil {
		return
	}
	go func() {
		for stream := range conn.Speakers() {
			logging.Infow("pipeline: speaker stream started", "session_id", sess.ID, "speaker_id", stream.SpeakerID)
			p.adoptSpeaker(stream.SpeakerID, sess)
			p.segmenter.Watch(stream.SpeakerID, stream.Frames)
		}
	}()
}

// adoptSpeaker binds a participant heard on the session's streams to that
// session. The session owner and the people speaking in the room are not the
// same set: one shared session serves every participant of its call.
func (p *Pipeline) adoptSpeaker(speakerID string, sess *session.VoiceSession) {
	p.ownerMu.Lock()
	p.streamOwners[speakerID] = sess
	p.ownerMu.Unlock()
}

// sessionFor resolves the session an utterance belongs to: the speaker's own
// session first, then the session whose call the speaker was heard in.
func (p *Pipeline) sessionFor(speakerID string) *session.VoiceSession {
	if sess := p.registry.LookupBySpeaker(speakerID); sess != nil {
		return sess
	}
	p.ownerMu.Lock()
	defer p.ownerMu.Unlock()
	return p.streamOwners[speakerID]
}

// RegisterTeardown installs the synchronous session-teardown hooks: cancel
// the speaker's timers, discard its buffer, clear and halt its playback
// queue, reset the wake gate.
func (p *Pipeline) RegisterTeardown(r *session.Registry) {
	r.OnTeardown(func(s *session.VoiceSession) {
		p.ownerMu.Lock()
		var adopted []string
		for id, owner := range p.streamOwners {
			if owner == s {
				adopted = append(adopted, id)
				delete(p.streamOwners, id)
			}
		}
		p.ownerMu.Unlock()
		for _, id := range adopted {
			p.segmenter.StopSpeaker(id)
		}
		p.segmenter.StopSpeaker(s.SpeakerID)
		p.playback.Stop(s)
		p.gate.Reset(s.ID)
	})
}

// HandleUtterance processes one flushed utterance end to end. It runs on
// the segmenter's hand-off goroutine; utterances from the same speaker may
// be in flight concurrently with no completion-order guarantee.
func (p *Pipeline) HandleUtterance(u Utterance) {
	p.metrics.UtterancesFlushed.Inc()

	sess := p.sessionFor(u.SpeakerID)
	if sess == nil {
		logging.Debugw("pipeline: utterance for unknown speaker", "speaker_id", u.SpeakerID, "correlation_id", u.CorrelationID)
		return
	}
	if !p.avail.Available() {
		p.metrics.UnavailableDrops.Inc()
		logging.Debugw("pipeline: engines unavailable, dropping utterance", "correlation_id", u.CorrelationID)
		return
	}

	wav, ok := p.prep.PrepareForSTT(u.PCM)
	if !ok {
		logging.Debugw("pipeline: utterance gated out as silence or too short", "correlation_id", u.CorrelationID)
		return
	}

	ctx := context.Background()
	text, err := p.sttc.Transcribe(ctx, wav, u.CorrelationID)
	if err != nil {
		p.metrics.TranscriptionErrors.Inc()
		logging.Warnw("pipeline: transcription failed", "speaker_id", u.SpeakerID, "err", err, "correlation_id", u.CorrelationID)
		return
	}
	if text == "" {
		return
	}
	if stt.IsHallucination(text) {
		p.metrics.HallucinationsDropped.Inc()
		logging.Debugw("pipeline: hallucinated transcript dropped", "text", text, "correlation_id", u.CorrelationID)
		return
	}
	p.metrics.Transcriptions.Inc()
	logging.Infow("pipeline: transcript", "speaker_id", u.SpeakerID, "text", text, "correlation_id", u.CorrelationID)

	dispatch, ok := p.gate.Observe(sess.ID, sess.WakeWord, text)
	if !ok {
		return
	}
	p.metrics.Dispatches.Inc()

	reply, err := p.responder.Respond(ctx, sess.ContextRef, dispatch)
	if err != nil {
		logging.Warnw("pipeline: conversation engine failed", "err", err, "correlation_id", u.CorrelationID)
		return
	}
	if reply == "" {
		return
	}

	if p.notifier != nil {
		if err := p.notifier.SendText(sess.OutputChannelID, reply); err != nil {
			logging.Warnw("pipeline: text delivery failed", "channel_id", sess.OutputChannelID, "err", err, "correlation_id", u.CorrelationID)
		}
	}

	if !p.avail.Available() {
		p.metrics.UnavailableDrops.Inc()
		return
	}
	audioBytes, err := p.ttsc.Synthesize(ctx, reply, u.CorrelationID)
	if err != nil {
		// Reply already reached the text channel; playback is just skipped.
		p.metrics.SynthesisErrors.Inc()
		logging.Warnw("pipeline: synthesis failed", "err", err, "correlation_id", u.CorrelationID)
		return
	}

	pcm := p.preparePlayback(audioBytes)
	if len(pcm) == 0 {
		return
	}
	p.playback.Enqueue(sess, pcm)
	p.metrics.PlaybackItems.Inc()
}

// Say synthesizes text directly into a session's playback queue, bypassing
// the wake-word exchange. Used by the control plane.
func (p *Pipeline) Say(ctx context.Context, sess *session.VoiceSession, text string) error {
	if !p.avail.Available() {
		p.metrics.UnavailableDrops.Inc()
		return ErrEnginesUnavailable
	}
	audioBytes, err := p.ttsc.Synthesize(ctx, text, "")
	if err != nil {
		p.metrics.SynthesisErrors.Inc()
		return err
	}
	pcm := p.preparePlayback(audioBytes)
	if len(pcm) == 0 {
		return nil
	}
	p.playback.Enqueue(sess, pcm)
	p.metrics.PlaybackItems.Inc()
	return nil
}

// preparePlayback converts the synthesized reply (WAV-framed or raw mono
// PCM at the synthesis rate) into interleaved stereo 48 kHz.
func (p *Pipeline) preparePlayback(b []byte) []int16 {
	samples := audio.BytesToSamples(b)
	if pcm, rate, ch, err := audio.ParseWAV(b); err == nil {
		samples = audio.BytesToSamples(pcm)
		if ch == 2 {
			samples = audio.Downmix(samples)
		}
		if rate > p.playRate {
			samples = audio.Resample(samples, rate, p.playRate)
		}
	}
	return audio.UpsampleForPlayback(samples)
}
