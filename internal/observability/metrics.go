// Package observability exposes prometheus counters for the voice pipeline.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts pipeline work at each stage.
type Metrics struct {
	UtterancesFlushed     prometheus.Counter
	Transcriptions        prometheus.Counter
	TranscriptionErrors   prometheus.Counter
	HallucinationsDropped prometheus.Counter
	UnavailableDrops      prometheus.Counter
	Dispatches            prometheus.Counter
	SynthesisErrors       prometheus.Counter
	PlaybackItems         prometheus.Counter
}

// NewMetrics registers pipeline counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UtterancesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_utterances_flushed_total",
			Help: "Utterances emitted by the segmenter.",
		}),
		Transcriptions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_transcriptions_total",
			Help: "Successful STT transcriptions.",
		}),
		TranscriptionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_transcription_errors_total",
			Help: "STT requests that errored and were dropped.",
		}),
		HallucinationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_hallucinations_dropped_total",
			Help: "Transcripts discarded as decoding artifacts.",
		}),
		UnavailableDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_engine_unavailable_drops_total",
			Help: "Utterances or replies skipped while engines were down.",
		}),
		Dispatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_dispatches_total",
			Help: "Utterances dispatched to the conversation engine.",
		}),
		SynthesisErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_synthesis_errors_total",
			Help: "TTS failures where the reply fell back to text only.",
		}),
		PlaybackItems: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_playback_items_total",
			Help: "Synthesized items enqueued for playback.",
		}),
	}
	reg.MustRegister(
		m.UtterancesFlushed, m.Transcriptions, m.TranscriptionErrors,
		m.HallucinationsDropped, m.UnavailableDrops, m.Dispatches,
		m.SynthesisErrors, m.PlaybackItems,
	)
	return m
}
