// Package health gates the voice pipeline on the external speech engines'
// availability.
package health

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/discord-ai-bridge/internal/logging"
)

// Checker answers whether one engine is currently healthy.
type Checker interface {
	Healthy(ctx context.Context) bool
}

// Monitor polls the STT and TTS engines' health endpoints periodically and
// exposes the combined result as a single availability flag. When the flag
// is down the pipeline drops transcription and synthesis work instead of
// queueing it.
type Monitor struct {
	stt      Checker
	tts      Checker
	interval time.Duration

	sttUp atomic.Bool
	ttsUp atomic.Bool
}

func NewMonitor(stt, tts Checker, interval time.Duration) *Monitor {
	return &Monitor{stt: stt, tts: tts, interval: interval}
}

// Start polls until ctx is cancelled. The first check runs immediately so
// availability is known at startup.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		m.check(ctx)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.check(ctx)
			}
		}
	}()
}

func (m *Monitor) check(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	was := m.Available()
	m.sttUp.Store(m.stt.Healthy(cctx))
	m.ttsUp.Store(m.tts.Healthy(cctx))
	now := m.Available()
	if was != now {
		logging.Infow("health: engine availability changed", "available", now,
			"stt_up", m.sttUp.Load(), "tts_up", m.ttsUp.Load())
	}
}

// Available reports whether both engines are healthy.
func (m *Monitor) Available() bool {
	return m.sttUp.Load() && m.ttsUp.Load()
}
