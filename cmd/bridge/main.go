package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/discord-ai-bridge/internal/audio"
	"github.com/discord-ai-bridge/internal/config"
	"github.com/discord-ai-bridge/internal/events"
	"github.com/discord-ai-bridge/internal/health"
	"github.com/discord-ai-bridge/internal/ipc"
	"github.com/discord-ai-bridge/internal/logging"
	"github.com/discord-ai-bridge/internal/observability"
	"github.com/discord-ai-bridge/internal/session"
	"github.com/discord-ai-bridge/internal/stt"
	"github.com/discord-ai-bridge/internal/transport"
	"github.com/discord-ai-bridge/internal/tts"
	"github.com/discord-ai-bridge/internal/voice"
	"github.com/discord-ai-bridge/llm"
)

func main() {
	sugar := logging.Init()

	cfg, err := config.Load()
	if err != nil {
		sugar.Fatalf("config: %v", err)
	}

	dg, err := newDiscordSession(cfg.DiscordToken)
	if err != nil {
		sugar.Fatalf("discordgo.New: %v", err)
	}
	if err := dg.Open(); err != nil {
		sugar.Fatalf("discord session open failed: %v", err)
	}
	sugar.Infow("discord session opened")

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	sttClient := stt.NewClient(cfg.STTBaseURL, cfg.Language, time.Duration(cfg.STTTimeout)*time.Millisecond)
	ttsClient := tts.NewClient(cfg.TTSBaseURL, cfg.TTSVoice, cfg.TTSSpeed, time.Duration(cfg.TTSTimeout)*time.Millisecond)

	monitor := health.NewMonitor(sttClient, ttsClient, cfg.HealthPoll())
	monitor.Start(rootCtx)

	if cfg.TTSVoice != "" {
		logVoiceAvailability(rootCtx, ttsClient, cfg.TTSVoice)
	}

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	bus := events.NewBus()
	dialer := transport.NewDiscordDialer(dg)
	registry := session.NewRegistry(dialer, bus, cfg.WakeWord)

	responder := llm.NewClient(llm.Config{
		BaseURL:         cfg.OpenAIBaseURL,
		APIKey:          cfg.OpenAIKey,
		Model:           cfg.OpenAIModel,
		FallbackModel:   cfg.OpenAIFallbackModel,
		MaxHistoryTurns: cfg.MaxHistoryTurns,
	})

	pipeline := voice.NewPipeline(voice.PipelineDeps{
		Prep: audio.STTPrep{
			SourceRate:    cfg.SourceSampleRate,
			TargetRate:    cfg.STTSampleRate,
			TrimThreshold: cfg.SilenceTrimThreshold,
			MinSeconds:    cfg.MinUtteranceSeconds,
		},
		Registry:  registry,
		Gate:      voice.NewWakeGate(),
		Playback:  voice.NewPlaybackQueue(voice.ConnPlayer{}),
		STT:       sttClient,
		TTS:       ttsClient,
		Responder: responder,
		Avail:     monitor,
		Notifier:  transport.NewDiscordNotifier(dg),
		Metrics:   metrics,
	})
	segmenter := voice.NewSegmenter(cfg.SilenceEnd(), cfg.ForceFlush(), cfg.SourceSampleRate, 2, pipeline.HandleUtterance)
	pipeline.SetSegmenter(segmenter)
	pipeline.RegisterTeardown(registry)

	ctrl := &controller{registry: registry, pipeline: pipeline}
	ipcSrv := ipc.NewServer(cfg.IPCPort, ctrl, bus, reg)
	go func() {
		if err := ipcSrv.Start(); err != nil {
			sugar.Errorf("ipc server: %v", err)
		}
	}()

	// Optional auto-join for single-room deployments. Everyone heard on the
	// shared session's call is routed through it.
	if cfg.GuildID != "" && cfg.VoiceChannelID != "" {
		joinCtx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
		if _, err := ctrl.Join(joinCtx, "bridge", cfg.GuildID, cfg.VoiceChannelID, cfg.VoiceChannelID); err != nil {
			sugar.Warnf("auto-join failed: %v", err)
		}
		cancel()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	sugar.Infow("shutdown signal received")

	registry.Close()
	segmenter.Close()

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := ipcSrv.Shutdown(shutCtx); err != nil {
		sugar.Warnf("ipc shutdown: %v", err)
	}
	cancel()
	rootCancel()

	if err := dg.Close(); err != nil {
		sugar.Warnf("discord session close error: %v", err)
	}
	_ = sugar.Sync()
	sugar.Info("shutdown complete")
}

// newDiscordSession builds the gateway session with the intents voice needs:
// guilds plus voice-state updates. No privileged intents.
func newDiscordSession(token string) (*discordgo.Session, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	return dg, nil
}

// logVoiceAvailability looks the configured voice up in the engine's catalog
// so a missing model shows up at startup instead of on first synthesis.
func logVoiceAvailability(ctx context.Context, c *tts.Client, name string) {
	vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	voices, err := c.Voices(vctx)
	if err != nil {
		logging.Warnw("tts: voice catalog unavailable", "err", err)
		return
	}
	for _, v := range voices {
		if v.Name == name {
			logging.Infow("tts: configured voice", "voice", name, "available", v.Available, "sample_rate", v.SampleRate)
			return
		}
	}
	logging.Warnw("tts: configured voice not in catalog", "voice", name)
}
