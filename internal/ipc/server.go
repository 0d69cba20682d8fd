// Package ipc is the desktop shell's narrow control surface: a websocket
// feed of session lifecycle events, an MCP tool endpoint for driving the
// bridge, and health/metrics HTTP handlers. The GUI itself lives outside
// this process.
package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/discord-ai-bridge/internal/events"
	"github.com/discord-ai-bridge/internal/logging"
)

// Controller is the bridge surface the control plane drives.
type Controller interface {
	Join(ctx context.Context, speakerID, guildID, voiceChannelID, outputChannelID string) (sessionID string, err error)
	Leave(speakerID string) error
	Say(ctx context.Context, speakerID, text string) error
}

// Server hosts the control-plane HTTP listener.
type Server struct {
	ctrl     Controller
	bus      *events.Bus
	gatherer prometheus.Gatherer
	upgrader websocket.Upgrader
	mcpSrv   *mcp.Server
	httpSrv  *http.Server
}

func NewServer(port int, ctrl Controller, bus *events.Bus, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		ctrl:     ctrl,
		bus:      bus,
		gatherer: gatherer,
		upgrader: websocket.Upgrader{},
	}
	s.mcpSrv = mcp.NewServer(&mcp.Implementation{Name: "discord-ai-bridge", Version: "v0.1.0"}, nil)
	s.registerTools()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/events/ws", s.handleEventsWS)
	mux.HandleFunc("/mcp/ws", s.handleMCPWS)
	s.httpSrv = &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	return s
}

// Start serves until Shutdown. Blocks; run it on its own goroutine.
func (s *Server) Start() error {
	logging.Infow("ipc: listening", "addr", s.httpSrv.Addr)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// wireEvent is the JSON shape sent to event-feed subscribers.
type wireEvent struct {
	Kind      string `json:"kind"`
	SessionID string `json:"session_id,omitempty"`
	SpeakerID string `json:"speaker_id,omitempty"`
	RoomID    string `json:"room_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
	Error     string `json:"error,omitempty"`
	At        string `json:"at"`
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw("ipc: event feed upgrade failed", "err", err)
		return
	}
	sub, cancel := s.bus.Subscribe()
	defer cancel()
	defer conn.Close()

	// Drain reads so we notice the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			we := wireEvent{
				Kind:      ev.Kind.String(),
				SessionID: ev.SessionID,
				SpeakerID: ev.SpeakerID,
				RoomID:    ev.RoomID,
				ChannelID: ev.ChannelID,
				At:        ev.At.UTC().Format(time.RFC3339Nano),
			}
			if ev.Err != nil {
				we.Error = ev.Err.Error()
			}
			if err := conn.WriteJSON(we); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleMCPWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw("ipc: mcp upgrade failed", "err", err)
		return
	}
	t := newWebSocketTransport(conn)
	go func() {
		sess, err := s.mcpSrv.Connect(context.Background(), t, nil)
		if err != nil {
			logging.Warnw("ipc: mcp connect error", "err", err)
			return
		}
		if err := sess.Wait(); err != nil {
			logging.Debugw("ipc: mcp session ended with error", "err", err)
		}
	}()
}

type joinArgs struct {
	SpeakerID       string `json:"speaker_id" jsonschema:"user whose voice session to create"`
	GuildID         string `json:"guild_id" jsonschema:"guild hosting the voice channel"`
	VoiceChannelID  string `json:"voice_channel_id" jsonschema:"voice channel to join"`
	OutputChannelID string `json:"output_channel_id" jsonschema:"text channel replies are posted to"`
}

type joinResult struct {
	SessionID string `json:"session_id"`
}

type leaveArgs struct {
	SpeakerID string `json:"speaker_id" jsonschema:"user whose voice session to end"`
}

type sayArgs struct {
	SpeakerID string `json:"speaker_id" jsonschema:"session owner to speak to"`
	Text      string `json:"text" jsonschema:"text to synthesize and play"`
}

type emptyResult struct{}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpSrv, &mcp.Tool{
		Name:        "voice_join",
		Description: "Create (or replace) a voice session for a speaker.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in joinArgs) (*mcp.CallToolResult, joinResult, error) {
		id, err := s.ctrl.Join(ctx, in.SpeakerID, in.GuildID, in.VoiceChannelID, in.OutputChannelID)
		if err != nil {
			return nil, joinResult{}, err
		}
		return nil, joinResult{SessionID: id}, nil
	})

	mcp.AddTool(s.mcpSrv, &mcp.Tool{
		Name:        "voice_leave",
		Description: "End a speaker's voice session.",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in leaveArgs) (*mcp.CallToolResult, emptyResult, error) {
		if err := s.ctrl.Leave(in.SpeakerID); err != nil {
			return nil, emptyResult{}, err
		}
		return nil, emptyResult{}, nil
	})

	mcp.AddTool(s.mcpSrv, &mcp.Tool{
		Name:        "voice_say",
		Description: "Synthesize text and play it into a speaker's session.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in sayArgs) (*mcp.CallToolResult, emptyResult, error) {
		if err := s.ctrl.Say(ctx, in.SpeakerID, in.Text); err != nil {
			return nil, emptyResult{}, err
		}
		return nil, emptyResult{}, nil
	})
}
