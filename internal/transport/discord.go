package transport

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/hraban/opus"

	"github.com/discord-ai-bridge/internal/logging"
)

const (
	sampleRate    = 48000
	channels      = 2
	frameSamples  = 960 // 20 ms per channel at 48 kHz
	frameBufDepth = 64
)

// DiscordDialer joins Discord voice channels through an open gateway session.
type DiscordDialer struct {
	s *discordgo.Session
}

func NewDiscordDialer(s *discordgo.Session) *DiscordDialer {
	return &DiscordDialer{s: s}
}

// Connect joins the room's voice channel and waits for the connection to
// become ready. A connection that is not ready within ReadyTimeout is
// disconnected and ErrConnectTimeout returned.
func (d *DiscordDialer) Connect(ctx context.Context, room Room) (Conn, error) {
	type joinResult struct {
		vc  *discordgo.VoiceConnection
		err error
	}
	res := make(chan joinResult, 1)
	go func() {
		vc, err := d.s.ChannelVoiceJoin(room.GuildID, room.ChannelID, false, false)
		res <- joinResult{vc: vc, err: err}
	}()

	deadline := time.NewTimer(ReadyTimeout)
	defer deadline.Stop()

	select {
	case r := <-res:
		if r.err != nil {
			return nil, r.err
		}
		if !waitReady(r.vc, deadline.C) {
			_ = r.vc.Disconnect()
			return nil, ErrConnectTimeout
		}
		return newDiscordConn(r.vc), nil
	case <-deadline.C:
		// Join still in flight; disconnect whenever it lands.
		go func() {
			if r := <-res; r.err == nil && r.vc != nil {
				_ = r.vc.Disconnect()
			}
		}()
		return nil, ErrConnectTimeout
	case <-ctx.Done():
		go func() {
			if r := <-res; r.err == nil && r.vc != nil {
				_ = r.vc.Disconnect()
			}
		}()
		return nil, ctx.Err()
	}
}

func waitReady(vc *discordgo.VoiceConnection, deadline <-chan time.Time) bool {
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		vc.RLock()
		ready := vc.Ready
		vc.RUnlock()
		if ready {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-tick.C:
		}
	}
}

// pcmDecoder is the slice of the opus decoder the receive path needs.
type pcmDecoder interface {
	Decode(data []byte, pcm []int16) (int, error)
}

// discordConn demuxes the connection's opus stream into per-speaker PCM
// frame channels and encodes playback PCM back to opus.
//
// The receive goroutine is the only sender on speakers and the per-speaker
// stream channels, and it is also the goroutine that closes them (on loop
// exit), so teardown can never close a channel mid-send.
type discordConn struct {
	vc *discordgo.VoiceConnection

	mu       sync.Mutex
	ssrcUser map[uint32]string
	decoders map[uint32]pcmDecoder
	streams  map[string]chan Frame
	closed   bool

	speakers chan SpeakerStream
	done     chan struct{}

	newDecoder func() (pcmDecoder, error)

	playMu sync.Mutex // one Play at a time per connection
}

func newDiscordConn(vc *discordgo.VoiceConnection) *discordConn {
	c := &discordConn{
		vc:       vc,
		ssrcUser: make(map[uint32]string),
		decoders: make(map[uint32]pcmDecoder),
		streams:  make(map[string]chan Frame),
		speakers: make(chan SpeakerStream, 8),
		done:     make(chan struct{}),
		newDecoder: func() (pcmDecoder, error) {
			return opus.NewDecoder(sampleRate, channels)
		},
	}
	vc.AddHandler(func(_ *discordgo.VoiceConnection, su *discordgo.VoiceSpeakingUpdate) {
		c.mu.Lock()
		c.ssrcUser[uint32(su.SSRC)] = su.UserID
		c.mu.Unlock()
		logging.Debugw("transport: mapped SSRC to user", "ssrc", su.SSRC, "user_id", su.UserID)
	})
	go c.recvLoop()
	return c
}

func (c *discordConn) Speakers() <-chan SpeakerStream { return c.speakers }

func (c *discordConn) recvLoop() {
	defer c.closeStreams()
	for {
		select {
		case <-c.done:
			return
		case pkt, ok := <-c.vc.OpusRecv:
			if !ok {
				return
			}
			if pkt == nil {
				continue
			}
			c.handlePacket(pkt)
		}
	}
}

// closeStreams runs on the receive goroutine after the loop exits. Any
// in-flight handlePacket has finished by then, so closing here cannot race
// a send.
func (c *discordConn) closeStreams() {
	c.mu.Lock()
	streams := c.streams
	c.streams = make(map[string]chan Frame)
	c.mu.Unlock()
	for _, s := range streams {
		close(s)
	}
	close(c.speakers)
}

func (c *discordConn) handlePacket(pkt *discordgo.Packet) {
	ssrc := uint32(pkt.SSRC)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	uid := c.ssrcUser[ssrc]
	if uid == "" {
		// No speaking update yet; nothing to attribute the audio to.
		c.mu.Unlock()
		return
	}
	dec := c.decoders[ssrc]
	if dec == nil {
		d, err := c.newDecoder()
		if err != nil {
			c.mu.Unlock()
			logging.Errorw("transport: opus decoder init failed", "ssrc", ssrc, "err", err)
			return
		}
		dec = d
		c.decoders[ssrc] = dec
	}
	stream := c.streams[uid]
	var announce *SpeakerStream
	if stream == nil {
		stream = make(chan Frame, frameBufDepth)
		c.streams[uid] = stream
		announce = &SpeakerStream{SpeakerID: uid, Frames: stream}
	}
	c.mu.Unlock()

	if announce != nil {
		select {
		case c.speakers <- *announce:
		default:
			logging.Warnw("transport: speaker announce dropped", "user_id", uid)
		}
	}

	pcm := make([]int16, frameSamples*channels)
	n, err := dec.Decode(pkt.Opus, pcm)
	if err != nil {
		logging.Errorw("transport: opus decode error", "ssrc", ssrc, "err", err)
		return
	}
	select {
	case stream <- Frame(pcm[:n*channels]):
	default:
		// Consumer lagging; dropping beats blocking the receive loop.
	}
}

// Play opus-encodes pcm in 20 ms frames and sends them paced onto the voice
// connection. It returns early when ctx is cancelled.
func (c *discordConn) Play(ctx context.Context, pcm []int16) error {
	c.playMu.Lock()
	defer c.playMu.Unlock()

	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return err
	}
	if err := c.vc.Speaking(true); err != nil {
		logging.Warnw("transport: speaking(true) failed", "err", err)
	}
	defer func() { _ = c.vc.Speaking(false) }()

	buf := make([]byte, 4000)
	step := frameSamples * channels
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for off := 0; off < len(pcm); off += step {
		end := off + step
		frame := make([]int16, step)
		if end > len(pcm) {
			copy(frame, pcm[off:])
		} else {
			copy(frame, pcm[off:end])
		}
		n, err := enc.Encode(frame, buf)
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case <-ticker.C:
		}
		select {
		case c.vc.OpusSend <- append([]byte(nil), buf[:n]...):
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		}
	}
	return nil
}

// Close is idempotent. It stops the receive loop, which closes the speaker
// channels on its way out.
func (c *discordConn) Close() error {
	if !c.shutdown() {
		return nil
	}
	return c.vc.Disconnect()
}

func (c *discordConn) shutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.done)
	return true
}

// DiscordNotifier posts reply text to a Discord text channel.
type DiscordNotifier struct {
	s *discordgo.Session
}

func NewDiscordNotifier(s *discordgo.Session) *DiscordNotifier {
	return &DiscordNotifier{s: s}
}

func (n *DiscordNotifier) SendText(channelID, text string) error {
	_, err := n.s.ChannelMessageSend(channelID, text)
	return err
}
