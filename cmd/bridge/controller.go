package main

import (
	"context"

	"github.com/discord-ai-bridge/internal/session"
	"github.com/discord-ai-bridge/internal/transport"
	"github.com/discord-ai-bridge/internal/voice"
)

// controller implements the control-plane surface on top of the registry
// and pipeline.
type controller struct {
	registry *session.Registry
	pipeline *voice.Pipeline
}

func (c *controller) Join(ctx context.Context, speakerID, guildID, voiceChannelID, outputChannelID string) (string, error) {
	room := transport.Room{GuildID: guildID, ChannelID: voiceChannelID}
	// The conversation context follows the speaker so a replaced session
	// keeps its history.
	sess, err := c.registry.Join(ctx, speakerID, room, outputChannelID, "speaker:"+speakerID)
	if err != nil {
		return "", err
	}
	c.pipeline.BindSession(sess)
	return sess.ID, nil
}

func (c *controller) Leave(speakerID string) error {
	return c.registry.Leave(speakerID)
}

func (c *controller) Say(ctx context.Context, speakerID, text string) error {
	sess := c.registry.LookupBySpeaker(speakerID)
	if sess == nil {
		return session.ErrNoActiveSession
	}
	return c.pipeline.Say(ctx, sess, text)
}
