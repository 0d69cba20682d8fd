package main

import (
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestDiscordSessionIntents(t *testing.T) {
	dg, err := newDiscordSession("token")
	if err != nil {
		t.Fatalf("newDiscordSession: %v", err)
	}
	want := discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	if dg.Identify.Intents != want {
		t.Fatalf("intents: want=%d got=%d", want, dg.Identify.Intents)
	}
}
