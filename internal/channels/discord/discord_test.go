package discord

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/inboxd/internal/bus"
	"github.com/nextlevelbuilder/inboxd/internal/channels"
)

func TestEnvelopeFromMessage(t *testing.T) {
	const bot = "999"
	user := &discordgo.User{ID: "42", Username: "ada", GlobalName: "Ada"}
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name        string
		msg         *discordgo.Message
		wantOK      bool
		wantType    string
		wantContent string
	}{
		{"dm text", &discordgo.Message{ID: "1", ChannelID: "c1", Author: user, Content: "hello", Timestamp: ts}, true, bus.TypeText, "hello"},
		{"guild without mention", &discordgo.Message{ID: "2", ChannelID: "c2", GuildID: "g", Author: user, Content: "hello"}, false, "", ""},
		{"guild mention stripped", &discordgo.Message{ID: "3", ChannelID: "c2", GuildID: "g", Author: user,
			Content: "<@999> where is my order?", Mentions: []*discordgo.User{{ID: bot}}}, true, bus.TypeText, "where is my order?"},
		{"attachment only", &discordgo.Message{ID: "4", ChannelID: "c1", Author: user,
			Attachments: []*discordgo.MessageAttachment{{URL: "https://cdn/x.png", ContentType: "image/png"}}}, true, bus.TypeImage, "https://cdn/x.png"},
		{"from bot", &discordgo.Message{ID: "5", ChannelID: "c1", Author: &discordgo.User{ID: "7", Bot: true}, Content: "x"}, false, "", ""},
		{"own message", &discordgo.Message{ID: "6", ChannelID: "c1", Author: &discordgo.User{ID: bot}, Content: "x"}, false, "", ""},
		{"empty", &discordgo.Message{ID: "7", ChannelID: "c1", Author: user}, false, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, ok := envelopeFromMessage(tt.msg, bot)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if env.Type != tt.wantType || env.ContentRef != tt.wantContent {
				t.Errorf("type/content = %q/%q, want %q/%q", env.Type, env.ContentRef, tt.wantType, tt.wantContent)
			}
			if env.ExternalID != "dc:"+tt.msg.ID || env.SenderAddress != tt.msg.ChannelID {
				t.Errorf("id/sender = %q/%q", env.ExternalID, env.SenderAddress)
			}
			if env.Meta(channels.MetaUserID) != "42" || env.Meta(channels.MetaUserName) != "Ada" {
				t.Errorf("meta = %v", env.Metadata)
			}
		})
	}
}

func TestSplitMessage(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		maxLen int
		want   int
	}{
		{"short", "hi", 10, 1},
		{"exact", strings.Repeat("x", 10), 10, 1},
		{"hard split", strings.Repeat("x", 25), 10, 3},
		{"newline split", strings.Repeat("a", 7) + "\n" + strings.Repeat("b", 7), 10, 2},
		{"multibyte under limit", strings.Repeat("€", 1000), 2000, 1},
		{"multibyte split", strings.Repeat("€", 25), 10, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitMessage(tt.in, tt.maxLen)
			if len(got) != tt.want {
				t.Errorf("splitMessage() = %d chunks %q, want %d", len(got), got, tt.want)
			}
			if strings.Join(got, "") != tt.in {
				t.Errorf("chunks do not reassemble the input")
			}
			for i, c := range got {
				if !utf8.ValidString(c) {
					t.Errorf("chunk %d is not valid UTF-8", i)
				}
				if n := utf8.RuneCountInString(c); n > tt.maxLen {
					t.Errorf("chunk %d has %d characters, want <= %d", i, n, tt.maxLen)
				}
			}
		})
	}
}
