package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/inboxd/internal/bus"
	"github.com/nextlevelbuilder/inboxd/internal/channels"
)

// envelopeFromMessage normalizes a Telegram message. The chat is the sender
// address (replies go to the chat); the user id is the allowlist subject.
// Service messages (joins, title changes) are skipped.
func envelopeFromMessage(m *telego.Message) (bus.Envelope, bool) {
	if m == nil || m.From == nil || m.From.IsBot {
		return bus.Envelope{}, false
	}

	msgType, content := classify(m)
	if content == "" {
		return bus.Envelope{}, false
	}

	userID := strconv.FormatInt(m.From.ID, 10)
	sender := userID
	if m.From.Username != "" {
		sender = userID + "|" + m.From.Username
	}

	meta := map[string]string{
		channels.MetaMessageID: strconv.Itoa(m.MessageID),
		channels.MetaUserID:    sender,
	}
	if name := strings.TrimSpace(m.From.FirstName + " " + m.From.LastName); name != "" {
		meta[channels.MetaUserName] = name
	}
	if m.Caption != "" {
		meta["caption"] = m.Caption
	}

	chatID := strconv.FormatInt(m.Chat.ID, 10)
	return bus.Envelope{
		// Message ids are only unique per chat.
		ExternalID:    fmt.Sprintf("tg:%s:%d", chatID, m.MessageID),
		SenderAddress: chatID,
		Type:          msgType,
		ContentRef:    content,
		ArrivalTime:   time.Unix(m.Date, 0),
		Metadata:      meta,
	}, true
}

// classify returns the envelope type and content; media content is the file id.
func classify(m *telego.Message) (string, string) {
	switch {
	case m.Text != "":
		return bus.TypeText, m.Text
	case len(m.Photo) > 0:
		return bus.TypeImage, m.Photo[len(m.Photo)-1].FileID // largest size last
	case m.Voice != nil:
		return bus.TypeAudio, m.Voice.FileID
	case m.Audio != nil:
		return bus.TypeAudio, m.Audio.FileID
	case m.Video != nil:
		return bus.TypeVideo, m.Video.FileID
	case m.Document != nil:
		return bus.TypeDocument, m.Document.FileID
	case m.Sticker != nil:
		return bus.TypeSticker, m.Sticker.FileID
	}
	return "", ""
}

// botIDFromToken returns the numeric bot id prefix of a token ("123:abc" → "123").
func botIDFromToken(token string) string {
	id, _, _ := strings.Cut(token, ":")
	return id
}

// chunkText splits s into pieces of at most limit bytes, preferring newline
// boundaries and never splitting a UTF-8 sequence.
func chunkText(s string, limit int) []string {
	if len(s) <= limit {
		return []string{s}
	}
	var chunks []string
	for len(s) > limit {
		cut := strings.LastIndex(s[:limit], "\n")
		if cut <= 0 {
			cut = limit
			for cut > 0 && !utf8RuneStart(s[cut]) {
				cut--
			}
		}
		chunks = append(chunks, s[:cut])
		s = strings.TrimPrefix(s[cut:], "\n")
	}
	if s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }
