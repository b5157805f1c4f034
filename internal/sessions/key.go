// Package sessions builds and parses conversation keys.
//
// A conversation key identifies the ordering domain of inbound messages:
//
//	{tenantChannelID}:{senderAddress}
//
// Examples:
//
//	t1:+100
//	wa-1093847561:+4915112345678
//	tg-bot-42:386246614
//
// Keys are recomputed from every envelope and never persisted.
package sessions

import (
	"strings"

	"github.com/nextlevelbuilder/inboxd/internal/bus"
)

// BuildConversationKey builds the key for a (tenant channel, sender) pair.
func BuildConversationKey(tenantChannelID, senderAddress string) string {
	return tenantChannelID + ":" + senderAddress
}

// ConversationKey derives the ordering key of an envelope.
func ConversationKey(env bus.Envelope) string {
	return BuildConversationKey(env.TenantChannelID, env.SenderAddress)
}

// ParseConversationKey splits a key back into its tenant channel and sender parts.
// Tenant channel ids never contain ':'; sender addresses may (e.g. "discord:123"),
// so the first separator wins. Returns ("", "") for malformed keys.
func ParseConversationKey(key string) (tenantChannelID, senderAddress string) {
	idx := strings.IndexByte(key, ':')
	if idx <= 0 || idx == len(key)-1 {
		return "", ""
	}
	return key[:idx], key[idx+1:]
}
