package bus

import "time"

// InboundMessage is one live message received from the bridge channel,
// queued for sequential processing by the event router.
type InboundMessage struct {
	MessageID  string
	ChannelID  string
	GuildID    string
	AuthorID   string
	AuthorName string
	RoleIDs    []string
	Content    string
	Timestamp  time.Time
}

// OutboundMessage is a reply to post back to a channel.
type OutboundMessage struct {
	ChannelID string
	Content   string
}
