// Package gateway owns the Discord session: it feeds live bridge
// messages onto the bus and implements the history and rename
// collaborators the engine consumes.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/dotsetgreg/namesync/pkg/apply"
	"github.com/dotsetgreg/namesync/pkg/bus"
	"github.com/dotsetgreg/namesync/pkg/config"
	"github.com/dotsetgreg/namesync/pkg/logger"
	"github.com/dotsetgreg/namesync/pkg/reconcile"
)

const sendTimeout = 10 * time.Second

// UnknownTargetReaction marks bridge messages whose clear target cannot
// be determined and needs manual attention.
const UnknownTargetReaction = "❓"

type DiscordGateway struct {
	session *discordgo.Session
	config  config.DiscordConfig
	bus     *bus.MessageBus
	running bool
}

func NewDiscordGateway(cfg config.DiscordConfig, messageBus *bus.MessageBus) (*DiscordGateway, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent

	return &DiscordGateway{
		session: session,
		config:  cfg,
		bus:     messageBus,
	}, nil
}

func (g *DiscordGateway) Start(ctx context.Context) error {
	logger.InfoC("discord", "Starting Discord gateway")

	g.session.AddHandler(g.handleMessage)

	if err := g.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	g.running = true

	botUser, err := g.session.User("@me")
	if err != nil {
		return fmt.Errorf("failed to get bot user: %w", err)
	}
	logger.InfoCF("discord", "Discord gateway connected", map[string]interface{}{
		"username": botUser.Username,
		"user_id":  botUser.ID,
	})

	return nil
}

func (g *DiscordGateway) Stop(ctx context.Context) error {
	logger.InfoC("discord", "Stopping Discord gateway")
	g.running = false

	if err := g.session.Close(); err != nil {
		return fmt.Errorf("failed to close discord session: %w", err)
	}
	return nil
}

func (g *DiscordGateway) IsRunning() bool {
	return g.running
}

// handleMessage forwards bridge-channel messages onto the bus. The
// router drains the bus sequentially, so live events keep their
// arrival order.
func (g *DiscordGateway) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Author == nil {
		return
	}
	if m.Author.ID == s.State.User.ID {
		return
	}
	if m.ChannelID != g.config.BridgeChannelID {
		return
	}

	var roleIDs []string
	if m.Member != nil {
		roleIDs = m.Member.Roles
	}

	logger.DebugCF("discord", "Received message", map[string]interface{}{
		"author":  m.Author.Username,
		"preview": preview(m.Content, 50),
	})

	g.bus.PublishInbound(bus.InboundMessage{
		MessageID:  m.ID,
		ChannelID:  m.ChannelID,
		GuildID:    m.GuildID,
		AuthorID:   m.Author.ID,
		AuthorName: m.Author.Username,
		RoleIDs:    roleIDs,
		Content:    m.Content,
		Timestamp:  m.Timestamp,
	})
}

// FetchHistory implements reconcile.HistoryFetcher over paginated
// channel history, newest first.
func (g *DiscordGateway) FetchHistory(ctx context.Context, channelID, beforeID string, limit int) ([]reconcile.Message, error) {
	msgs, err := g.session.ChannelMessages(channelID, limit, beforeID, "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch channel messages: %w", err)
	}

	out := make([]reconcile.Message, 0, len(msgs))
	for _, m := range msgs {
		author := ""
		if m.Author != nil {
			author = m.Author.Username
		}
		out = append(out, reconcile.Message{
			ID:        m.ID,
			Author:    author,
			Text:      m.Content,
			Timestamp: m.Timestamp,
		})
	}
	return out, nil
}

// RenameUser implements apply.Platform. An empty nickname clears.
func (g *DiscordGateway) RenameUser(ctx context.Context, userID uint64, nickname string) apply.RenameResult {
	err := g.session.GuildMemberNickname(g.config.GuildID, formatID(userID), nickname, discordgo.WithContext(ctx))
	if err == nil {
		return apply.RenameResult{Status: apply.RenameOK}
	}

	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusForbidden {
		return apply.RenameResult{Status: apply.RenamePermissionDenied, Err: err}
	}
	return apply.RenameResult{Status: apply.RenameFailure, Err: err}
}

func (g *DiscordGateway) MemberExists(userID uint64) bool {
	uid := formatID(userID)
	if member, err := g.session.State.Member(g.config.GuildID, uid); err == nil && member != nil {
		return true
	}
	_, err := g.session.GuildMember(g.config.GuildID, uid)
	return err == nil
}

func (g *DiscordGateway) IsGuildOwner(userID uint64) bool {
	guild, err := g.session.State.Guild(g.config.GuildID)
	if err != nil || guild == nil || guild.OwnerID == "" {
		guild, err = g.session.Guild(g.config.GuildID)
		if err != nil {
			return false
		}
	}
	return guild.OwnerID == formatID(userID)
}

func (g *DiscordGateway) SendDirectMessage(ctx context.Context, userID uint64, text string) error {
	channel, err := g.session.UserChannelCreate(formatID(userID), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("create DM channel: %w", err)
	}
	if _, err := g.session.ChannelMessageSend(channel.ID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send DM: %w", err)
	}
	return nil
}

// RenameChannel renames the bridged group channel.
func (g *DiscordGateway) RenameChannel(ctx context.Context, channelID, name string) error {
	if _, err := g.session.ChannelEdit(channelID, &discordgo.ChannelEdit{Name: name}, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("rename channel: %w", err)
	}
	return nil
}

func (g *DiscordGateway) React(channelID, messageID, emoji string) error {
	return g.session.MessageReactionAdd(channelID, messageID, emoji)
}

// Send posts a reply, bounded by the usual send timeout.
func (g *DiscordGateway) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !g.running {
		return fmt.Errorf("discord gateway not running")
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	_, err := g.session.ChannelMessageSend(msg.ChannelID, msg.Content, discordgo.WithContext(sendCtx))
	if err != nil {
		return fmt.Errorf("failed to send discord message: %w", err)
	}
	return nil
}

func formatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
