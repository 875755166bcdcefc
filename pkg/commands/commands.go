// Package commands dispatches the bridge-channel text commands that
// drive resync and mapping maintenance.
package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dotsetgreg/namesync/pkg/bus"
	"github.com/dotsetgreg/namesync/pkg/config"
	"github.com/dotsetgreg/namesync/pkg/identity"
	"github.com/dotsetgreg/namesync/pkg/logger"
	"github.com/dotsetgreg/namesync/pkg/resync"
)

const prefix = "!"

// ChannelRenamer renames the bridged group channel.
type ChannelRenamer interface {
	RenameChannel(ctx context.Context, channelID, name string) error
}

type Dispatcher struct {
	cfg     *config.Config
	store   *identity.Store
	syncer  *resync.Syncer
	renamer ChannelRenamer
	bus     *bus.MessageBus
}

func NewDispatcher(cfg *config.Config, store *identity.Store, syncer *resync.Syncer, renamer ChannelRenamer, messageBus *bus.MessageBus) *Dispatcher {
	return &Dispatcher{
		cfg:     cfg,
		store:   store,
		syncer:  syncer,
		renamer: renamer,
		bus:     messageBus,
	}
}

// Dispatch handles msg if it is a command. The return value tells the
// router whether the message was consumed.
func (d *Dispatcher) Dispatch(ctx context.Context, msg bus.InboundMessage) bool {
	content := strings.TrimSpace(msg.Content)
	if !strings.HasPrefix(content, prefix) {
		return false
	}

	fields := strings.Fields(content)
	switch fields[0] {
	case "!resync":
		d.handleResync(ctx, msg, fields[1:])
	case "!name":
		d.handleName(ctx, msg, fields[1:], content)
	case "!groupname":
		d.handleGroupName(ctx, msg, strings.TrimSpace(strings.TrimPrefix(content, "!groupname")))
	case "!help":
		d.reply(msg, helpText)
	default:
		return false
	}
	return true
}

const helpText = "Commands:\n" +
	"`!resync [count] [-reset]` — replay bridge history and reapply nicknames\n" +
	"`!name add <name> = <id>` — map a bridge name to a member id\n" +
	"`!name remove <name>` — drop a mapping\n" +
	"`!name list` — show all mappings\n" +
	"`!name reload` — re-read the mapping file\n" +
	"`!groupname <name>` — rename this channel"

func (d *Dispatcher) handleResync(ctx context.Context, msg bus.InboundMessage, args []string) {
	if !d.authorized(msg, d.cfg.Permissions.Resync, "resync") {
		return
	}

	count := d.cfg.Sync.DefaultResyncCount
	reset := false
	for _, arg := range args {
		if arg == "-reset" {
			reset = true
			continue
		}
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			d.reply(msg, fmt.Sprintf("Bad resync argument %q. Usage: `!resync [count] [-reset]`", arg))
			return
		}
		count = n
	}
	if count > d.cfg.Sync.MaxResyncMessages {
		d.reply(msg, fmt.Sprintf("Count capped at %d messages.", d.cfg.Sync.MaxResyncMessages))
		count = d.cfg.Sync.MaxResyncMessages
	}

	d.reply(msg, fmt.Sprintf("Resyncing the last %d messages...", count))

	// Runs on its own goroutine so live events keep flowing while the
	// paginated scan and paced apply are in flight.
	go func() {
		results, err := d.syncer.Run(ctx, count, reset)
		if err != nil {
			d.reply(msg, fmt.Sprintf("Resync failed: %v", err))
			return
		}
		d.reply(msg, "Resync done: "+results.String())
	}()
}

func (d *Dispatcher) handleName(ctx context.Context, msg bus.InboundMessage, args []string, raw string) {
	if !d.authorized(msg, d.cfg.Permissions.Mapping, "mapping") {
		return
	}
	if len(args) == 0 {
		d.reply(msg, "Usage: `!name add <name> = <id>` | `!name remove <name>` | `!name list` | `!name reload`")
		return
	}

	switch args[0] {
	case "add":
		d.handleNameAdd(msg, strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(strings.TrimPrefix(raw, "!name")), "add")))
	case "remove":
		d.handleNameRemove(msg, strings.Join(args[1:], " "))
	case "list":
		d.handleNameList(msg)
	case "reload":
		d.handleNameReload(msg)
	default:
		d.reply(msg, fmt.Sprintf("Unknown name command %q.", args[0]))
	}
}

func (d *Dispatcher) handleNameAdd(msg bus.InboundMessage, spec string) {
	name, idText, found := strings.Cut(spec, "=")
	name = strings.TrimSpace(name)
	idText = strings.TrimSpace(idText)
	if !found || name == "" || idText == "" {
		d.reply(msg, "Usage: `!name add <name> = <id>`")
		return
	}

	id, err := strconv.ParseUint(idText, 10, 64)
	if err != nil {
		d.reply(msg, fmt.Sprintf("%q is not a valid member id.", idText))
		return
	}

	added, err := d.store.Upsert(name, id)
	if err != nil {
		d.reply(msg, fmt.Sprintf("Mapping stored in memory but saving failed: %v", err))
		return
	}
	if added {
		d.reply(msg, fmt.Sprintf("Mapped %q to %d.", name, id))
	} else {
		d.reply(msg, fmt.Sprintf("Updated %q to %d.", name, id))
	}
}

func (d *Dispatcher) handleNameRemove(msg bus.InboundMessage, name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		d.reply(msg, "Usage: `!name remove <name>`")
		return
	}

	removed, err := d.store.Remove(name)
	if err != nil {
		d.reply(msg, fmt.Sprintf("Mapping removed in memory but saving failed: %v", err))
		return
	}
	if removed {
		d.reply(msg, fmt.Sprintf("Removed mapping for %q.", name))
	} else {
		d.reply(msg, fmt.Sprintf("No mapping for %q.", name))
	}
}

func (d *Dispatcher) handleNameList(msg bus.InboundMessage) {
	entries := d.store.Snapshot()
	if len(entries) == 0 {
		d.reply(msg, "No mappings.")
		return
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%d mappings:\n", len(entries)))
	for _, e := range entries {
		fmt.Fprintf(&b, "• %s → %d\n", e.Name, e.ID)
	}
	d.reply(msg, strings.TrimRight(b.String(), "\n"))
}

func (d *Dispatcher) handleNameReload(msg bus.InboundMessage) {
	if err := d.store.Reload(); err != nil {
		d.reply(msg, fmt.Sprintf("Reload failed: %v", err))
		return
	}
	d.reply(msg, fmt.Sprintf("Reloaded %d mappings.", d.store.Len()))
}

func (d *Dispatcher) handleGroupName(ctx context.Context, msg bus.InboundMessage, name string) {
	if !d.authorized(msg, d.cfg.Permissions.GroupRename, "group rename") {
		return
	}
	if name == "" {
		d.reply(msg, "Usage: `!groupname <name>`")
		return
	}

	if err := d.renamer.RenameChannel(ctx, msg.ChannelID, name); err != nil {
		d.reply(msg, fmt.Sprintf("Rename failed: %v", err))
		return
	}
	d.reply(msg, fmt.Sprintf("Channel renamed to %q.", name))
}

func (d *Dispatcher) authorized(msg bus.InboundMessage, perm config.PermissionConfig, action string) bool {
	if perm.Allows(msg.AuthorID, msg.RoleIDs) {
		return true
	}
	logger.WarnCF("commands", "Command rejected", map[string]interface{}{
		"action": action,
		"user":   msg.AuthorID,
	})
	d.reply(msg, "You are not allowed to do that.")
	return false
}

func (d *Dispatcher) reply(msg bus.InboundMessage, content string) {
	d.bus.PublishOutbound(bus.OutboundMessage{
		ChannelID: msg.ChannelID,
		Content:   content,
	})
}
