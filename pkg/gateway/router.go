package gateway

import (
	"context"
	"strconv"

	"github.com/dotsetgreg/namesync/pkg/apply"
	"github.com/dotsetgreg/namesync/pkg/bus"
	"github.com/dotsetgreg/namesync/pkg/commands"
	"github.com/dotsetgreg/namesync/pkg/config"
	"github.com/dotsetgreg/namesync/pkg/identity"
	"github.com/dotsetgreg/namesync/pkg/interpreter"
	"github.com/dotsetgreg/namesync/pkg/logger"
	"github.com/dotsetgreg/namesync/pkg/reconcile"
)

// Transport is the slice of the gateway the router talks back through.
type Transport interface {
	React(channelID, messageID, emoji string) error
	RenameChannel(ctx context.Context, channelID, name string) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
}

// Router drains the bus and turns live bridge messages into nickname
// and channel changes. One message at a time, in arrival order.
type Router struct {
	bus        *bus.MessageBus
	interp     *interpreter.Interpreter
	store      *identity.Store
	engine     *apply.Engine
	behavior   reconcile.ClearBehavior
	dispatcher *commands.Dispatcher
	transport  Transport
	renamePerm config.PermissionConfig
}

func NewRouter(
	messageBus *bus.MessageBus,
	interp *interpreter.Interpreter,
	store *identity.Store,
	engine *apply.Engine,
	behavior reconcile.ClearBehavior,
	dispatcher *commands.Dispatcher,
	transport Transport,
	renamePerm config.PermissionConfig,
) *Router {
	return &Router{
		bus:        messageBus,
		interp:     interp,
		store:      store,
		engine:     engine,
		behavior:   behavior,
		dispatcher: dispatcher,
		transport:  transport,
		renamePerm: renamePerm,
	}
}

// Run consumes inbound messages until ctx is cancelled. Outbound
// replies are dispatched on a separate goroutine.
func (r *Router) Run(ctx context.Context) {
	go r.dispatchOutbound(ctx)

	logger.InfoC("router", "Event router started")
	for {
		msg, ok := r.bus.ConsumeInbound(ctx)
		if !ok {
			logger.InfoC("router", "Event router stopped")
			return
		}
		r.handle(ctx, msg)
	}
}

func (r *Router) handle(ctx context.Context, msg bus.InboundMessage) {
	if r.dispatcher != nil && r.dispatcher.Dispatch(ctx, msg) {
		return
	}

	ev, ok := r.interp.Interpret(msg.Content)
	if !ok {
		return
	}

	switch e := ev.(type) {
	case interpreter.SetNickname:
		nick := e.Nickname
		var res apply.Results
		r.engine.Apply(ctx, apply.Change{ExternalName: e.Target, Nickname: &nick}, &res)

	case interpreter.ClearNickname:
		if !e.TargetKnown {
			// Nobody can tell whose nickname this was; flag the
			// message for a human instead of guessing.
			if err := r.transport.React(msg.ChannelID, msg.MessageID, UnknownTargetReaction); err != nil {
				logger.WarnCF("router", "Failed to react to unresolvable clear", map[string]interface{}{
					"error": err.Error(),
				})
			}
			return
		}
		desired, shouldApply := reconcile.DesiredAfterClear(r.store, r.behavior, e.Target)
		if !shouldApply {
			return
		}
		var res apply.Results
		r.engine.Apply(ctx, apply.Change{ExternalName: e.Target, Nickname: desired}, &res)

	case interpreter.GroupRenamed:
		r.handleGroupRenamed(ctx, msg, e)
	}
}

// handleGroupRenamed mirrors a Messenger-side group rename onto the
// bridge channel. The authorization hook runs against the resolved
// initiator before the rename goes out.
func (r *Router) handleGroupRenamed(ctx context.Context, msg bus.InboundMessage, e interpreter.GroupRenamed) {
	initiatorID := ""
	if id, ok := r.store.Resolve(e.Initiator); ok {
		initiatorID = strconv.FormatUint(id, 10)
	}
	if !r.renamePerm.Allows(initiatorID, nil) {
		logger.InfoCF("router", "Group rename not authorized", map[string]interface{}{
			"initiator": e.Initiator,
		})
		return
	}

	if err := r.transport.RenameChannel(ctx, msg.ChannelID, e.NewName); err != nil {
		logger.ErrorCF("router", "Channel rename failed", map[string]interface{}{
			"name":  e.NewName,
			"error": err.Error(),
		})
		return
	}
	logger.InfoCF("router", "Channel renamed", map[string]interface{}{
		"name":      e.NewName,
		"initiator": e.Initiator,
	})
}

func (r *Router) dispatchOutbound(ctx context.Context) {
	for {
		msg, ok := r.bus.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		if err := r.transport.Send(ctx, msg); err != nil {
			logger.ErrorCF("router", "Error sending reply", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}
