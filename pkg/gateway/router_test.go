package gateway

import (
	"context"
	"testing"

	"github.com/dotsetgreg/namesync/pkg/apply"
	"github.com/dotsetgreg/namesync/pkg/bus"
	"github.com/dotsetgreg/namesync/pkg/commands"
	"github.com/dotsetgreg/namesync/pkg/config"
	"github.com/dotsetgreg/namesync/pkg/identity"
	"github.com/dotsetgreg/namesync/pkg/interpreter"
	"github.com/dotsetgreg/namesync/pkg/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memPersist struct {
	entries []identity.Entry
}

func (p *memPersist) Load() ([]identity.Entry, bool, error) {
	return append([]identity.Entry(nil), p.entries...), true, nil
}

func (p *memPersist) Save(entries []identity.Entry) error {
	p.entries = append([]identity.Entry(nil), entries...)
	return nil
}

type renameCall struct {
	id       uint64
	nickname string
}

type fakePlatform struct {
	renames []renameCall
}

func (p *fakePlatform) RenameUser(ctx context.Context, userID uint64, nickname string) apply.RenameResult {
	p.renames = append(p.renames, renameCall{id: userID, nickname: nickname})
	return apply.RenameResult{Status: apply.RenameOK}
}

func (p *fakePlatform) MemberExists(userID uint64) bool { return true }
func (p *fakePlatform) IsGuildOwner(userID uint64) bool { return false }
func (p *fakePlatform) SendDirectMessage(ctx context.Context, userID uint64, text string) error {
	return nil
}

type reaction struct {
	channelID string
	messageID string
	emoji     string
}

type fakeTransport struct {
	reactions      []reaction
	channelRenames []string
	sent           []bus.OutboundMessage
}

func (f *fakeTransport) React(channelID, messageID, emoji string) error {
	f.reactions = append(f.reactions, reaction{channelID, messageID, emoji})
	return nil
}

func (f *fakeTransport) RenameChannel(ctx context.Context, channelID, name string) error {
	f.channelRenames = append(f.channelRenames, name)
	return nil
}

func (f *fakeTransport) Send(ctx context.Context, msg bus.OutboundMessage) error {
	f.sent = append(f.sent, msg)
	return nil
}

type routerFixture struct {
	router    *Router
	platform  *fakePlatform
	transport *fakeTransport
	store     *identity.Store
}

func newRouterFixture(t *testing.T, entries []identity.Entry, behavior reconcile.ClearBehavior, renamePerm config.PermissionConfig) *routerFixture {
	t.Helper()

	store := identity.NewStore(&memPersist{entries: entries}, []string{"your"})
	require.NoError(t, store.Reload())

	platform := &fakePlatform{}
	transport := &fakeTransport{}
	engine := apply.NewEngine(store, platform, 0)
	mb := bus.NewMessageBus()
	t.Cleanup(mb.Close)

	router := NewRouter(mb, interpreter.New(), store, engine, behavior, nil, transport, renamePerm)
	return &routerFixture{router: router, platform: platform, transport: transport, store: store}
}

func liveMsg(content string) bus.InboundMessage {
	return bus.InboundMessage{
		MessageID: "m1",
		ChannelID: "bridge",
		AuthorID:  "500",
		Content:   content,
	}
}

func TestRouterAppliesSetEvent(t *testing.T) {
	fix := newRouterFixture(t, []identity.Entry{{Name: "John Smith", ID: 7}}, reconcile.DoNothing, config.PermissionConfig{})

	fix.router.handle(context.Background(), liveMsg("Anna set the nickname for John Smith to Johnny."))

	require.Len(t, fix.platform.renames, 1)
	assert.Equal(t, renameCall{id: 7, nickname: "Johnny"}, fix.platform.renames[0])
}

func TestRouterIgnoresChatter(t *testing.T) {
	fix := newRouterFixture(t, []identity.Entry{{Name: "John Smith", ID: 7}}, reconcile.ResetToFirstName, config.PermissionConfig{})

	fix.router.handle(context.Background(), liveMsg("good morning everyone"))

	assert.Empty(t, fix.platform.renames)
	assert.Empty(t, fix.transport.reactions)
}

func TestRouterReactsToUnresolvableClear(t *testing.T) {
	fix := newRouterFixture(t, []identity.Entry{{Name: "John Smith", ID: 7}}, reconcile.ResetToFirstName, config.PermissionConfig{})

	fix.router.handle(context.Background(), liveMsg("You cleared your own nickname."))

	assert.Empty(t, fix.platform.renames)
	require.Len(t, fix.transport.reactions, 1)
	assert.Equal(t, reaction{"bridge", "m1", UnknownTargetReaction}, fix.transport.reactions[0])
}

func TestRouterClearResetsToFirstName(t *testing.T) {
	fix := newRouterFixture(t, []identity.Entry{
		{Name: "your", ID: 7},
		{Name: "John Smith", ID: 7},
	}, reconcile.ResetToFirstName, config.PermissionConfig{})

	fix.router.handle(context.Background(), liveMsg("Anna cleared your nickname."))

	require.Len(t, fix.platform.renames, 1)
	assert.Equal(t, renameCall{id: 7, nickname: "John"}, fix.platform.renames[0])
}

func TestRouterClearDoNothing(t *testing.T) {
	fix := newRouterFixture(t, []identity.Entry{{Name: "John Smith", ID: 7}}, reconcile.DoNothing, config.PermissionConfig{})

	fix.router.handle(context.Background(), liveMsg("Anna cleared the nickname for John Smith."))

	assert.Empty(t, fix.platform.renames)
}

func TestRouterClearCompletely(t *testing.T) {
	fix := newRouterFixture(t, []identity.Entry{{Name: "John Smith", ID: 7}}, reconcile.ClearCompletely, config.PermissionConfig{})

	fix.router.handle(context.Background(), liveMsg("Anna cleared the nickname for John Smith."))

	require.Len(t, fix.platform.renames, 1)
	assert.Equal(t, renameCall{id: 7, nickname: ""}, fix.platform.renames[0])
}

func TestRouterGroupRenameAuthorized(t *testing.T) {
	fix := newRouterFixture(t, []identity.Entry{{Name: "Anna Lee", ID: 7}}, reconcile.DoNothing, config.PermissionConfig{Everyone: true})

	fix.router.handle(context.Background(), liveMsg("Anna Lee named the group Weekend Plans."))

	assert.Equal(t, []string{"Weekend Plans"}, fix.transport.channelRenames)
}

func TestRouterGroupRenameByMappedUser(t *testing.T) {
	perm := config.PermissionConfig{UserIDs: config.FlexibleStringSlice{"7"}}
	fix := newRouterFixture(t, []identity.Entry{{Name: "Anna Lee", ID: 7}}, reconcile.DoNothing, perm)

	fix.router.handle(context.Background(), liveMsg("Anna Lee named the group Weekend Plans."))

	assert.Equal(t, []string{"Weekend Plans"}, fix.transport.channelRenames)
}

func TestRouterGroupRenameUnauthorized(t *testing.T) {
	perm := config.PermissionConfig{UserIDs: config.FlexibleStringSlice{"999"}}
	fix := newRouterFixture(t, []identity.Entry{{Name: "Anna Lee", ID: 7}}, reconcile.DoNothing, perm)

	fix.router.handle(context.Background(), liveMsg("Anna Lee named the group Weekend Plans."))

	assert.Empty(t, fix.transport.channelRenames)
}

func TestRouterCommandsTakePrecedence(t *testing.T) {
	store := identity.NewStore(&memPersist{}, []string{"your"})
	require.NoError(t, store.Reload())

	platform := &fakePlatform{}
	transport := &fakeTransport{}
	engine := apply.NewEngine(store, platform, 0)
	mb := bus.NewMessageBus()
	t.Cleanup(mb.Close)

	cfg := config.DefaultConfig()
	cfg.Permissions.Mapping.Everyone = true
	dispatcher := commands.NewDispatcher(cfg, store, nil, nil, mb)

	router := NewRouter(mb, interpreter.New(), store, engine, reconcile.DoNothing, dispatcher, transport, config.PermissionConfig{})
	router.handle(context.Background(), liveMsg("!name list"))

	// The command produced a reply on the bus instead of reaching the
	// interpreter.
	ctx := context.Background()
	reply, ok := mb.SubscribeOutbound(ctx)
	require.True(t, ok)
	assert.Equal(t, "No mappings.", reply.Content)
	assert.Empty(t, platform.renames)
}
