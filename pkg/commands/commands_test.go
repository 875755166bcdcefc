package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/dotsetgreg/namesync/pkg/apply"
	"github.com/dotsetgreg/namesync/pkg/bus"
	"github.com/dotsetgreg/namesync/pkg/config"
	"github.com/dotsetgreg/namesync/pkg/identity"
	"github.com/dotsetgreg/namesync/pkg/interpreter"
	"github.com/dotsetgreg/namesync/pkg/reconcile"
	"github.com/dotsetgreg/namesync/pkg/resync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memPersist struct {
	entries []identity.Entry
	saveErr error
}

func (p *memPersist) Load() ([]identity.Entry, bool, error) {
	return append([]identity.Entry(nil), p.entries...), true, nil
}

func (p *memPersist) Save(entries []identity.Entry) error {
	if p.saveErr != nil {
		return p.saveErr
	}
	p.entries = append([]identity.Entry(nil), entries...)
	return nil
}

func newStore(t *testing.T, persist *memPersist) *identity.Store {
	t.Helper()
	store := identity.NewStore(persist, []string{"your"})
	require.NoError(t, store.Reload())
	return store
}

type emptyFetcher struct{}

func (emptyFetcher) FetchHistory(ctx context.Context, channelID, beforeID string, limit int) ([]reconcile.Message, error) {
	return nil, nil
}

type quietPlatform struct{}

func (quietPlatform) RenameUser(ctx context.Context, userID uint64, nickname string) apply.RenameResult {
	return apply.RenameResult{Status: apply.RenameOK}
}
func (quietPlatform) MemberExists(userID uint64) bool                                  { return true }
func (quietPlatform) IsGuildOwner(userID uint64) bool                                  { return false }
func (quietPlatform) SendDirectMessage(ctx context.Context, id uint64, s string) error { return nil }

type fakeRenamer struct {
	channelID string
	name      string
	err       error
}

func (f *fakeRenamer) RenameChannel(ctx context.Context, channelID, name string) error {
	f.channelID = channelID
	f.name = name
	return f.err
}

func permissiveConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Permissions.Resync.Everyone = true
	cfg.Permissions.Mapping.Everyone = true
	cfg.Permissions.GroupRename.Everyone = true
	return cfg
}

func newDispatcher(t *testing.T, cfg *config.Config, store *identity.Store, renamer ChannelRenamer) (*Dispatcher, *bus.MessageBus) {
	t.Helper()
	mb := bus.NewMessageBus()
	t.Cleanup(mb.Close)

	rec := reconcile.NewReconciler(interpreter.New(), store, emptyFetcher{}, reconcile.DoNothing)
	engine := apply.NewEngine(store, quietPlatform{}, 0)
	syncer := resync.NewSyncer(rec, engine, "bridge")

	return NewDispatcher(cfg, store, syncer, renamer, mb), mb
}

func inbound(content string) bus.InboundMessage {
	return bus.InboundMessage{
		MessageID: "m1",
		ChannelID: "bridge",
		AuthorID:  "42",
		Content:   content,
	}
}

// nextReply waits for the next outbound message, failing the test if
// nothing arrives.
func nextReply(t *testing.T, mb *bus.MessageBus) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, ok := mb.SubscribeOutbound(ctx)
	require.True(t, ok, "expected a reply")
	return msg.Content
}

func TestDispatchIgnoresPlainMessages(t *testing.T) {
	d, _ := newDispatcher(t, permissiveConfig(), newStore(t, &memPersist{}), nil)

	assert.False(t, d.Dispatch(context.Background(), inbound("hello there")))
	assert.False(t, d.Dispatch(context.Background(), inbound("!bogus command")))
}

func TestHelp(t *testing.T) {
	d, mb := newDispatcher(t, permissiveConfig(), newStore(t, &memPersist{}), nil)

	assert.True(t, d.Dispatch(context.Background(), inbound("!help")))
	assert.Contains(t, nextReply(t, mb), "!resync")
}

func TestResyncUnauthorized(t *testing.T) {
	cfg := permissiveConfig()
	cfg.Permissions.Resync = config.PermissionConfig{UserIDs: config.FlexibleStringSlice{"99"}}
	d, mb := newDispatcher(t, cfg, newStore(t, &memPersist{}), nil)

	assert.True(t, d.Dispatch(context.Background(), inbound("!resync")))
	assert.Equal(t, "You are not allowed to do that.", nextReply(t, mb))
}

func TestResyncBadArgument(t *testing.T) {
	d, mb := newDispatcher(t, permissiveConfig(), newStore(t, &memPersist{}), nil)

	assert.True(t, d.Dispatch(context.Background(), inbound("!resync nope")))
	assert.Contains(t, nextReply(t, mb), "Bad resync argument")
}

func TestResyncRunsAndReportsSummary(t *testing.T) {
	cfg := permissiveConfig()
	d, mb := newDispatcher(t, cfg, newStore(t, &memPersist{}), nil)

	assert.True(t, d.Dispatch(context.Background(), inbound("!resync 50")))
	assert.Equal(t, "Resyncing the last 50 messages...", nextReply(t, mb))
	assert.Contains(t, nextReply(t, mb), "Resync done:")
}

func TestResyncCapsCount(t *testing.T) {
	cfg := permissiveConfig()
	cfg.Sync.MaxResyncMessages = 200
	d, mb := newDispatcher(t, cfg, newStore(t, &memPersist{}), nil)

	assert.True(t, d.Dispatch(context.Background(), inbound("!resync 5000")))
	assert.Equal(t, "Count capped at 200 messages.", nextReply(t, mb))
	assert.Equal(t, "Resyncing the last 200 messages...", nextReply(t, mb))
}

func TestNameAdd(t *testing.T) {
	persist := &memPersist{}
	store := newStore(t, persist)
	d, mb := newDispatcher(t, permissiveConfig(), store, nil)

	assert.True(t, d.Dispatch(context.Background(), inbound("!name add Jane Doe = 123456789")))
	assert.Equal(t, `Mapped "Jane Doe" to 123456789.`, nextReply(t, mb))

	id, ok := store.Resolve("Jane Doe")
	require.True(t, ok)
	assert.Equal(t, uint64(123456789), id)

	// Second add with a different id updates in place.
	assert.True(t, d.Dispatch(context.Background(), inbound("!name add Jane Doe = 987654321")))
	assert.Equal(t, `Updated "Jane Doe" to 987654321.`, nextReply(t, mb))
}

func TestNameAddBadID(t *testing.T) {
	d, mb := newDispatcher(t, permissiveConfig(), newStore(t, &memPersist{}), nil)

	assert.True(t, d.Dispatch(context.Background(), inbound("!name add Jane Doe = banana")))
	assert.Contains(t, nextReply(t, mb), "not a valid member id")
}

func TestNameAddSaveFailureStillWarns(t *testing.T) {
	persist := &memPersist{saveErr: errors.New("disk full")}
	store := newStore(t, persist)
	d, mb := newDispatcher(t, permissiveConfig(), store, nil)

	assert.True(t, d.Dispatch(context.Background(), inbound("!name add Jane Doe = 1")))
	reply := nextReply(t, mb)
	assert.Contains(t, reply, "saving failed")

	// The in-memory mapping is still live.
	_, ok := store.Resolve("Jane Doe")
	assert.True(t, ok)
}

func TestNameRemove(t *testing.T) {
	persist := &memPersist{entries: []identity.Entry{{Name: "Jane Doe", ID: 1}}}
	store := newStore(t, persist)
	d, mb := newDispatcher(t, permissiveConfig(), store, nil)

	assert.True(t, d.Dispatch(context.Background(), inbound("!name remove Jane Doe")))
	assert.Equal(t, `Removed mapping for "Jane Doe".`, nextReply(t, mb))

	assert.True(t, d.Dispatch(context.Background(), inbound("!name remove Jane Doe")))
	assert.Equal(t, `No mapping for "Jane Doe".`, nextReply(t, mb))
}

func TestNameList(t *testing.T) {
	persist := &memPersist{entries: []identity.Entry{
		{Name: "Jane Doe", ID: 1},
		{Name: "John Smith", ID: 2},
	}}
	d, mb := newDispatcher(t, permissiveConfig(), newStore(t, persist), nil)

	assert.True(t, d.Dispatch(context.Background(), inbound("!name list")))
	reply := nextReply(t, mb)
	assert.True(t, strings.HasPrefix(reply, "2 mappings:"), reply)
	assert.Contains(t, reply, "Jane Doe → 1")
	assert.Contains(t, reply, "John Smith → 2")
}

func TestNameReload(t *testing.T) {
	persist := &memPersist{entries: []identity.Entry{{Name: "Jane Doe", ID: 1}}}
	store := newStore(t, persist)
	d, mb := newDispatcher(t, permissiveConfig(), store, nil)

	persist.entries = append(persist.entries, identity.Entry{Name: "John Smith", ID: 2})

	assert.True(t, d.Dispatch(context.Background(), inbound("!name reload")))
	assert.Equal(t, "Reloaded 2 mappings.", nextReply(t, mb))
}

func TestNameUnauthorized(t *testing.T) {
	cfg := permissiveConfig()
	cfg.Permissions.Mapping = config.PermissionConfig{}
	d, mb := newDispatcher(t, cfg, newStore(t, &memPersist{}), nil)

	assert.True(t, d.Dispatch(context.Background(), inbound("!name list")))
	assert.Equal(t, "You are not allowed to do that.", nextReply(t, mb))
}

func TestGroupName(t *testing.T) {
	renamer := &fakeRenamer{}
	d, mb := newDispatcher(t, permissiveConfig(), newStore(t, &memPersist{}), renamer)

	assert.True(t, d.Dispatch(context.Background(), inbound("!groupname Weekend Plans")))
	assert.Equal(t, `Channel renamed to "Weekend Plans".`, nextReply(t, mb))
	assert.Equal(t, "bridge", renamer.channelID)
	assert.Equal(t, "Weekend Plans", renamer.name)
}

func TestGroupNameFailure(t *testing.T) {
	renamer := &fakeRenamer{err: fmt.Errorf("no permission")}
	d, mb := newDispatcher(t, permissiveConfig(), newStore(t, &memPersist{}), renamer)

	assert.True(t, d.Dispatch(context.Background(), inbound("!groupname X")))
	assert.Contains(t, nextReply(t, mb), "Rename failed")
}

func TestGroupNameMissingArgument(t *testing.T) {
	d, mb := newDispatcher(t, permissiveConfig(), newStore(t, &memPersist{}), &fakeRenamer{})

	assert.True(t, d.Dispatch(context.Background(), inbound("!groupname")))
	assert.Contains(t, nextReply(t, mb), "Usage:")
}
