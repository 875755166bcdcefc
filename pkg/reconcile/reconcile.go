// Package reconcile replays a window of bridge-channel history and
// computes the most recent desired nickname per mapped account.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/dotsetgreg/namesync/pkg/identity"
	"github.com/dotsetgreg/namesync/pkg/interpreter"
	"github.com/dotsetgreg/namesync/pkg/logger"
)

// ClearBehavior decides what a "nickname cleared" event turns into.
type ClearBehavior int

const (
	// DoNothing skips clear events entirely.
	DoNothing ClearBehavior = iota
	// ClearCompletely removes the nickname.
	ClearCompletely
	// ResetToFirstName sets the nickname to the first name of the
	// account's preferred mapped name. The event's own target text is
	// not usable here: it may be the bridge sentinel "your".
	ResetToFirstName
)

func ParseClearBehavior(s string) (ClearBehavior, error) {
	switch s {
	case "do_nothing":
		return DoNothing, nil
	case "clear":
		return ClearCompletely, nil
	case "reset_to_first_name":
		return ResetToFirstName, nil
	}
	return DoNothing, fmt.Errorf("unknown clear behavior %q", s)
}

// Message is one historical bridge-channel message.
type Message struct {
	ID        string
	Author    string
	Text      string
	Timestamp time.Time
}

// HistoryFetcher pages through channel history newest-first. beforeID
// is empty on the first page.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, channelID, beforeID string, limit int) ([]Message, error)
}

// Change is the latest desired nickname for one account. A nil
// Nickname means "clear". ExternalName is the name text from the
// winning event, which is what the apply pass resolves again.
type Change struct {
	ExternalName string
	Nickname     *string
	Timestamp    time.Time
}

const (
	// Discord caps history pages at 100 messages.
	pageSize = 100
	// MaxMessages bounds one scan so pagination cannot run away.
	MaxMessages = 10000
)

type Reconciler struct {
	interp   *interpreter.Interpreter
	store    *identity.Store
	fetcher  HistoryFetcher
	behavior ClearBehavior
}

func NewReconciler(interp *interpreter.Interpreter, store *identity.Store, fetcher HistoryFetcher, behavior ClearBehavior) *Reconciler {
	return &Reconciler{
		interp:   interp,
		store:    store,
		fetcher:  fetcher,
		behavior: behavior,
	}
}

// Scan walks up to count messages of channel history and returns the
// deduplicated latest change per resolved local id. Events are keyed by
// id, not by name, because several names can map to one account.
// Pagination is not strictly monotonic across edits and deletions, so
// an older-timestamped event never overwrites a newer one regardless of
// arrival order.
func (r *Reconciler) Scan(ctx context.Context, channelID string, count int) (map[uint64]Change, error) {
	if count > MaxMessages {
		count = MaxMessages
	}

	changes := make(map[uint64]Change)
	remaining := count
	beforeID := ""
	scanned := 0

	for remaining > 0 {
		limit := pageSize
		if remaining < limit {
			limit = remaining
		}

		msgs, err := r.fetcher.FetchHistory(ctx, channelID, beforeID, limit)
		if err != nil {
			return nil, fmt.Errorf("fetch history: %w", err)
		}
		if len(msgs) == 0 {
			break
		}

		for _, msg := range msgs {
			r.record(changes, msg)
		}

		scanned += len(msgs)
		remaining -= len(msgs)
		beforeID = msgs[len(msgs)-1].ID

		// Short page means we hit the start of the channel.
		if len(msgs) < limit {
			break
		}
	}

	logger.InfoCF("reconcile", "History scan finished", map[string]interface{}{
		"scanned": scanned,
		"changes": len(changes),
	})
	return changes, nil
}

func (r *Reconciler) record(changes map[uint64]Change, msg Message) {
	ev, ok := r.interp.Interpret(msg.Text)
	if !ok {
		return
	}

	var target string
	var nickname *string

	switch e := ev.(type) {
	case interpreter.SetNickname:
		target = e.Target
		nick := e.Nickname
		nickname = &nick
	case interpreter.ClearNickname:
		// Target-unknown clears cannot be attributed to anyone; the
		// history path drops them silently.
		if !e.TargetKnown {
			return
		}
		desired, apply := DesiredAfterClear(r.store, r.behavior, e.Target)
		if !apply {
			return
		}
		target = e.Target
		nickname = desired
	default:
		return
	}

	id, ok := r.store.Resolve(target)
	if !ok {
		logger.DebugCF("reconcile", "Skipping event for unmapped name", map[string]interface{}{
			"name": target,
		})
		return
	}

	existing, seen := changes[id]
	if seen && !msg.Timestamp.After(existing.Timestamp) {
		return
	}
	changes[id] = Change{
		ExternalName: target,
		Nickname:     nickname,
		Timestamp:    msg.Timestamp,
	}
}

// DesiredAfterClear translates a clear event for target into a desired
// nickname under the configured behavior. The second return value is
// false when the event should not be applied at all. Under
// ResetToFirstName the value comes from the first name of the target's
// preferred mapped name, because the target text itself may be the
// bridge sentinel "your".
func DesiredAfterClear(store *identity.Store, behavior ClearBehavior, target string) (*string, bool) {
	switch behavior {
	case ClearCompletely:
		return nil, true
	case ResetToFirstName:
		id, ok := store.Resolve(target)
		if !ok {
			return nil, false
		}
		preferred, ok := store.PreferredName(id)
		if !ok {
			return nil, false
		}
		first := interpreter.FirstName(preferred)
		return &first, true
	}
	return nil, false
}

// ResetFill adds a first-name change for every mapped account that had
// no qualifying event in the scanned window, so a reset resync touches
// the whole roster.
func (r *Reconciler) ResetFill(changes map[uint64]Change) {
	for _, id := range r.store.IDs() {
		if _, ok := changes[id]; ok {
			continue
		}
		preferred, ok := r.store.PreferredName(id)
		if !ok {
			continue
		}
		first := interpreter.FirstName(preferred)
		changes[id] = Change{
			ExternalName: preferred,
			Nickname:     &first,
		}
	}
}
