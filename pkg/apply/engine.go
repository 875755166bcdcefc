// Package apply pushes desired nicknames to the platform and keeps the
// per-run counters.
package apply

import (
	"context"
	"fmt"
	"time"

	"github.com/dotsetgreg/namesync/pkg/identity"
	"github.com/dotsetgreg/namesync/pkg/interpreter"
	"github.com/dotsetgreg/namesync/pkg/logger"
)

// MaxNicknameLength is the platform limit for member nicknames.
const MaxNicknameLength = 32

type RenameStatus int

const (
	RenameOK RenameStatus = iota
	RenamePermissionDenied
	RenameFailure
)

// RenameResult is the typed outcome of a platform rename call, so the
// engine branches on status instead of matching error types.
type RenameResult struct {
	Status RenameStatus
	Err    error
}

// Platform is the transport collaborator the engine applies through.
type Platform interface {
	// RenameUser sets a member's nickname; empty string clears it.
	RenameUser(ctx context.Context, userID uint64, nickname string) RenameResult
	// MemberExists reports whether the id is present in the guild.
	MemberExists(userID uint64) bool
	// IsGuildOwner reports whether the id owns the guild. Bots cannot
	// rename the owner, so that case gets a DM instead of an error.
	IsGuildOwner(userID uint64) bool
	SendDirectMessage(ctx context.Context, userID uint64, text string) error
}

// Change is one (external name, desired nickname) pair to apply. A nil
// Nickname clears.
type Change struct {
	ExternalName string
	Nickname     *string
}

// Results counts the outcomes of one apply pass.
type Results struct {
	Success          int
	NotMapped        int
	Errors           int
	ResetToFirstName int
}

func (r Results) String() string {
	return fmt.Sprintf("%d updated (%d reset to first name), %d not mapped, %d errors",
		r.Success, r.ResetToFirstName, r.NotMapped, r.Errors)
}

type Engine struct {
	store    *identity.Store
	platform Platform
	delay    time.Duration
}

func NewEngine(store *identity.Store, platform Platform, delay time.Duration) *Engine {
	return &Engine{
		store:    store,
		platform: platform,
		delay:    delay,
	}
}

// Apply resolves and applies a single change, accumulating into res.
func (e *Engine) Apply(ctx context.Context, change Change, res *Results) {
	id, ok := e.store.Resolve(change.ExternalName)
	if !ok {
		logger.WarnCF("apply", "Name not mapped", map[string]interface{}{
			"name": change.ExternalName,
		})
		res.NotMapped++
		return
	}

	if !e.platform.MemberExists(id) {
		logger.WarnCF("apply", "Mapped account not present in guild", map[string]interface{}{
			"name": change.ExternalName,
			"id":   id,
		})
		res.NotMapped++
		return
	}

	nickname := ""
	if change.Nickname != nil {
		nickname = truncate(*change.Nickname)
		if nickname != *change.Nickname {
			logger.InfoCF("apply", "Nickname truncated to platform limit", map[string]interface{}{
				"name":     change.ExternalName,
				"nickname": nickname,
			})
		}
	}

	result := e.platform.RenameUser(ctx, id, nickname)
	switch result.Status {
	case RenameOK:
		res.Success++
		if change.Nickname != nil && nickname == interpreter.FirstName(change.ExternalName) {
			res.ResetToFirstName++
		}
		logger.DebugCF("apply", "Nickname applied", map[string]interface{}{
			"name":     change.ExternalName,
			"nickname": nickname,
		})
	case RenamePermissionDenied:
		if e.platform.IsGuildOwner(id) {
			// The platform never lets a bot rename the guild owner.
			e.remindOwner(ctx, id, nickname)
			return
		}
		logger.ErrorCF("apply", "Permission denied renaming member", map[string]interface{}{
			"name": change.ExternalName,
			"id":   id,
		})
		res.Errors++
	default:
		logger.ErrorCF("apply", "Rename failed", map[string]interface{}{
			"name":  change.ExternalName,
			"error": fmt.Sprintf("%v", result.Err),
		})
		res.Errors++
	}
}

// ApplyBatch applies all changes with a fixed pacing delay between
// items to stay under platform rate limits. Per-item failures are
// counted, never aborting the batch.
func (e *Engine) ApplyBatch(ctx context.Context, changes []Change) Results {
	var res Results
	for i, change := range changes {
		if i > 0 && e.delay > 0 {
			select {
			case <-time.After(e.delay):
			case <-ctx.Done():
				return res
			}
		}
		e.Apply(ctx, change, &res)
	}
	return res
}

func (e *Engine) remindOwner(ctx context.Context, id uint64, nickname string) {
	text := "Your bridged nickname changed, but bots cannot rename the server owner. Please set your nickname yourself"
	if nickname != "" {
		text += fmt.Sprintf(" (suggested: %q)", nickname)
	}
	text += "."
	if err := e.platform.SendDirectMessage(ctx, id, text); err != nil {
		logger.WarnCF("apply", "Failed to DM guild owner", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= MaxNicknameLength {
		return s
	}
	return string(runes[:MaxNicknameLength])
}
