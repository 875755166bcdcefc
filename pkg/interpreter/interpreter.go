// Package interpreter turns bridge-generated chat sentences into typed
// nickname and group-rename events. Matching is pure text work: no side
// effects, no I/O.
package interpreter

import (
	"regexp"
	"strings"
)

// SentinelTarget is the literal name the bridge uses when it addresses
// the account that performed the bridge setup in second person. That
// account has to be mapped under this key in addition to its real name.
const SentinelTarget = "your"

// Event is one interpreted bridge message.
type Event interface {
	event()
}

// SetNickname reports that a nickname was set for Target.
type SetNickname struct {
	Actor    string
	Target   string
	Nickname string
}

// ClearNickname reports that Target's nickname was cleared. When the
// sentence carries no usable target ("You cleared your own nickname."),
// TargetKnown is false and Target is empty.
type ClearNickname struct {
	Actor       string
	Target      string
	TargetKnown bool
}

// GroupRenamed reports that the bridged group chat was renamed.
type GroupRenamed struct {
	Initiator string
	NewName   string
}

func (SetNickname) event()   {}
func (ClearNickname) event() {}
func (GroupRenamed) event()  {}

type matcher struct {
	name  string
	re    *regexp.Regexp
	build func(groups []string) Event
}

// Interpreter matches messages against an ordered list of named
// patterns and returns the first hit. Order encodes precedence: clear
// forms before set forms, and within each family the explicit named
// target beats the "your" sentinel beats the self reference.
type Interpreter struct {
	matchers []matcher
}

func New() *Interpreter {
	return &Interpreter{
		matchers: []matcher{
			{
				name: "clear-explicit",
				re:   regexp.MustCompile(`^(.+?) cleared the nickname for (.+)\.$`),
				build: func(g []string) Event {
					return ClearNickname{Actor: g[1], Target: g[2], TargetKnown: true}
				},
			},
			{
				// No target can be recovered from this phrasing.
				name: "clear-unknown",
				re:   regexp.MustCompile(`^You cleared your own nickname\.$`),
				build: func(g []string) Event {
					return ClearNickname{Actor: "You"}
				},
			},
			{
				name: "clear-sentinel",
				re:   regexp.MustCompile(`^(.+) cleared your nickname\.$`),
				build: func(g []string) Event {
					return ClearNickname{Actor: g[1], Target: SentinelTarget, TargetKnown: true}
				},
			},
			{
				name: "clear-self",
				re:   regexp.MustCompile(`^(.+) cleared (?:his|her|their)(?: own)? nickname\.$`),
				build: func(g []string) Event {
					return ClearNickname{Actor: g[1], Target: g[1], TargetKnown: true}
				},
			},
			{
				name: "set-explicit",
				re:   regexp.MustCompile(`^(.+?) set the nickname for (.+?) to (.+)\.$`),
				build: func(g []string) Event {
					return SetNickname{Actor: g[1], Target: g[2], Nickname: g[3]}
				},
			},
			{
				name: "set-sentinel",
				re:   regexp.MustCompile(`^(.+?) set your nickname to (.+)\.$`),
				build: func(g []string) Event {
					return SetNickname{Actor: g[1], Target: SentinelTarget, Nickname: g[2]}
				},
			},
			{
				name: "set-self",
				re:   regexp.MustCompile(`^(.+?) set (?:his|her|their)(?: own)? nickname to (.+)\.$`),
				build: func(g []string) Event {
					return SetNickname{Actor: g[1], Target: g[1], Nickname: g[2]}
				},
			},
			{
				name: "group-renamed",
				re:   regexp.MustCompile(`^(.+?) named the group (.+)\.$`),
				build: func(g []string) Event {
					return GroupRenamed{Initiator: g[1], NewName: g[2]}
				},
			},
		},
	}
}

// Interpret returns the event encoded in text, or ok=false when the
// message matches no known bridge phrasing.
func (i *Interpreter) Interpret(text string) (Event, bool) {
	for _, m := range i.matchers {
		groups := m.re.FindStringSubmatch(text)
		if groups == nil {
			continue
		}
		return m.build(groups), true
	}
	return nil, false
}

// FirstName returns the first whitespace-delimited token of a display
// name, or the name unchanged when it has no tokens.
func FirstName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return name
	}
	return fields[0]
}
