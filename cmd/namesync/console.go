package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/dotsetgreg/namesync/pkg/identity"
)

// consoleCmd runs a local REPL over the mapping store. Handy for
// seeding mappings before the bot ever connects.
func consoleCmd() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store := identity.NewStore(identity.NewMappingFile(cfg.MappingPath()), cfg.Sync.SpecialNames)
	if err := store.Reload(); err != nil {
		return fmt.Errorf("load mapping store: %w", err)
	}
	fmt.Printf("%s console — %d mappings at %s\n", appName, store.Len(), cfg.MappingPath())
	fmt.Println("Type 'help' for commands, 'exit' to quit.")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "namesync> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".namesync_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("Bye.")
				return nil
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Bye.")
			return nil
		}

		consoleEval(store, input)
	}
}

func consoleEval(store *identity.Store, input string) {
	cmd, rest, _ := strings.Cut(input, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "help":
		fmt.Println("Commands:")
		fmt.Println("  list                  show all mappings")
		fmt.Println("  add <name> = <id>     add or update a mapping")
		fmt.Println("  remove <name>         remove a mapping")
		fmt.Println("  resolve <name>        resolve a name (with fallback)")
		fmt.Println("  preferred <id>        best display name for an id")
		fmt.Println("  reload                re-read the mapping file")
		fmt.Println("  exit                  quit")

	case "list":
		entries := store.Snapshot()
		if len(entries) == 0 {
			fmt.Println("No mappings.")
			return
		}
		for _, e := range entries {
			fmt.Printf("  %s → %d\n", e.Name, e.ID)
		}

	case "add":
		name, idText, found := strings.Cut(rest, "=")
		name = strings.TrimSpace(name)
		idText = strings.TrimSpace(idText)
		if !found || name == "" || idText == "" {
			fmt.Println("Usage: add <name> = <id>")
			return
		}
		id, err := strconv.ParseUint(idText, 10, 64)
		if err != nil {
			fmt.Printf("%q is not a valid id.\n", idText)
			return
		}
		added, err := store.Upsert(name, id)
		if err != nil {
			fmt.Printf("Saved in memory but writing failed: %v\n", err)
			return
		}
		if added {
			fmt.Printf("Added %s → %d\n", name, id)
		} else {
			fmt.Printf("Updated %s → %d\n", name, id)
		}

	case "remove":
		if rest == "" {
			fmt.Println("Usage: remove <name>")
			return
		}
		removed, err := store.Remove(rest)
		if err != nil {
			fmt.Printf("Removed in memory but writing failed: %v\n", err)
			return
		}
		if removed {
			fmt.Printf("Removed %q\n", rest)
		} else {
			fmt.Printf("No mapping for %q\n", rest)
		}

	case "resolve":
		if rest == "" {
			fmt.Println("Usage: resolve <name>")
			return
		}
		if id, ok := store.Resolve(rest); ok {
			fmt.Printf("%s → %d\n", rest, id)
		} else {
			fmt.Printf("%q does not resolve.\n", rest)
		}

	case "preferred":
		id, err := strconv.ParseUint(rest, 10, 64)
		if err != nil {
			fmt.Println("Usage: preferred <id>")
			return
		}
		if name, ok := store.PreferredName(id); ok {
			fmt.Printf("%d → %s\n", id, name)
		} else {
			fmt.Printf("No names mapped to %d.\n", id)
		}

	case "reload":
		if err := store.Reload(); err != nil {
			fmt.Printf("Reload failed: %v\n", err)
			return
		}
		fmt.Printf("Reloaded %d mappings.\n", store.Len())

	default:
		fmt.Printf("Unknown command %q. Type 'help'.\n", cmd)
	}
}
