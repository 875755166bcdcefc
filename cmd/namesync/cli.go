package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/dotsetgreg/namesync/pkg/apply"
	"github.com/dotsetgreg/namesync/pkg/bus"
	"github.com/dotsetgreg/namesync/pkg/commands"
	"github.com/dotsetgreg/namesync/pkg/config"
	"github.com/dotsetgreg/namesync/pkg/gateway"
	"github.com/dotsetgreg/namesync/pkg/identity"
	"github.com/dotsetgreg/namesync/pkg/interpreter"
	"github.com/dotsetgreg/namesync/pkg/logger"
	"github.com/dotsetgreg/namesync/pkg/reconcile"
	"github.com/dotsetgreg/namesync/pkg/resync"
	"github.com/dotsetgreg/namesync/pkg/sched"
	"github.com/spf13/cobra"
)

func executeCLI() error {
	return buildRootCommand().Execute()
}

func buildRootCommand() *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   "namesync",
		Short: "Mirror Messenger-bridge nickname and group-name changes onto a Discord guild",
		Long: strings.TrimSpace(`namesync watches a Messenger-bridge channel, interprets the bridge's
nickname and group-rename notices, and applies the changes to the guild.
It keeps a persistent mapping from bridge display names to member ids and
can replay channel history to resynchronize the whole roster.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newOnboardCommand())
	root.AddCommand(newRunCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newConsoleCommand())
	root.AddCommand(newVersionCommand())
	root.AddCommand(newDocsCommand(buildRootCommand))

	return root
}

func newOnboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "onboard",
		Short:   "Write default configuration and a template mapping file",
		Example: "  namesync onboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return onboard()
		},
	}
}

func newRunCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Connect to Discord and start syncing",
		Example: "  namesync run\n  namesync run --debug",
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				logger.SetLevel(logger.DEBUG)
			}
			return run()
		},
	}
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and mapping store readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			statusCmd()
			return nil
		},
	}
}

func newConsoleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Edit the mapping store interactively",
		Long:  "Open a local REPL over the name mapping store: list, add, remove, resolve, and reload entries without going through Discord.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return consoleCmd()
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			printVersion()
		},
	}
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(getConfigPath())
}

func onboard() error {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists at %s, leaving it alone.\n", configPath)
	} else {
		cfg := config.DefaultConfig()
		if err := config.SaveConfig(configPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Printf("Wrote %s\n", configPath)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := identity.NewStore(identity.NewMappingFile(cfg.MappingPath()), cfg.Sync.SpecialNames)
	if err := store.Reload(); err != nil {
		return fmt.Errorf("initialize mapping store: %w", err)
	}
	fmt.Printf("Mapping store at %s (%d entries)\n", cfg.MappingPath(), store.Len())

	fmt.Println("\nNext steps:")
	fmt.Println("  1. Add your Discord bot token, guild id, and bridge channel id to", configPath)
	fmt.Println("  2. Map bridge names to member ids: namesync console")
	fmt.Println("  3. Start syncing: namesync run")
	return nil
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	behavior, err := reconcile.ParseClearBehavior(cfg.Sync.ClearBehavior)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	store := identity.NewStore(identity.NewMappingFile(cfg.MappingPath()), cfg.Sync.SpecialNames)
	if err := store.Reload(); err != nil {
		// The store falls back to best-effort in-memory state; a save
		// failure here should not keep the gateway down.
		logger.WarnCF("main", "Mapping store initialization problem", map[string]interface{}{
			"error": err.Error(),
		})
	}

	msgBus := bus.NewMessageBus()
	gw, err := gateway.NewDiscordGateway(cfg.Discord, msgBus)
	if err != nil {
		return err
	}

	interp := interpreter.New()
	rec := reconcile.NewReconciler(interp, store, gw, behavior)
	engine := apply.NewEngine(store, gw, time.Duration(cfg.Sync.ApplyDelayMS)*time.Millisecond)
	syncer := resync.NewSyncer(rec, engine, cfg.Discord.BridgeChannelID)
	dispatcher := commands.NewDispatcher(cfg, store, syncer, gw, msgBus)
	router := gateway.NewRouter(msgBus, interp, store, engine, behavior, dispatcher, gw, cfg.Permissions.GroupRename)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := gw.Start(ctx); err != nil {
		return err
	}
	go router.Run(ctx)

	if cfg.Schedule.ResyncCron != "" {
		scheduler, err := sched.NewScheduler(cfg.Schedule, syncer)
		if err != nil {
			gw.Stop(ctx)
			return err
		}
		go scheduler.Run(ctx)
	}

	fmt.Printf("✓ %s watching channel %s (mappings: %d)\n", appName, cfg.Discord.BridgeChannelID, store.Len())
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	<-sigChan

	fmt.Println("\nShutting down...")
	cancel()
	if err := gw.Stop(context.Background()); err != nil {
		logger.WarnCF("main", "Gateway stop error", map[string]interface{}{"error": err.Error()})
	}
	msgBus.Close()
	fmt.Println("✓ Stopped")
	return nil
}

func statusCmd() {
	configPath := getConfigPath()

	fmt.Printf("%s Status\n", appName)
	fmt.Printf("Version: %s\n", formatVersion())
	fmt.Println()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Config: %s ✗ (%v)\n", configPath, err)
		return
	}

	if _, err := os.Stat(configPath); err == nil {
		fmt.Println("Config:", configPath, "✓")
	} else {
		fmt.Println("Config:", configPath, "✗")
	}

	status := func(ok bool) string {
		if ok {
			return "✓"
		}
		return "not set"
	}
	fmt.Println("Discord token:", status(cfg.Discord.Token != ""))
	fmt.Println("Guild id:", status(cfg.Discord.GuildID != ""))
	fmt.Println("Bridge channel:", status(cfg.Discord.BridgeChannelID != ""))

	mappingPath := cfg.MappingPath()
	if _, err := os.Stat(mappingPath); err == nil {
		store := identity.NewStore(identity.NewMappingFile(mappingPath), cfg.Sync.SpecialNames)
		if err := store.Reload(); err == nil {
			fmt.Printf("Mappings: %s ✓ (%d entries)\n", mappingPath, store.Len())
		} else {
			fmt.Printf("Mappings: %s ✗ (%v)\n", mappingPath, err)
		}
	} else {
		fmt.Println("Mappings:", mappingPath, "not initialized")
	}

	fmt.Println("Clear behavior:", cfg.Sync.ClearBehavior)
	if cfg.Schedule.ResyncCron != "" {
		fmt.Println("Scheduled resync:", cfg.Schedule.ResyncCron)
	}
	fmt.Println("Ready:", status(cfg.Validate() == nil))
}
