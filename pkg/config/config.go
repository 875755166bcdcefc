package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so role/user id lists can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	// Try []interface{} to handle mixed types
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Discord     DiscordConfig     `json:"discord"`
	Sync        SyncConfig        `json:"sync"`
	Schedule    ScheduleConfig    `json:"schedule"`
	Permissions PermissionsConfig `json:"permissions"`
	mu          sync.RWMutex
}

type DiscordConfig struct {
	Token           string `json:"token" env:"NAMESYNC_DISCORD_TOKEN"`
	GuildID         string `json:"guild_id" env:"NAMESYNC_DISCORD_GUILD_ID"`
	BridgeChannelID string `json:"bridge_channel_id" env:"NAMESYNC_DISCORD_BRIDGE_CHANNEL_ID"`
}

type SyncConfig struct {
	MappingPath        string              `json:"mapping_path" env:"NAMESYNC_SYNC_MAPPING_PATH"`
	ClearBehavior      string              `json:"clear_behavior" env:"NAMESYNC_SYNC_CLEAR_BEHAVIOR"` // "do_nothing", "clear", "reset_to_first_name"
	ApplyDelayMS       int                 `json:"apply_delay_ms" env:"NAMESYNC_SYNC_APPLY_DELAY_MS"`
	MaxResyncMessages  int                 `json:"max_resync_messages" env:"NAMESYNC_SYNC_MAX_RESYNC_MESSAGES"`
	DefaultResyncCount int                 `json:"default_resync_count" env:"NAMESYNC_SYNC_DEFAULT_RESYNC_COUNT"`
	SpecialNames       FlexibleStringSlice `json:"special_names" env:"NAMESYNC_SYNC_SPECIAL_NAMES"`
}

// ScheduleConfig drives the optional cron-scheduled resync.
// An empty expression disables it.
type ScheduleConfig struct {
	ResyncCron  string `json:"resync_cron" env:"NAMESYNC_SCHEDULE_RESYNC_CRON"`
	ResyncCount int    `json:"resync_count" env:"NAMESYNC_SCHEDULE_RESYNC_COUNT"`
	ResyncReset bool   `json:"resync_reset" env:"NAMESYNC_SCHEDULE_RESYNC_RESET"`
}

type PermissionsConfig struct {
	Resync      PermissionConfig `json:"resync"`
	Mapping     PermissionConfig `json:"mapping"`
	GroupRename PermissionConfig `json:"group_rename"`
}

// PermissionConfig gates one logical command action.
type PermissionConfig struct {
	Everyone bool                `json:"everyone"`
	RoleIDs  FlexibleStringSlice `json:"role_ids"`
	UserIDs  FlexibleStringSlice `json:"user_ids"`
}

// Allows reports whether a user with the given roles may perform the action.
func (p PermissionConfig) Allows(userID string, roleIDs []string) bool {
	if p.Everyone {
		return true
	}
	for _, allowed := range p.UserIDs {
		if allowed == userID {
			return true
		}
	}
	for _, allowed := range p.RoleIDs {
		for _, role := range roleIDs {
			if allowed == role {
				return true
			}
		}
	}
	return false
}

func DefaultConfig() *Config {
	return &Config{
		Discord: DiscordConfig{},
		Sync: SyncConfig{
			MappingPath:        "~/.namesync/mappings.json",
			ClearBehavior:      "reset_to_first_name",
			ApplyDelayMS:       500,
			MaxResyncMessages:  10000,
			DefaultResyncCount: 500,
			SpecialNames:       FlexibleStringSlice{"your"},
		},
		Schedule: ScheduleConfig{
			ResyncCron:  "",
			ResyncCount: 500,
			ResyncReset: false,
		},
		Permissions: PermissionsConfig{
			Resync:      PermissionConfig{},
			Mapping:     PermissionConfig{},
			GroupRename: PermissionConfig{Everyone: true},
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if parseErr := env.Parse(cfg); parseErr != nil {
				return nil, parseErr
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// MappingPath returns the mapping store location with ~ expanded.
func (c *Config) MappingPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Sync.MappingPath)
}

func (c *Config) Validate() error {
	if c.Discord.Token == "" {
		return fmt.Errorf("discord.token is required")
	}
	if c.Discord.GuildID == "" {
		return fmt.Errorf("discord.guild_id is required")
	}
	if c.Discord.BridgeChannelID == "" {
		return fmt.Errorf("discord.bridge_channel_id is required")
	}
	switch c.Sync.ClearBehavior {
	case "do_nothing", "clear", "reset_to_first_name":
	default:
		return fmt.Errorf("sync.clear_behavior must be one of do_nothing, clear, reset_to_first_name (got %q)", c.Sync.ClearBehavior)
	}
	return nil
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
