package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scrollscope/backend/internal/track"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Detect    DetectConfig    `yaml:"detect"`
	Feed      FeedConfig      `yaml:"feed"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Stats     StatsConfig     `yaml:"stats"`
	Privacy   PrivacyConfig   `yaml:"privacy"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AuthToken      string   `yaml:"auth_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DetectConfig holds the process-wide latency defaults for the edge
// detectors. Pages can still override both per attachment.
type DetectConfig struct {
	StartLatency time.Duration `yaml:"start_latency"`
	StopLatency  time.Duration `yaml:"stop_latency"`
}

type FeedConfig struct {
	TargetStaleAfter  time.Duration `yaml:"target_stale_after"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	MaxTargetsPerFeed int           `yaml:"max_targets_per_feed"`
}

type BroadcastConfig struct {
	Throttle         time.Duration `yaml:"throttle"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	MaxClients       int           `yaml:"max_clients"` // 0 = unlimited
}

type StatsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"` // empty = XDG state dir
}

type PrivacyConfig struct {
	MaskTargetIDs bool     `yaml:"mask_target_ids"`
	MaskPages     bool     `yaml:"mask_pages"`
	AllowedPages  []string `yaml:"allowed_pages"`
	BlockedPages  []string `yaml:"blocked_pages"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		Detect: DetectConfig{
			StartLatency: 150 * time.Millisecond,
			StopLatency:  150 * time.Millisecond,
		},
		Feed: FeedConfig{
			TargetStaleAfter:  2 * time.Minute,
			SweepInterval:     30 * time.Second,
			MaxTargetsPerFeed: 32,
		},
		Broadcast: BroadcastConfig{
			Throttle:         100 * time.Millisecond,
			SnapshotInterval: 5 * time.Second,
		},
		Stats: StatsConfig{
			Enabled: true,
		},
	}
}

// Load reads and validates the config file at path. Defaults are
// applied for any field the file does not set.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// LoadOrDefault loads path, falling back to defaults if the file does
// not exist. Any other error is still reported.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Detect.StartLatency <= 0 {
		return fmt.Errorf("detect.start_latency must be positive, got %v", c.Detect.StartLatency)
	}
	if c.Detect.StopLatency <= 0 {
		return fmt.Errorf("detect.stop_latency must be positive, got %v", c.Detect.StopLatency)
	}
	if c.Feed.MaxTargetsPerFeed < 1 {
		return fmt.Errorf("feed.max_targets_per_feed must be at least 1, got %d", c.Feed.MaxTargetsPerFeed)
	}
	return nil
}

// NewPrivacyFilter builds the broadcast filter described by this config.
func (pc PrivacyConfig) NewPrivacyFilter() *track.PrivacyFilter {
	return &track.PrivacyFilter{
		MaskTargetIDs: pc.MaskTargetIDs,
		MaskPages:     pc.MaskPages,
		AllowedPages:  pc.AllowedPages,
		BlockedPages:  pc.BlockedPages,
	}
}

// GenerateToken returns a random hex token suitable for auth_token.
func GenerateToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Diff reports human-readable differences between two configs. Used to
// log what actually changed on a SIGHUP reload.
func Diff(old, new *Config) []string {
	var changes []string

	if old.Server.Port != new.Server.Port {
		changes = append(changes, fmt.Sprintf("server.port: %d → %d", old.Server.Port, new.Server.Port))
	}
	if old.Server.Host != new.Server.Host {
		changes = append(changes, fmt.Sprintf("server.host: %s → %s", old.Server.Host, new.Server.Host))
	}
	if old.Server.AuthToken != new.Server.AuthToken {
		changes = append(changes, "server.auth_token: changed")
	}
	if old.Detect.StartLatency != new.Detect.StartLatency {
		changes = append(changes, fmt.Sprintf("detect.start_latency: %v → %v", old.Detect.StartLatency, new.Detect.StartLatency))
	}
	if old.Detect.StopLatency != new.Detect.StopLatency {
		changes = append(changes, fmt.Sprintf("detect.stop_latency: %v → %v", old.Detect.StopLatency, new.Detect.StopLatency))
	}
	if old.Feed.TargetStaleAfter != new.Feed.TargetStaleAfter {
		changes = append(changes, fmt.Sprintf("feed.target_stale_after: %v → %v", old.Feed.TargetStaleAfter, new.Feed.TargetStaleAfter))
	}
	if old.Feed.MaxTargetsPerFeed != new.Feed.MaxTargetsPerFeed {
		changes = append(changes, fmt.Sprintf("feed.max_targets_per_feed: %d → %d", old.Feed.MaxTargetsPerFeed, new.Feed.MaxTargetsPerFeed))
	}
	if old.Broadcast.Throttle != new.Broadcast.Throttle {
		changes = append(changes, fmt.Sprintf("broadcast.throttle: %v → %v", old.Broadcast.Throttle, new.Broadcast.Throttle))
	}
	if old.Broadcast.MaxClients != new.Broadcast.MaxClients {
		changes = append(changes, fmt.Sprintf("broadcast.max_clients: %d → %d", old.Broadcast.MaxClients, new.Broadcast.MaxClients))
	}
	if old.Privacy.MaskTargetIDs != new.Privacy.MaskTargetIDs {
		changes = append(changes, fmt.Sprintf("privacy.mask_target_ids: %v → %v", old.Privacy.MaskTargetIDs, new.Privacy.MaskTargetIDs))
	}
	if old.Privacy.MaskPages != new.Privacy.MaskPages {
		changes = append(changes, fmt.Sprintf("privacy.mask_pages: %v → %v", old.Privacy.MaskPages, new.Privacy.MaskPages))
	}
	if !equalStrings(old.Privacy.AllowedPages, new.Privacy.AllowedPages) {
		changes = append(changes, fmt.Sprintf("privacy.allowed_pages: %v → %v", old.Privacy.AllowedPages, new.Privacy.AllowedPages))
	}
	if !equalStrings(old.Privacy.BlockedPages, new.Privacy.BlockedPages) {
		changes = append(changes, fmt.Sprintf("privacy.blocked_pages: %v → %v", old.Privacy.BlockedPages, new.Privacy.BlockedPages))
	}

	return changes
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
