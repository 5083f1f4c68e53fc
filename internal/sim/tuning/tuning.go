package tuning

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	MaxGridWidth  int `yaml:"max_grid_width"`
	MaxGridHeight int `yaml:"max_grid_height"`

	LookupCacheTTLMs   int `yaml:"lookup_cache_ttl_ms"`
	SyncWriteTimeoutMs int `yaml:"sync_write_timeout_ms"`
	SyncQueueSize      int `yaml:"sync_queue_size"`

	// ReturnPortalFrameBlock is the block a player's return portal is framed with.
	ReturnPortalFrameBlock string `yaml:"return_portal_frame_block"`

	Reload Reload `yaml:"reload"`

	// Digest is the sha256 of the file the values were read from; empty for Defaults.
	Digest string `yaml:"-"`
}

type Reload struct {
	Snapshot    bool `yaml:"snapshot"`
	KeepReports int  `yaml:"keep_reports"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:        "1.0",
		MaxGridWidth:           3,
		MaxGridHeight:          3,
		LookupCacheTTLMs:       60_000,
		SyncWriteTimeoutMs:     5_000,
		SyncQueueSize:          8,
		ReturnPortalFrameBlock: "minecraft:crying_obsidian",
		Reload: Reload{
			Snapshot:    true,
			KeepReports: 64,
		},
	}
}

// Load reads path over Defaults, so a file only needs the keys it changes.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	sum := sha256.Sum256(raw)
	t.Digest = hex.EncodeToString(sum[:])
	return t, nil
}

func (t Tuning) Validate() error {
	if t.MaxGridWidth < 1 || t.MaxGridWidth > 3 || t.MaxGridHeight < 1 || t.MaxGridHeight > 3 {
		return fmt.Errorf("max grid %dx%d outside 1..3", t.MaxGridWidth, t.MaxGridHeight)
	}
	if t.LookupCacheTTLMs < 0 {
		return fmt.Errorf("lookup_cache_ttl_ms must be >= 0")
	}
	if t.SyncWriteTimeoutMs <= 0 {
		return fmt.Errorf("sync_write_timeout_ms must be > 0")
	}
	if t.Reload.KeepReports < 0 {
		return fmt.Errorf("reload.keep_reports must be >= 0")
	}
	if t.ReturnPortalFrameBlock == "" {
		return fmt.Errorf("return_portal_frame_block is required")
	}
	return nil
}

func (t Tuning) LookupCacheTTL() time.Duration {
	return time.Duration(t.LookupCacheTTLMs) * time.Millisecond
}

func (t Tuning) SyncWriteTimeout() time.Duration {
	return time.Duration(t.SyncWriteTimeoutMs) * time.Millisecond
}
