package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"
)

// SyncPolicy controls when Engine.Apply forces a durability flush, resolving
// spec.md §9's stated ambiguity about fsync timing.
type SyncPolicy int

const (
	// SyncManual fsyncs only when Persist is called explicitly — the
	// default, matching spec.md's stated choice "for throughput."
	SyncManual SyncPolicy = iota
	// SyncEveryOp fsyncs after every Apply.
	SyncEveryOp
	// SyncBatched fsyncs after every BatchSize Apply calls.
	SyncBatched
)

// PersistenceConfig configures one table's on-disk files.
type PersistenceConfig struct {
	DBDir     string     `json:"db_dir"`
	TableDir  string     `json:"table_dir"`
	PageSize  int        `json:"page_size"`
	Sync      SyncPolicy `json:"sync_policy"`
	BatchSize int        `json:"batch_size"`
}

// DataFilePath and IndexFilePath are the two file-family members spec.md
// §6 names: "{table}.wt" for data pages, "{table}.idx" per index (primary
// plus one per secondary, suffixed by index name).
func (c PersistenceConfig) dir() string {
	return filepath.Join(c.DBDir, c.TableDir)
}

func (c PersistenceConfig) DataFilePath(tableName string) string {
	return filepath.Join(c.dir(), tableName+".wt")
}

func (c PersistenceConfig) IndexFilePath(tableName, indexName string) string {
	if indexName == PrimaryIndexName {
		return filepath.Join(c.dir(), tableName+".idx")
	}
	return filepath.Join(c.dir(), fmt.Sprintf("%s.%s.idx", tableName, indexName))
}

func (c PersistenceConfig) SpaceInfoPath(tableName, indexName string) string {
	return c.IndexFilePath(tableName, indexName) + ".info"
}

// EnsureDir creates this config's table directory if it doesn't already
// exist — every file DataFilePath/IndexFilePath/SpaceInfoPath names lives
// under it, and none of pagestore.Open, SpaceIndex.WriteFile or
// saveSpaceInfo create missing parent directories themselves.
func (c PersistenceConfig) EnsureDir() error {
	return os.MkdirAll(c.dir(), 0755)
}

// LoadConfigFile reads a JSONC (JSON-with-comments) config file via
// tailscale/hujson, matching calvinalkan-agent-task's config.go loader —
// config *loading* is an external collaborator per the Non-goals, but the
// struct and this file reader still live here the way the teacher's own
// collection-metadata loading lives inside storage/pager.go.
func LoadConfigFile(path string) (*PersistenceConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("persistence: read config %s: %w", path, err)
	}
	std, err := hujson.Standardize(raw)
	if err != nil {
		return nil, fmt.Errorf("persistence: parse jsonc config %s: %w", path, err)
	}
	var cfg PersistenceConfig
	if err := json.Unmarshal(std, &cfg); err != nil {
		return nil, fmt.Errorf("persistence: unmarshal config %s: %w", path, err)
	}
	return &cfg, nil
}
