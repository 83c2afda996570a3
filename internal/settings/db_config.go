package settings

import (
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"
)

type dbConfigSnapshot struct {
	updatedAt time.Time
	values    map[string]json.RawMessage
}

var globalDBConfig atomic.Value // stores dbConfigSnapshot

func init() {
	globalDBConfig.Store(dbConfigSnapshot{values: map[string]json.RawMessage{}})
}

// StoreDBConfig replaces the in-memory snapshot of DB-backed settings.
func StoreDBConfig(updatedAt time.Time, values map[string]json.RawMessage) {
	next := make(map[string]json.RawMessage, len(values))
	for k, v := range values {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		next[key] = append(json.RawMessage(nil), v...)
	}
	globalDBConfig.Store(dbConfigSnapshot{updatedAt: updatedAt.UTC(), values: next})
}

// DBConfigUpdatedAt returns the newest update timestamp in the snapshot.
func DBConfigUpdatedAt() time.Time {
	return loadDBConfig().updatedAt
}

// DBConfigValue returns a copy of the raw config value for a key.
func DBConfigValue(key string) (json.RawMessage, bool) {
	val, ok := loadDBConfig().values[strings.TrimSpace(key)]
	if !ok || len(val) == 0 {
		return nil, false
	}
	return append(json.RawMessage(nil), val...), true
}

// Snapshot returns a copy of every value in the snapshot.
func Snapshot() map[string]json.RawMessage {
	cfg := loadDBConfig()
	out := make(map[string]json.RawMessage, len(cfg.values))
	for k, v := range cfg.values {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

func loadDBConfig() dbConfigSnapshot {
	cfg, ok := globalDBConfig.Load().(dbConfigSnapshot)
	if !ok || cfg.values == nil {
		return dbConfigSnapshot{values: map[string]json.RawMessage{}}
	}
	return cfg
}
