package main

import (
	"fmt"
	"os"
	"strings"

	"voxelstream.io/internal/host"
	"voxelstream.io/internal/persistence/indexdb"
	persistlog "voxelstream.io/internal/persistence/log"
	"voxelstream.io/internal/sim/catalogs"
	"voxelstream.io/internal/sim/tuning"
)

type runtimeIndex interface {
	host.Index
	Close() error
	UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error
	Stats() indexdb.Stats
}

// openRuntimeIndex returns nil when indexing is disabled, either by an empty
// path or by VS_INDEX_BACKEND=none.
func openRuntimeIndex(path string) (runtimeIndex, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("VS_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unsupported VS_INDEX_BACKEND: %s", backend)
	}
}

// multiIndex fans host events out to every configured sink.
type multiIndex []host.Index

func (m multiIndex) RecordSession(ev host.SessionEvent) {
	for _, idx := range m {
		idx.RecordSession(ev)
	}
}

func (m multiIndex) RecordColumn(ev host.ColumnEvent) {
	for _, idx := range m {
		idx.RecordColumn(ev)
	}
}

// hostIndex combines the optional sinks; nil when neither is enabled.
func hostIndex(idx runtimeIndex, events *persistlog.EventLog) host.Index {
	var m multiIndex
	if idx != nil {
		m = append(m, idx)
	}
	if events != nil {
		m = append(m, events)
	}
	switch len(m) {
	case 0:
		return nil
	case 1:
		return m[0]
	default:
		return m
	}
}
