package main

import (
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
)

// migration is one numbered schema change.
type migration struct {
	Version int64
	Up      string
	Down    string
	UpSQL   string
	DownSQL string
}

// loadMigrations reads NNN_name.up.sql / NNN_name.down.sql pairs from fsys,
// ordered by version. A down file without an up file is an error.
func loadMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	byVersion := make(map[int64]*migration)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		var up bool
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			up = true
		case strings.HasSuffix(name, ".down.sql"):
		default:
			return nil, fmt.Errorf("%s: want .up.sql or .down.sql suffix", name)
		}

		ver, err := versionFromFile(name)
		if err != nil {
			return nil, fmt.Errorf("parse version from %s: %w", name, err)
		}
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}

		m := byVersion[ver]
		if m == nil {
			m = &migration{Version: ver}
			byVersion[ver] = m
		}
		if up {
			if m.Up != "" {
				return nil, fmt.Errorf("duplicate up migration for version %d: %s and %s", ver, m.Up, name)
			}
			m.Up, m.UpSQL = name, string(body)
		} else {
			if m.Down != "" {
				return nil, fmt.Errorf("duplicate down migration for version %d: %s and %s", ver, m.Down, name)
			}
			m.Down, m.DownSQL = name, string(body)
		}
	}

	out := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" {
			return nil, fmt.Errorf("version %d has a down migration but no up migration", m.Version)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// versionFromFile extracts the leading integer from a migration filename.
// "001_audit_ledger.up.sql" → 1
func versionFromFile(filename string) (int64, error) {
	prefix, _, ok := strings.Cut(filename, "_")
	if !ok {
		return 0, fmt.Errorf("unexpected filename format")
	}
	return strconv.ParseInt(prefix, 10, 64)
}

// pending returns migrations not yet recorded in applied, in order.
func pending(migs []migration, applied map[int64]bool) []migration {
	var out []migration
	for _, m := range migs {
		if _, ok := applied[m.Version]; !ok {
			out = append(out, m)
		}
	}
	return out
}

func newestApplied(migs []migration, applied map[int64]bool) (migration, bool) {
	for i := len(migs) - 1; i >= 0; i-- {
		if _, ok := applied[migs[i].Version]; ok {
			return migs[i], true
		}
	}
	return migration{}, false
}

func firstDirty(applied map[int64]bool) (int64, bool) {
	var (
		v     int64
		found bool
	)
	for ver, dirty := range applied {
		if dirty && (!found || ver < v) {
			v, found = ver, true
		}
	}
	return v, found
}
