package unit

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/core-tools/hsu-unitd/pkg/errors"
)

// PersistMode selects where committed property writes are persisted.
type PersistMode string

const (
	PersistRuntime    PersistMode = "runtime"    // lost on supervisor restart
	PersistPersistent PersistMode = "persistent" // survives restarts
)

// Setting is one human-readable configuration line recorded for a committed
// property write, keyed by the property (or property-target) name so later
// writes of the same key replace earlier ones. Section names the drop-in
// section the line belongs to.
type Setting struct {
	Section string
	Name    string
	Line    string
}

// RecordSetting appends a [Unit] section setting line for later flushing. A
// later line with the same name supersedes the earlier one.
func (u *Unit) RecordSetting(name, line string) {
	u.recordSetting("Unit", name, line)
}

// RecordKindSetting records a setting line under the unit kind's private
// section, e.g. [Service] for service units.
func (u *Unit) RecordKindSetting(name, line string) {
	u.recordSetting(u.Kind.Section(), name, line)
}

func (u *Unit) recordSetting(section, name, line string) {
	for i := range u.pendingSettings {
		if u.pendingSettings[i].Name == name {
			u.pendingSettings[i].Section = section
			u.pendingSettings[i].Line = line
			return
		}
	}
	u.pendingSettings = append(u.pendingSettings, Setting{Section: section, Name: name, Line: line})
}

// PendingSettings returns the recorded, not yet flushed setting lines.
func (u *Unit) PendingSettings() []Setting {
	return u.pendingSettings
}

// FlushSettings writes the recorded setting lines as a drop-in file under
// root/<mode>/<unit>.d/90-override.conf, atomically, and clears the pending
// list. With no recorded lines it is a no-op.
func (u *Unit) FlushSettings(root string, mode PersistMode) error {
	if len(u.pendingSettings) == 0 {
		return nil
	}

	dir := filepath.Join(root, string(mode), u.id+".d")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.NewIOError("failed to create drop-in directory", err).WithContext("unit", u.id)
	}

	var b strings.Builder
	b.WriteString("# Generated by the unit control plane. Do not edit.\n")
	writeSection := func(section string) {
		header := false
		for _, s := range u.pendingSettings {
			if s.Section != section {
				continue
			}
			if !header {
				b.WriteString("[" + section + "]\n")
				header = true
			}
			b.WriteString(s.Line)
			b.WriteByte('\n')
		}
	}
	writeSection("Unit")
	if section := u.Kind.Section(); section != "Unit" {
		writeSection(section)
	}

	path := filepath.Join(dir, "90-override.conf")
	if err := renameio.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return errors.NewIOError("failed to write drop-in file", err).WithContext("unit", u.id).WithContext("path", path)
	}

	u.pendingSettings = nil

	found := false
	for _, p := range u.DropInPaths {
		if p == path {
			found = true
			break
		}
	}
	if !found {
		u.DropInPaths = append(u.DropInPaths, path)
	}
	return nil
}
