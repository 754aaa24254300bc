// Package setup reconciles a Godot project's bridge files to the known-
// good state: the godot_bridge addon present, the plugin enabled in
// project.godot, and an auth token on disk. Reconciliation is idempotent
// — a second run with nothing to do writes nothing — and refuses to
// touch a project while the editor-side plugin holds the bridge lock.
package setup

import (
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/gdmcp/gdmcp/internal/fsys"
	"github.com/gdmcp/gdmcp/internal/gdproject"
)

//go:embed addon
var addonFS embed.FS

// ErrBridgeActive is returned when a mutation step finds the bridge lock
// present. The lock is re-checked immediately before each write, not
// only at the top, to narrow the window where the editor starts mid-run.
var ErrBridgeActive = fmt.Errorf("cannot modify project while the Godot bridge is active (bridge.lock present)")

// Outcome reports what one reconciliation did (or would do). Computed
// fresh each run; only its effects persist.
type Outcome struct {
	OK                   bool
	Skipped              bool
	Summary              string
	AddonCopied          bool
	PluginEnabledUpdated bool
	TokenCreated         bool
	LockFileExists       bool
}

// Reconcile brings the project's bridge files to the desired state. In
// read-only mode the deltas are computed and reported without writing.
// When the bridge lock is present only checks are performed.
func Reconcile(filesystem fsys.FS, root string, readOnly bool) (*Outcome, error) {
	hasDescriptor, err := gdproject.HasDescriptor(filesystem, root)
	if err != nil {
		return nil, err
	}
	if !hasDescriptor {
		return &Outcome{
			OK:      false,
			Summary: fmt.Sprintf("%s not found — not a Godot project", gdproject.DescriptorName),
		}, nil
	}

	locked, err := gdproject.LockPresent(filesystem, root)
	if err != nil {
		return nil, err
	}

	needAddon, needPlugin, needToken, err := computeDeltas(filesystem, root)
	if err != nil {
		return nil, err
	}

	if locked || readOnly {
		reason := "read-only mode"
		if locked {
			reason = "bridge lock present"
		}
		return &Outcome{
			OK:             true,
			Skipped:        true,
			LockFileExists: locked,
			Summary:        fmt.Sprintf("no changes applied (%s); %s", reason, deltaSummary(needAddon, needPlugin, needToken)),
		}, nil
	}

	out := &Outcome{OK: true}

	if needAddon {
		if err := guardLock(filesystem, root); err != nil {
			return nil, err
		}
		if err := copyAddon(filesystem, root); err != nil {
			return nil, fmt.Errorf("syncing bridge addon: %w", err)
		}
		out.AddonCopied = true
	}

	if needPlugin {
		if err := guardLock(filesystem, root); err != nil {
			return nil, err
		}
		changed, err := gdproject.EnablePlugin(filesystem, root)
		if err != nil {
			return nil, fmt.Errorf("enabling bridge plugin: %w", err)
		}
		out.PluginEnabledUpdated = changed
	}

	if needToken {
		if err := guardLock(filesystem, root); err != nil {
			return nil, err
		}
		if _, err := gdproject.GenerateToken(filesystem, root); err != nil {
			return nil, err
		}
		out.TokenCreated = true
	}

	out.Summary = appliedSummary(out)
	return out, nil
}

// guardLock fails a mutation step if the bridge lock appeared since the
// top-of-run check.
func guardLock(filesystem fsys.FS, root string) error {
	locked, err := gdproject.LockPresent(filesystem, root)
	if err != nil {
		return err
	}
	if locked {
		return ErrBridgeActive
	}
	return nil
}

// computeDeltas determines which of the three reconciliation steps have
// work to do.
func computeDeltas(filesystem fsys.FS, root string) (needAddon, needPlugin, needToken bool, err error) {
	addonPresent, err := gdproject.AddonPresent(filesystem, root)
	if err != nil {
		return false, false, false, err
	}
	pluginEnabled, err := gdproject.PluginEnabled(filesystem, root)
	if err != nil {
		return false, false, false, err
	}
	tokenPresent, err := gdproject.TokenPresent(filesystem, root)
	if err != nil {
		return false, false, false, err
	}
	return !addonPresent, !pluginEnabled, !tokenPresent, nil
}

// copyAddon writes the embedded addon tree into the project, overwriting
// whatever partial copy may be there.
func copyAddon(filesystem fsys.FS, root string) error {
	dstRoot := filepath.Join(root, gdproject.AddonDir)
	return fs.WalkDir(addonFS, "addon", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(path, "addon")
		rel = strings.TrimPrefix(rel, "/")
		dst := filepath.Join(dstRoot, rel)
		if d.IsDir() {
			return filesystem.MkdirAll(dst, 0o755)
		}
		data, err := addonFS.ReadFile(path)
		if err != nil {
			return err
		}
		return filesystem.WriteFile(dst, data, 0o644)
	})
}

// deltaSummary phrases pending work for skipped runs.
func deltaSummary(needAddon, needPlugin, needToken bool) string {
	var pending []string
	if needAddon {
		pending = append(pending, "addon sync")
	}
	if needPlugin {
		pending = append(pending, "plugin enable")
	}
	if needToken {
		pending = append(pending, "token creation")
	}
	if len(pending) == 0 {
		return "project already reconciled"
	}
	return "pending: " + strings.Join(pending, ", ")
}

// appliedSummary phrases what a mutating run changed.
func appliedSummary(out *Outcome) string {
	var applied []string
	if out.AddonCopied {
		applied = append(applied, "addon synced")
	}
	if out.PluginEnabledUpdated {
		applied = append(applied, "plugin enabled")
	}
	if out.TokenCreated {
		applied = append(applied, "token created")
	}
	if len(applied) == 0 {
		return "project already reconciled; no changes"
	}
	return strings.Join(applied, ", ")
}
