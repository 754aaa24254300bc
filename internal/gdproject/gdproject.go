// Package gdproject knows the on-disk layout of a Godot project as the
// bridge sees it: the project.godot descriptor, the godot_bridge addon,
// the auth token, the host/port override files, and the bridge lock
// marker owned by the editor-side plugin.
//
// The descriptor is edited textually, never re-serialized: Godot owns
// the file and a structural rewrite would churn formatting the editor
// chose. Re-applying any edit with no prior change is byte-for-byte
// idempotent.
package gdproject

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gdmcp/gdmcp/internal/fsys"
)

const (
	// DescriptorName is the root descriptor every Godot project carries.
	DescriptorName = "project.godot"

	// AddonDir is the project-relative directory of the bridge addon.
	AddonDir = "addons/godot_bridge"

	// AddonMarker is the config file whose presence means the addon is synced.
	AddonMarker = "addons/godot_bridge/plugin.cfg"

	// PluginResource is the res:// path Godot lists in enabled plugins.
	PluginResource = "res://addons/godot_bridge/plugin.cfg"

	// TokenFile holds the shared bridge auth token.
	TokenFile = ".godot_bridge_token"

	// HostFile and PortFile are the listen-address override files the
	// doctor writes during auto-launch (env propagation into the editor
	// cannot be trusted across the WSL boundary).
	HostFile = ".godot_bridge_host"
	PortFile = ".godot_bridge_port"

	// LockRelPath is the lock marker the editor plugin creates while its
	// bridge server is running. Owned by the plugin; the doctor only
	// removes it after proving staleness.
	LockRelPath = ".godot_bridge/bridge.lock"

	// EnvToken overrides the token file when set.
	EnvToken = "GODOT_BRIDGE_TOKEN"
)

const editorPluginsSection = "[editor_plugins]"

// HasDescriptor reports whether root contains a project.godot file.
// A missing file is the expected negative; any other stat failure is
// surfaced so permission trouble is not mistaken for a new project.
func HasDescriptor(fs fsys.FS, root string) (bool, error) {
	_, err := fs.Stat(filepath.Join(root, DescriptorName))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("checking %s: %w", DescriptorName, err)
}

// AddonPresent reports whether the bridge addon marker file exists.
func AddonPresent(fs fsys.FS, root string) (bool, error) {
	_, err := fs.Stat(filepath.Join(root, AddonMarker))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("checking addon marker: %w", err)
}

// LockPresent reports whether the plugin's bridge lock marker exists.
func LockPresent(fs fsys.FS, root string) (bool, error) {
	_, err := fs.Stat(filepath.Join(root, LockRelPath))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("checking bridge lock: %w", err)
}

// RemoveLock deletes the bridge lock marker. Missing is treated as
// success — another cleanup may have raced us.
func RemoveLock(fs fsys.FS, root string) error {
	err := fs.Remove(filepath.Join(root, LockRelPath))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing bridge lock: %w", err)
	}
	return nil
}

// PluginEnabled reports whether the descriptor's [editor_plugins]
// section lists the bridge plugin.
func PluginEnabled(fs fsys.FS, root string) (bool, error) {
	data, err := fs.ReadFile(filepath.Join(root, DescriptorName))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("reading %s: %w", DescriptorName, err)
	}
	return strings.Contains(string(data), `"`+PluginResource+`"`), nil
}

// EnablePlugin patches the descriptor text so the enabled-plugins array
// includes the bridge plugin. Returns (changed, error); when the plugin
// is already listed the descriptor is not rewritten at all.
func EnablePlugin(fs fsys.FS, root string) (bool, error) {
	path := filepath.Join(root, DescriptorName)
	data, err := fs.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", DescriptorName, err)
	}
	text := string(data)
	if strings.Contains(text, `"`+PluginResource+`"`) {
		return false, nil
	}

	patched, err := patchEnabledPlugins(text)
	if err != nil {
		return false, err
	}
	if err := fs.WriteFile(path, []byte(patched), 0o644); err != nil {
		return false, fmt.Errorf("writing %s: %w", DescriptorName, err)
	}
	return true, nil
}

// patchEnabledPlugins inserts the bridge plugin into the descriptor's
// enabled-plugins declaration, creating the section or the enabled line
// when absent.
func patchEnabledPlugins(text string) (string, error) {
	lines := strings.Split(text, "\n")

	sectionStart := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == editorPluginsSection {
			sectionStart = i
			break
		}
	}

	if sectionStart == -1 {
		// No section yet: append one, separated by a blank line.
		out := strings.TrimRight(text, "\n")
		if out != "" {
			out += "\n\n"
		}
		out += editorPluginsSection + "\n\nenabled=PackedStringArray(\"" + PluginResource + "\")\n"
		return out, nil
	}

	// Find the enabled= line within the section (section ends at the
	// next [header] or EOF).
	for i := sectionStart + 1; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			break
		}
		if strings.HasPrefix(trimmed, "enabled=PackedStringArray(") {
			patched, err := insertIntoArray(trimmed)
			if err != nil {
				return "", err
			}
			lines[i] = patched
			return strings.Join(lines, "\n"), nil
		}
	}

	// Section exists but has no enabled line: add one right after the header.
	head := append([]string{}, lines[:sectionStart+1]...)
	head = append(head, "", "enabled=PackedStringArray(\""+PluginResource+"\")")
	head = append(head, lines[sectionStart+1:]...)
	return strings.Join(head, "\n"), nil
}

// insertIntoArray appends the plugin resource to an existing
// enabled=PackedStringArray(...) line.
func insertIntoArray(line string) (string, error) {
	open := strings.Index(line, "(")
	close := strings.LastIndex(line, ")")
	if open == -1 || close == -1 || close < open {
		return "", fmt.Errorf("malformed enabled plugins declaration: %q", line)
	}
	inner := strings.TrimSpace(line[open+1 : close])
	entry := `"` + PluginResource + `"`
	if inner == "" {
		inner = entry
	} else {
		inner += ", " + entry
	}
	return line[:open+1] + inner + line[close:], nil
}

// ResolveToken returns the bridge auth token: the GODOT_BRIDGE_TOKEN
// environment override when set, else the project token file. Returns
// ("", nil) when neither source yields a token.
func ResolveToken(fs fsys.FS, root string) (string, error) {
	if tok := os.Getenv(EnvToken); tok != "" {
		return tok, nil
	}
	data, err := fs.ReadFile(filepath.Join(root, TokenFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// TokenPresent reports whether the project token file exists.
func TokenPresent(fs fsys.FS, root string) (bool, error) {
	_, err := fs.Stat(filepath.Join(root, TokenFile))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("checking token file: %w", err)
}

// GenerateToken creates a random 32-hex-char token and persists it with
// owner-only permissions.
func GenerateToken(fs fsys.FS, root string) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	tok := hex.EncodeToString(buf)
	if err := fs.WriteFile(filepath.Join(root, TokenFile), []byte(tok+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("writing token file: %w", err)
	}
	return tok, nil
}

// DeclaredHostPort reads the host/port override files. Absent files
// yield empty strings; malformed content is passed through for the
// caller's validation.
func DeclaredHostPort(fs fsys.FS, root string) (host, port string, err error) {
	host, err = readOptional(fs, filepath.Join(root, HostFile))
	if err != nil {
		return "", "", err
	}
	port, err = readOptional(fs, filepath.Join(root, PortFile))
	if err != nil {
		return "", "", err
	}
	return host, port, nil
}

// readOptional reads a file, treating absence as empty.
func readOptional(fs fsys.FS, path string) (string, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	return strings.TrimSpace(string(data)), nil
}
