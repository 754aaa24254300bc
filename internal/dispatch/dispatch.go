// Package dispatch implements the MCP tool surface of the gdmcp
// dispatcher. The Engine holds the operation implementations; server.go
// exposes them as MCP tools. Operations write Godot text formats
// directly to disk so artifacts exist even when no editor bridge is
// connected.
package dispatch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gdmcp/gdmcp/internal/fsys"
)

// EnvAllowDestructive names the opt-in for destructive operations. Its
// value must be a directory containing the project root, which scopes
// the escape hatch to throwaway projects.
const EnvAllowDestructive = "GDMCP_ALLOW_DESTRUCTIVE"

// Engine executes dispatcher operations against one project root.
type Engine struct {
	fs   fsys.FS
	root string

	lookupEnv func(string) (string, bool)
}

// NewEngine returns an Engine rooted at root.
func NewEngine(filesystem fsys.FS, root string) *Engine {
	if filesystem == nil {
		filesystem = fsys.OSFS{}
	}
	return &Engine{fs: filesystem, root: root, lookupEnv: os.LookupEnv}
}

// Root returns the project root the engine operates on.
func (e *Engine) Root() string { return e.root }

// resolve maps a project-relative or res:// path to an absolute path,
// rejecting anything that escapes the root.
func (e *Engine) resolve(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	p = strings.TrimPrefix(p, "res://")
	if filepath.IsAbs(p) {
		return "", fmt.Errorf("absolute paths are not allowed: %s", p)
	}
	abs := filepath.Join(e.root, filepath.Clean(p))
	rel, err := filepath.Rel(e.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes project root: %s", p)
	}
	return abs, nil
}

// write creates parent directories and writes data at the resolved path.
func (e *Engine) write(abs string, data []byte) error {
	if err := e.fs.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}
	if err := e.fs.WriteFile(abs, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", abs, err)
	}
	return nil
}

// WriteFile writes arbitrary content at a project-relative path.
func (e *Engine) WriteFile(path, content string) error {
	abs, err := e.resolve(path)
	if err != nil {
		return err
	}
	return e.write(abs, []byte(content))
}

// ReadFile returns the content of a project-relative path.
func (e *Engine) ReadFile(path string) (string, error) {
	abs, err := e.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := e.fs.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}

// CreateResource writes a minimal typed .tres resource.
func (e *Engine) CreateResource(path, resType string) error {
	if resType == "" {
		return fmt.Errorf("resource type is required")
	}
	abs, err := e.resolve(path)
	if err != nil {
		return err
	}
	return e.write(abs, []byte(newResource(resType).String()))
}

// CreateScene writes a fresh single-node .tscn scene.
func (e *Engine) CreateScene(path, rootName, rootType string) error {
	if rootName == "" {
		rootName = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if rootType == "" {
		rootType = "Node2D"
	}
	abs, err := e.resolve(path)
	if err != nil {
		return err
	}
	return e.write(abs, []byte(newScene(rootName, rootType).String()))
}

// AddNode appends a node to an existing scene. parent defaults to the
// scene root (".").
func (e *Engine) AddNode(scenePath, name, nodeType, parent string) error {
	if name == "" || nodeType == "" {
		return fmt.Errorf("node name and type are required")
	}
	if parent == "" {
		parent = "."
	}
	return e.editScene(scenePath, func(doc *sceneDoc) error {
		if doc.findNode(name) >= 0 {
			return fmt.Errorf("node %q already exists in %s", name, scenePath)
		}
		doc.addNode(name, nodeType, parent)
		return nil
	})
}

// ConnectSignal appends a connection section to a scene.
func (e *Engine) ConnectSignal(scenePath, signal, from, to, method string) error {
	if signal == "" || method == "" {
		return fmt.Errorf("signal and method are required")
	}
	if from == "" {
		from = "."
	}
	if to == "" {
		to = "."
	}
	return e.editScene(scenePath, func(doc *sceneDoc) error {
		doc.addConnection(signal, from, to, method)
		return nil
	})
}

// InstanceScene adds an instance of another scene under parent.
func (e *Engine) InstanceScene(scenePath, instancePath, name, parent string) error {
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(instancePath), filepath.Ext(instancePath))
	}
	if parent == "" {
		parent = "."
	}
	if _, err := e.resolve(instancePath); err != nil {
		return err
	}
	return e.editScene(scenePath, func(doc *sceneDoc) error {
		id := doc.addExtResource("PackedScene", resPath(instancePath))
		doc.addInstance(name, parent, id)
		return nil
	})
}

// LoadSprite adds a Sprite2D node referencing a texture.
func (e *Engine) LoadSprite(scenePath, texturePath, name, parent string) error {
	if name == "" {
		name = "Sprite"
	}
	if parent == "" {
		parent = "."
	}
	texAbs, err := e.resolve(texturePath)
	if err != nil {
		return err
	}
	if _, err := e.fs.Stat(texAbs); err != nil {
		return fmt.Errorf("texture not found: %s", texturePath)
	}
	return e.editScene(scenePath, func(doc *sceneDoc) error {
		if doc.findNode(name) >= 0 {
			return fmt.Errorf("node %q already exists in %s", name, scenePath)
		}
		id := doc.addExtResource("Texture2D", resPath(texturePath))
		doc.addNode(name, "Sprite2D", parent)
		doc.setNodeProperty(len(doc.sections)-1, "texture", fmt.Sprintf("ExtResource(%q)", id))
		return nil
	})
}

// CreateTilemap adds a TileMapLayer node to a scene, creating the scene
// if it does not exist.
func (e *Engine) CreateTilemap(scenePath, name string) error {
	if name == "" {
		name = "TileMap"
	}
	abs, err := e.resolve(scenePath)
	if err != nil {
		return err
	}
	if _, err := e.fs.Stat(abs); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("reading %s: %w", scenePath, err)
		}
		if err := e.CreateScene(scenePath, "", "Node2D"); err != nil {
			return err
		}
	}
	return e.editScene(scenePath, func(doc *sceneDoc) error {
		if doc.findNode(name) >= 0 {
			return fmt.Errorf("node %q already exists in %s", name, scenePath)
		}
		doc.addNode(name, "TileMapLayer", ".")
		return nil
	})
}

// ValidateScene parses a scene and returns structural problems.
func (e *Engine) ValidateScene(scenePath string) ([]string, error) {
	abs, err := e.resolve(scenePath)
	if err != nil {
		return nil, err
	}
	data, err := e.fs.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", scenePath, err)
	}
	doc, err := parseScene(string(data))
	if err != nil {
		return []string{err.Error()}, nil
	}
	return validateDoc(doc), nil
}

// SaveScene re-renders a scene to canonical form, verifying it parses.
func (e *Engine) SaveScene(scenePath string) error {
	return e.editScene(scenePath, func(*sceneDoc) error { return nil })
}

// ResaveResources rewrites every .tscn and .tres under the root to
// canonical form. Destructive: requires the escape-hatch variable to
// name a directory containing the root.
func (e *Engine) ResaveResources() (int, error) {
	if err := e.destructiveAllowed(); err != nil {
		return 0, err
	}
	count := 0
	err := e.walkResources(e.root, func(abs string) error {
		data, err := e.fs.ReadFile(abs)
		if err != nil {
			return err
		}
		doc, err := parseScene(string(data))
		if err != nil {
			return fmt.Errorf("%s: %w", abs, err)
		}
		if err := e.write(abs, []byte(doc.String())); err != nil {
			return err
		}
		count++
		return nil
	})
	return count, err
}

// destructiveAllowed checks the escape hatch scoping.
func (e *Engine) destructiveAllowed() error {
	scope, ok := e.lookupEnv(EnvAllowDestructive)
	if !ok || scope == "" {
		return fmt.Errorf("destructive operation refused: %s is not set", EnvAllowDestructive)
	}
	rel, err := filepath.Rel(filepath.Clean(scope), e.root)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("destructive operation refused: project root %s is outside %s scope %s", e.root, EnvAllowDestructive, scope)
	}
	return nil
}

// walkResources visits every .tscn/.tres file under dir.
func (e *Engine) walkResources(dir string, fn func(abs string) error) error {
	entries, err := e.fs.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		name := entry.Name()
		abs := filepath.Join(dir, name)
		if entry.IsDir() {
			if strings.HasPrefix(name, ".") {
				continue
			}
			if err := e.walkResources(abs, fn); err != nil {
				return err
			}
			continue
		}
		ext := filepath.Ext(name)
		if ext != ".tscn" && ext != ".tres" {
			continue
		}
		if err := fn(abs); err != nil {
			return err
		}
	}
	return nil
}

// editScene loads, mutates, and rewrites a scene document.
func (e *Engine) editScene(scenePath string, mutate func(*sceneDoc) error) error {
	abs, err := e.resolve(scenePath)
	if err != nil {
		return err
	}
	data, err := e.fs.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("reading %s: %w", scenePath, err)
	}
	doc, err := parseScene(string(data))
	if err != nil {
		return fmt.Errorf("parsing %s: %w", scenePath, err)
	}
	if err := mutate(doc); err != nil {
		return err
	}
	return e.write(abs, []byte(doc.String()))
}

// resPath normalizes a project-relative path to res:// form.
func resPath(p string) string {
	p = strings.TrimPrefix(p, "res://")
	return "res://" + filepath.ToSlash(p)
}
