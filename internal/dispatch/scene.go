package dispatch

import (
	"fmt"
	"strconv"
	"strings"
)

// sceneDoc is a minimal model of Godot's text scene/resource format:
// a descriptor line followed by bracketed sections, each with key=value
// body lines. Only the subset the dispatcher emits is understood.
type sceneDoc struct {
	descriptor string // full first line, e.g. [gd_scene format=3]
	sections   []section
}

type section struct {
	header string // inside the brackets, e.g. node name="X" type="Node2D"
	lines  []string
}

// parseScene parses text into a sceneDoc. It accepts both gd_scene and
// gd_resource documents.
func parseScene(text string) (*sceneDoc, error) {
	doc := &sceneDoc{}
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimRight(raw, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "[") {
			if !strings.HasSuffix(trimmed, "]") {
				return nil, fmt.Errorf("unterminated section header: %s", trimmed)
			}
			header := trimmed[1 : len(trimmed)-1]
			if doc.descriptor == "" {
				if !strings.HasPrefix(header, "gd_scene") && !strings.HasPrefix(header, "gd_resource") {
					return nil, fmt.Errorf("not a scene or resource document: [%s]", header)
				}
				doc.descriptor = trimmed
				continue
			}
			doc.sections = append(doc.sections, section{header: header})
			continue
		}
		if doc.descriptor == "" {
			return nil, fmt.Errorf("content before document descriptor: %s", trimmed)
		}
		if len(doc.sections) == 0 {
			return nil, fmt.Errorf("content outside any section: %s", trimmed)
		}
		s := &doc.sections[len(doc.sections)-1]
		s.lines = append(s.lines, trimmed)
	}
	if doc.descriptor == "" {
		return nil, fmt.Errorf("empty document")
	}
	return doc, nil
}

// String renders the document back to canonical text with one blank
// line between sections.
func (d *sceneDoc) String() string {
	var b strings.Builder
	b.WriteString(d.descriptor)
	b.WriteString("\n")
	for _, s := range d.sections {
		b.WriteString("\n[")
		b.WriteString(s.header)
		b.WriteString("]\n")
		for _, l := range s.lines {
			b.WriteString(l)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// attr extracts a quoted attribute value from a section header, e.g.
// attr(`node name="X" type="Node2D"`, "name") == "X".
func attr(header, key string) string {
	marker := key + `="`
	i := strings.Index(header, marker)
	if i < 0 {
		return ""
	}
	rest := header[i+len(marker):]
	j := strings.Index(rest, `"`)
	if j < 0 {
		return ""
	}
	return rest[:j]
}

// findNode returns the index of the node section with the given name,
// or -1.
func (d *sceneDoc) findNode(name string) int {
	for i, s := range d.sections {
		if strings.HasPrefix(s.header, "node ") && attr(s.header, "name") == name {
			return i
		}
	}
	return -1
}

// addNode appends a node section. parent may be empty for the root.
func (d *sceneDoc) addNode(name, nodeType, parent string) {
	header := fmt.Sprintf("node name=%q type=%q", name, nodeType)
	if parent != "" {
		header += fmt.Sprintf(" parent=%q", parent)
	}
	d.sections = append(d.sections, section{header: header})
}

// addInstance appends a node section instancing an ext resource.
func (d *sceneDoc) addInstance(name, parent, extID string) {
	header := fmt.Sprintf("node name=%q parent=%q instance=ExtResource(%q)", name, parent, extID)
	d.sections = append(d.sections, section{header: header})
}

// addConnection appends a connection section.
func (d *sceneDoc) addConnection(signal, from, to, method string) {
	d.sections = append(d.sections, section{
		header: fmt.Sprintf("connection signal=%q from=%q to=%q method=%q", signal, from, to, method),
	})
}

// addExtResource registers an external resource and returns its id.
// Ext resources sort before node sections so Godot can resolve them.
func (d *sceneDoc) addExtResource(resType, path string) string {
	id := strconv.Itoa(d.countExt()+1) + "_" + shortHash(path)
	s := section{header: fmt.Sprintf("ext_resource type=%q path=%q id=%q", resType, path, id)}

	insert := 0
	for i, sec := range d.sections {
		if strings.HasPrefix(sec.header, "ext_resource") {
			insert = i + 1
		}
	}
	d.sections = append(d.sections[:insert], append([]section{s}, d.sections[insert:]...)...)
	return id
}

func (d *sceneDoc) countExt() int {
	n := 0
	for _, s := range d.sections {
		if strings.HasPrefix(s.header, "ext_resource") {
			n++
		}
	}
	return n
}

// setNodeProperty sets key=value on the node section at index i.
func (d *sceneDoc) setNodeProperty(i int, key, value string) {
	s := &d.sections[i]
	prefix := key + " = "
	for li, l := range s.lines {
		if strings.HasPrefix(l, prefix) {
			s.lines[li] = prefix + value
			return
		}
	}
	s.lines = append(s.lines, prefix+value)
}

// shortHash derives a short stable suffix for ext resource ids.
func shortHash(s string) string {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	const alphabet = "abcdefghijklmnopqrstuvwxyz"
	out := make([]byte, 5)
	for i := range out {
		out[i] = alphabet[h%26]
		h /= 26
	}
	return string(out)
}

// newScene builds a fresh one-node scene document.
func newScene(rootName, rootType string) *sceneDoc {
	doc := &sceneDoc{descriptor: "[gd_scene format=3]"}
	doc.addNode(rootName, rootType, "")
	return doc
}

// newResource builds a fresh typed resource document.
func newResource(resType string) *sceneDoc {
	return &sceneDoc{
		descriptor: fmt.Sprintf("[gd_resource type=%q format=3]", resType),
		sections:   []section{{header: "resource"}},
	}
}

// validateDoc runs structural checks on a parsed document and returns
// human-readable problems. An empty slice means the document is sound.
func validateDoc(d *sceneDoc) []string {
	var problems []string
	isScene := strings.HasPrefix(d.descriptor, "[gd_scene")

	rootSeen := false
	names := map[string]bool{}
	for _, s := range d.sections {
		switch {
		case strings.HasPrefix(s.header, "node"):
			name := attr(s.header, "name")
			if name == "" {
				problems = append(problems, "node section missing name attribute")
				continue
			}
			parent := attr(s.header, "parent")
			if parent == "" {
				if rootSeen {
					problems = append(problems, fmt.Sprintf("second root node %q", name))
				}
				rootSeen = true
			}
			if names[name] {
				problems = append(problems, fmt.Sprintf("duplicate node name %q", name))
			}
			names[name] = true
		case strings.HasPrefix(s.header, "connection"):
			for _, key := range []string{"signal", "from", "to", "method"} {
				if attr(s.header, key) == "" {
					problems = append(problems, fmt.Sprintf("connection missing %s attribute", key))
				}
			}
		}
	}
	if isScene && !rootSeen {
		problems = append(problems, "scene has no root node")
	}
	return problems
}
