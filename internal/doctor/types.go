// Package doctor aggregates environment diagnostics for the dispatcher:
// executable resolution, project bridge setup, a dispatcher self-test,
// and bridge connectivity, executed in dependency order. Stages that
// lose their prerequisites are skipped with a reason rather than
// cascading failures.
package doctor

import "time"

// StageResult holds the outcome of one diagnostic stage.
type StageResult struct {
	// Name identifies the stage: "godot", "project", "selftest", "bridge".
	Name string `json:"name"`
	// OK reports whether the stage passed. Skipped stages are OK.
	OK bool `json:"ok"`
	// Skipped is true when a prerequisite was missing; Summary says which.
	Skipped bool `json:"skipped,omitempty"`
	// Summary is a one-line human-readable outcome.
	Summary string `json:"summary"`
	// Details holds extra diagnostic lines shown in verbose mode.
	Details []string `json:"details,omitempty"`
	// Suggestions are remediation steps contributed by this stage.
	Suggestions []string `json:"suggestions,omitempty"`
}

// GodotInfo describes the resolved editor executable.
type GodotInfo struct {
	// Path is the executable the doctor settled on. In lenient mode this
	// may be an unvalidated platform default.
	Path string `json:"path"`
	// Available is true only when Path passed a --version probe.
	Available bool `json:"available"`
	// Candidates lists every path tried during resolution, in order.
	Candidates []string `json:"candidates,omitempty"`
}

// ProjectInfo describes the bridge-relevant state of the target project.
// Flags reflect the state after reconciliation ran.
type ProjectInfo struct {
	Path            string `json:"path"`
	HasProjectGodot bool   `json:"hasProjectGodot"`
	AddonPresent    bool   `json:"addonPresent"`
	PluginEnabled   bool   `json:"pluginEnabled"`
	TokenPresent    bool   `json:"tokenPresent"`
	LockPresent     bool   `json:"lockPresent"`
}

// Result is the aggregate outcome of a doctor run.
type Result struct {
	// OK is the conjunction of every non-skipped stage.
	OK bool `json:"ok"`
	// Stages lists stage results in execution order.
	Stages []StageResult `json:"stages"`
	// Godot is always populated; Project only when a project path was given.
	Godot   GodotInfo    `json:"godot"`
	Project *ProjectInfo `json:"project,omitempty"`
	// Suggestions pools every stage's suggestions, deduplicated by exact
	// string with first-occurrence order preserved.
	Suggestions []string  `json:"suggestions,omitempty"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// stage looks up a stage result by name, or nil.
func (r *Result) stage(name string) *StageResult {
	for i := range r.Stages {
		if r.Stages[i].Name == name {
			return &r.Stages[i]
		}
	}
	return nil
}
