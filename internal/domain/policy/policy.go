// Package policy loads and serves the process-wide tool risk table: which
// tools are safe to run unattended, which always demand explicit user
// confirmation, and what to do with a tool nobody declared a level for.
package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync/atomic"
)

// RiskLevel classifies how much damage a tool call can do if wrong.
type RiskLevel string

const (
	RiskSafe        RiskLevel = "safe"
	RiskModerate    RiskLevel = "moderate"
	RiskDestructive RiskLevel = "destructive"
)

// UndefinedPolicy says how to classify a tool with no entry in ToolLevels.
type UndefinedPolicy string

const (
	UndefinedDeny     UndefinedPolicy = "deny"     // treat as destructive
	UndefinedModerate UndefinedPolicy = "moderate" // treat as moderate
)

// Table is one immutable snapshot of the policy file ("policy.json").
type Table struct {
	ToolLevels          map[string]RiskLevel `json:"tool_levels"`
	AlwaysConfirmTools  []string             `json:"always_confirm_tools"`
	UndefinedToolPolicy UndefinedPolicy      `json:"undefined_tool_policy"`

	alwaysConfirm map[string]struct{}
}

func (t *Table) index() {
	t.alwaysConfirm = make(map[string]struct{}, len(t.AlwaysConfirmTools))
	for _, name := range t.AlwaysConfirmTools {
		t.alwaysConfirm[name] = struct{}{}
	}
}

// fallbackTable is used when the policy file is missing, matching the
// "missing file → hardcoded fallback identical in shape" requirement.
func fallbackTable() *Table {
	t := &Table{
		ToolLevels:          map[string]RiskLevel{},
		AlwaysConfirmTools:  []string{},
		UndefinedToolPolicy: UndefinedDeny,
	}
	t.index()
	return t
}

// confirmationTemplates maps a tool name to a Turkish prompt template with
// at most one positional "%s" placeholder, filled from the call params.
// Unknown tools fall back to a generic phrasing.
var confirmationTemplates = map[string]string{
	"calendar.delete_event": "'%s' etkinliği silinsin mi?",
	"mail.send":             "'%s' kişisine e-posta gönderilsin mi?",
	"reminder.delete":       "Hatırlatıcı silinsin mi?",
}

// Registry is the process-wide policy table, swapped atomically on Reload
// so readers never observe a torn update.
type Registry struct {
	table atomic.Pointer[Table]
	path  string
}

// NewRegistry builds a Registry already holding the fallback table; call
// Load to read from disk.
func NewRegistry() *Registry {
	r := &Registry{}
	r.table.Store(fallbackTable())
	return r
}

// Load reads the policy.json document at path, replacing the current table
// atomically. A missing file leaves the fallback table in place and returns
// no error (this is not a fatal condition); an unparseable
// file is reported so the caller can decide whether to keep running on the
// previous snapshot.
func (r *Registry) Load(path string) error {
	r.path = path
	data, err := os.ReadFile(path)
	if err != nil {
		r.table.Store(fallbackTable())
		return nil
	}
	t := &Table{}
	if err := json.Unmarshal(data, t); err != nil {
		return fmt.Errorf("parse policy file %s: %w", path, err)
	}
	if t.ToolLevels == nil {
		t.ToolLevels = map[string]RiskLevel{}
	}
	if t.UndefinedToolPolicy == "" {
		t.UndefinedToolPolicy = UndefinedDeny
	}
	t.index()
	r.table.Store(t)
	return nil
}

// Reload re-reads the file most recently passed to Load.
func (r *Registry) Reload() error {
	if r.path == "" {
		return nil
	}
	return r.Load(r.path)
}

func (r *Registry) current() *Table {
	return r.table.Load()
}

// RiskOf classifies tool, resolving undefined tools through the table's
// UndefinedToolPolicy.
func (r *Registry) RiskOf(tool string) RiskLevel {
	t := r.current()
	if level, ok := t.ToolLevels[tool]; ok {
		return level
	}
	if t.UndefinedToolPolicy == UndefinedModerate {
		return RiskModerate
	}
	return RiskDestructive
}

// AlwaysConfirm reports whether tool is in the always-confirm set
// regardless of its risk level.
func (r *Registry) AlwaysConfirm(tool string) bool {
	_, ok := r.current().alwaysConfirm[tool]
	return ok
}

// RequiresConfirmation is true if tool is destructive or always-confirm,
// or else the planner's own requested flag.
func (r *Registry) RequiresConfirmation(tool string, plannerRequested bool) bool {
	if r.RiskOf(tool) == RiskDestructive || r.AlwaysConfirm(tool) {
		return true
	}
	return plannerRequested
}

// ConfirmationPrompt renders a Turkish confirmation prompt for tool,
// substituting the first non-empty string-valued param, in param-name
// order, into the template. Falls
// back to a generic "execute X? (yes/no)" phrasing if no template matches
// or substitution fails.
func (r *Registry) ConfirmationPrompt(tool string, params map[string]any) string {
	tmpl, ok := confirmationTemplates[tool]
	if !ok {
		return fmt.Sprintf("%s çalıştırılsın mı? (evet/hayır)", tool)
	}
	if !strings.Contains(tmpl, "%s") {
		return tmpl
	}
	subject := firstStringValue(params)
	if subject == "" {
		return fmt.Sprintf("%s çalıştırılsın mı? (evet/hayır)", tool)
	}
	return fmt.Sprintf(tmpl, subject)
}

func firstStringValue(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s, ok := params[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// TrustTool promotes tool out of the always-confirm set at runtime.
func (r *Registry) TrustTool(name string) {
	old := r.current()
	next := cloneTable(old)
	delete(next.alwaysConfirm, name)
	next.AlwaysConfirmTools = setToSlice(next.alwaysConfirm)
	r.table.Store(next)
}

// UntrustTool adds tool back to the always-confirm set at runtime.
func (r *Registry) UntrustTool(name string) {
	old := r.current()
	next := cloneTable(old)
	next.alwaysConfirm[name] = struct{}{}
	next.AlwaysConfirmTools = setToSlice(next.alwaysConfirm)
	r.table.Store(next)
}

func cloneTable(t *Table) *Table {
	levels := make(map[string]RiskLevel, len(t.ToolLevels))
	for k, v := range t.ToolLevels {
		levels[k] = v
	}
	confirm := make(map[string]struct{}, len(t.alwaysConfirm))
	for k, v := range t.alwaysConfirm {
		confirm[k] = v
	}
	return &Table{
		ToolLevels:          levels,
		UndefinedToolPolicy: t.UndefinedToolPolicy,
		alwaysConfirm:       confirm,
	}
}

func setToSlice(s map[string]struct{}) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	return out
}
