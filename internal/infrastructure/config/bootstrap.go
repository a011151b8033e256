package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// AppName is the canonical application name
const AppName = "bantz"

// WorkspaceDirName is the ".bantz" directory name. Load does not read a
// .bantz/ directory in a project root; project-local overrides come from
// ./config/config.yaml or ./config.yaml.
const WorkspaceDirName = "." + AppName

// HomeDir returns Bantz's configuration home: ~/.bantz
func HomeDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+AppName)
}

// Bootstrap ensures the ~/.bantz directory exists with all default content.
// Called once at startup. Safe to call multiple times — only creates missing items.
func Bootstrap(logger *zap.Logger) error {
	root := HomeDir()

	dirs := []string{
		root,
		filepath.Join(root, "memory"),
		filepath.Join(root, "logs"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	// Default files — only written if they don't already exist (never overwrite user edits)
	defaults := map[string]string{
		filepath.Join(root, "config.yaml"): defaultConfig,
		filepath.Join(root, "policy.json"): defaultPolicy,
	}

	created := 0
	for path, content := range defaults {
		if _, err := os.Stat(path); err == nil {
			continue // Already exists, skip
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			logger.Warn("Failed to write default file", zap.String("path", path), zap.Error(err))
			continue
		}
		created++
	}

	if created > 0 {
		logger.Info("Bantz bootstrap complete",
			zap.String("home", root),
			zap.Int("files_created", created),
		)
	} else {
		logger.Debug("Bantz home directory OK", zap.String("home", root))
	}

	return nil
}

// ──────────────────────────────────────────────────────────────
// Embedded default file contents
// ──────────────────────────────────────────────────────────────

const defaultConfig = `# ═══════════════════════════════════════════════════════════════
# Bantz Configuration
# Auto-generated on first launch — feel free to edit
# ═══════════════════════════════════════════════════════════════

# ─── Tool risk policy ─────────────────────────────────────────
policy:
  path: ~/.bantz/policy.json

# ─── Voice pipeline latency budget (ms) ───────────────────────
latency:
  asr_max_ms: 500
  router_max_ms: 100
  tool_max_ms: 1000
  finalizer_max_ms: 500
  tts_max_ms: 300
  end_to_end_max_ms: 2000

# ─── Database ──────────────────────────────────────────────────
# Reminder store.
database:
  type: sqlite                 # sqlite | postgres
  dsn: bantz.db

# ─── Logging ───────────────────────────────────────────────────
log:
  level: info                  # debug | info | warn | error
  format: console               # console | json

# ─── Reminder scheduler ────────────────────────────────────────
reminder:
  tick_interval_seconds: 10

# ─── Long-term memory ──────────────────────────────────────────
memory:
  enabled: true
`

const defaultPolicy = `{
  "tool_levels": {
    "weather.get": "safe",
    "calendar.list_events": "safe",
    "reminder.add": "moderate",
    "reminder.list": "safe",
    "reminder.snooze": "moderate",
    "reminder.delete": "destructive",
    "calendar.delete_event": "destructive",
    "mail.send": "destructive"
  },
  "always_confirm_tools": [
    "calendar.delete_event",
    "mail.send",
    "reminder.delete"
  ],
  "undefined_tool_policy": "deny"
}
`
