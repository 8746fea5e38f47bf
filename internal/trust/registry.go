package trust

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Masterplan16/friday-trust/internal/governance"
	"github.com/Masterplan16/friday-trust/internal/telemetry"
)

// TopicLevelChanged is the event-bus topic for trust-level changes.
const TopicLevelChanged = "trust.level_changed"

// EventEmitter publishes observability events.
type EventEmitter interface {
	Emit(ctx context.Context, topic string, payload map[string]any) error
}

// fileConfig is the YAML layout of the trust-level file of record.
type fileConfig struct {
	Modules map[string]map[string]string `yaml:"modules"`
}

// RegistryConfig wires a Registry.
type RegistryConfig struct {
	Path    string // YAML file of record; empty keeps levels in memory only
	Metrics governance.MetricStore
	Events  EventEmitter
	Logger  *zap.Logger
}

// Registry maps (module, action) to a trust level.
type Registry struct {
	path    string
	metrics governance.MetricStore
	events  EventEmitter
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.RWMutex
	levels map[string]map[string]governance.TrustLevel
}

// LevelEntry is one row of the registry listing.
type LevelEntry struct {
	Module string                `json:"module"`
	Action string                `json:"action"`
	Level  governance.TrustLevel `json:"level"`
}

// NewRegistry creates a Registry, loading cfg.Path if set.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		path:    cfg.Path,
		metrics: cfg.Metrics,
		events:  cfg.Events,
		logger:  logger,
		now:     time.Now,
		levels:  map[string]map[string]governance.TrustLevel{},
	}
	if cfg.Path != "" {
		levels, err := readLevels(cfg.Path)
		if err != nil {
			return nil, err
		}
		r.levels = levels
	}
	return r, nil
}

// Get returns the level of (module, action), or an ErrUnknownAction error.
func (r *Registry) Get(module, action string) (governance.TrustLevel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	actions, ok := r.levels[module]
	if !ok {
		return "", fmt.Errorf("%w: module %q", governance.ErrUnknownAction, module)
	}
	level, ok := actions[action]
	if !ok {
		return "", fmt.Errorf("%w: %s.%s", governance.ErrUnknownAction, module, action)
	}
	return level, nil
}

// Levels returns every mapping sorted by module then action.
func (r *Registry) Levels() []LevelEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []LevelEntry
	for module, actions := range r.levels {
		for action, level := range actions {
			out = append(out, LevelEntry{Module: module, Action: action, Level: level})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Module != out[j].Module {
			return out[i].Module < out[j].Module
		}
		return out[i].Action < out[j].Action
	})
	return out
}

// Set changes the level of (module, action): it rewrites the file of record,
// timestamps the metric row and emits TopicLevelChanged.
func (r *Registry) Set(ctx context.Context, module, action string, level governance.TrustLevel, reason string) error {
	if !level.Valid() {
		return fmt.Errorf("Set: %w: %q", governance.ErrInvalidTrustLevel, level)
	}
	if module == "" || action == "" {
		return &governance.ConfigurationError{Module: module, Action: action, Err: fmt.Errorf("module and action are required")}
	}

	// The file of record, the change timestamp and the in-memory map move
	// together: a failed timestamp restores the previous file.
	r.mu.Lock()
	previous := r.levels[module][action]
	next := cloneLevels(r.levels)
	if next[module] == nil {
		next[module] = map[string]governance.TrustLevel{}
	}
	next[module][action] = level
	if r.path != "" {
		if err := writeLevels(r.path, next); err != nil {
			r.mu.Unlock()
			return fmt.Errorf("Set: %w", err)
		}
	}
	at := r.now().UTC()
	if r.metrics != nil {
		if err := r.metrics.RecordTrustChange(ctx, module, action, level, at); err != nil {
			if r.path != "" {
				if rbErr := writeLevels(r.path, r.levels); rbErr != nil {
					r.logger.Error("failed to restore trust level file",
						zap.String("path", r.path),
						zap.Error(rbErr),
					)
				}
			}
			r.mu.Unlock()
			return fmt.Errorf("Set: %w", err)
		}
	}
	r.levels = next
	r.mu.Unlock()

	r.logger.Info("trust level changed",
		zap.String("module", module),
		zap.String("action", action),
		zap.String("from", string(previous)),
		zap.String("to", string(level)),
		zap.String("reason", reason),
	)

	if r.events != nil {
		err := r.events.Emit(ctx, TopicLevelChanged, map[string]any{
			"module":     module,
			"action":     action,
			"old_level":  string(previous),
			"new_level":  string(level),
			"reason":     reason,
			"changed_at": at.Format(time.RFC3339),
		})
		if err != nil {
			r.logger.Warn("trust level event emission failed",
				zap.String("module", module),
				zap.String("action", action),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Watch reloads the file of record when it changes on disk until ctx is done.
func (r *Registry) Watch(ctx context.Context) error {
	if r.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("Watch: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: an atomic rename replaces the file's inode.
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		return fmt.Errorf("Watch: %w", err)
	}

	target := filepath.Clean(r.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			r.reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("trust level watcher error", zap.Error(err))
		}
	}
}

func (r *Registry) reload() {
	levels, err := readLevels(r.path)
	if err != nil {
		r.logger.Warn("trust level reload failed, keeping previous levels",
			zap.String("path", r.path),
			zap.Error(err),
		)
		return
	}
	r.mu.Lock()
	r.levels = levels
	r.mu.Unlock()
	r.logger.Info("trust levels reloaded", zap.String("path", r.path))
}

func readLevels(path string) (map[string]map[string]governance.TrustLevel, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trust levels: %w", err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse trust levels: %w", err)
	}
	if len(cfg.Modules) == 0 {
		return nil, fmt.Errorf("%w: %s defines no modules", governance.ErrConfiguration, path)
	}

	levels := make(map[string]map[string]governance.TrustLevel, len(cfg.Modules))
	for module, actions := range cfg.Modules {
		levels[module] = make(map[string]governance.TrustLevel, len(actions))
		for action, s := range actions {
			level, err := governance.ParseTrustLevel(s)
			if err != nil {
				return nil, &governance.ConfigurationError{Module: module, Action: action, Err: err}
			}
			levels[module][action] = level
		}
	}
	return levels, nil
}

// writeLevels replaces the file atomically via a temp file and rename.
func writeLevels(path string, levels map[string]map[string]governance.TrustLevel) error {
	cfg := fileConfig{Modules: map[string]map[string]string{}}
	for module, actions := range levels {
		cfg.Modules[module] = map[string]string{}
		for action, level := range actions {
			cfg.Modules[module][action] = string(level)
		}
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode trust levels: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".trust-levels-*.yaml")
	if err != nil {
		return fmt.Errorf("write trust levels: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write trust levels: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write trust levels: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write trust levels: %w", err)
	}
	return nil
}

func cloneLevels(in map[string]map[string]governance.TrustLevel) map[string]map[string]governance.TrustLevel {
	out := make(map[string]map[string]governance.TrustLevel, len(in))
	for module, actions := range in {
		out[module] = make(map[string]governance.TrustLevel, len(actions))
		for action, level := range actions {
			out[module][action] = level
		}
	}
	return out
}

// recordChange counts a level change for metrics.
func recordChange(cause string, to governance.TrustLevel) {
	telemetry.TrustChangesTotal.WithLabelValues(cause, string(to)).Inc()
}
