package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// QueueFile is the root object decoded from a queue file: process config,
// lifecycle hooks, and the ticket list.
type QueueFile struct {
	Config  *Config  `json:"config,omitempty" yaml:"config,omitempty"`
	Hooks   *Hooks   `json:"hooks,omitempty" yaml:"hooks,omitempty"`
	Tickets []Ticket `json:"tickets" yaml:"tickets"`
}

// LoadFile reads a queue file (YAML or JSON, selected by extension) and
// returns its decoded contents after applying the security and structural
// invariants this layer is responsible for: skipPermissions may never come
// from queue-file data, ticket ids/titles/descriptions must fall in their
// documented length ranges, default fields are filled in, and the
// dependency graph must be acyclic.
func LoadFile(path string) (*QueueFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("queue: read queue file: %w", err)
	}

	var qf QueueFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &qf); err != nil {
			return nil, fmt.Errorf("queue: parse yaml queue file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &qf); err != nil {
			return nil, fmt.Errorf("queue: parse json queue file: %w", err)
		}
	default:
		return nil, fmt.Errorf("queue: unrecognized queue file extension %q", ext)
	}

	if qf.Config != nil && qf.Config.SkipPermissions {
		return nil, fmt.Errorf("queue: config.skipPermissions must not be set from queue-file data")
	}

	for i := range qf.Tickets {
		t := &qf.Tickets[i]
		if l := len(t.ID); l < 1 || l > 100 {
			return nil, fmt.Errorf("queue: ticket id %q must be 1..100 characters", t.ID)
		}
		if l := len(t.Title); l < 1 || l > 200 {
			return nil, fmt.Errorf("queue: ticket %q: title must be 1..200 characters", t.ID)
		}
		if l := len(t.Description); l < 1 || l > 50000 {
			return nil, fmt.Errorf("queue: ticket %q: description must be 1..50000 characters", t.ID)
		}
		if t.Status == "" {
			t.Status = StatusPending
		}
	}

	if err := CheckCycles(qf.Tickets); err != nil {
		return nil, err
	}

	return &qf, nil
}

// ValidateAutonomousRisk enforces the startup-time security invariant that
// the combination of skipPermissions and autoApprove requires an explicit,
// out-of-band risk acknowledgment (never settable from the queue file
// itself, see LoadFile).
func ValidateAutonomousRisk(cfg Config) error {
	if cfg.SkipPermissions && cfg.AutoApprove && !cfg.AcknowledgeAutonomousRisk {
		return fmt.Errorf("queue: skipPermissions+autoApprove requires an explicit autonomous-risk acknowledgment")
	}
	return nil
}
