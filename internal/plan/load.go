package plan

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadFile reads a Plan from a JSON file at path and validates it. This is
// the format cmd/recorderd and cmd/recorder-wizard exchange: the wizard
// writes a plan file, recorderd loads and runs it.
func LoadFile(path string) (Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("plan: read %s: %w", path, err)
	}
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return Plan{}, fmt.Errorf("plan: parse %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return Plan{}, fmt.Errorf("plan: %s: %w", path, err)
	}
	return p, nil
}

// SaveFile writes p as indented JSON to path.
func SaveFile(path string, p Plan) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("plan: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("plan: write %s: %w", path, err)
	}
	return nil
}
