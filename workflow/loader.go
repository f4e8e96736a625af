package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Overlay refines the built-in catalogue from a YAML file. Overlays can
// rename workflows and stages and adjust hints; they never add or remove
// stages, so a running plan stays consistent with its workflow.
type Overlay struct {
	Workflows []WorkflowOverlay `yaml:"workflows"`
}

// WorkflowOverlay refines one workflow.
type WorkflowOverlay struct {
	ID     string         `yaml:"id"`
	Name   string         `yaml:"name,omitempty"`
	Stages []StageOverlay `yaml:"stages,omitempty"`
}

// StageOverlay refines one stage.
type StageOverlay struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name,omitempty"`
	ArtifactName string `yaml:"artifact_name,omitempty"`
	Hint         string `yaml:"hint,omitempty"`
}

// LoadOverlayFile parses one overlay YAML file.
func LoadOverlayFile(path string) (*Overlay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read overlay: %w", err)
	}

	var overlay Overlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("parse overlay %s: %w", path, err)
	}
	return &overlay, nil
}

// LoadOverlayDir loads every *.yaml overlay in a directory, sorted by file
// name so precedence is deterministic.
func LoadOverlayDir(dir string) ([]*Overlay, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read overlay dir: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)

	overlays := make([]*Overlay, 0, len(paths))
	for _, path := range paths {
		overlay, err := LoadOverlayFile(path)
		if err != nil {
			return nil, err
		}
		overlays = append(overlays, overlay)
	}
	return overlays, nil
}

// ApplyOverlay refines matching workflows in place. Unknown workflow or stage
// ids are reported as errors so typos in overlay files surface instead of
// being silently ignored.
func (r *Registry) ApplyOverlay(overlay *Overlay) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, wo := range overlay.Workflows {
		wf, ok := r.workflows[wo.ID]
		if !ok {
			return fmt.Errorf("overlay references unknown workflow: %s", wo.ID)
		}
		if wo.Name != "" {
			wf.Name = wo.Name
		}
		for _, so := range wo.Stages {
			stage, err := wf.Stage(so.ID)
			if err != nil {
				return fmt.Errorf("overlay: %w", err)
			}
			if so.Name != "" {
				stage.Name = so.Name
			}
			if so.ArtifactName != "" {
				stage.ArtifactName = so.ArtifactName
			}
			if so.Hint != "" {
				stage.Hint = so.Hint
			}
		}
	}
	return nil
}
