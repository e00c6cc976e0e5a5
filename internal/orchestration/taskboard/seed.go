package taskboard

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SeedTask is one entry of a seed file.
type SeedTask struct {
	ID       string `yaml:"id"`
	Priority int    `yaml:"priority"`
	Prompt   string `yaml:"prompt"`
}

// SeedFile is the on-disk list of tasks to put on the board.
//
//	tasks:
//	  - id: refactor-parser
//	    priority: 2
//	    prompt: Refactor the parser for better error messages.
type SeedFile struct {
	Tasks []SeedTask `yaml:"tasks"`
}

// LoadSeedFile reads tasks from a YAML seed file. Entries without an ID get
// one derived from their position so reloading the same file is idempotent.
func LoadSeedFile(path string) ([]Task, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(data, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
}

// ParseSeed decodes seed YAML. prefix names generated IDs.
func ParseSeed(data []byte, prefix string) ([]Task, error) {
	var f SeedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}

	tasks := make([]Task, 0, len(f.Tasks))
	seen := make(map[string]bool, len(f.Tasks))
	for i, st := range f.Tasks {
		if strings.TrimSpace(st.Prompt) == "" {
			return nil, fmt.Errorf("%w: seed entry %d has no prompt", ErrInvalidTask, i+1)
		}
		id := st.ID
		if id == "" {
			id = fmt.Sprintf("%s-%d", prefix, i+1)
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: %s appears twice in seed file", ErrDuplicateTask, id)
		}
		seen[id] = true
		tasks = append(tasks, Task{ID: id, Priority: st.Priority, Payload: st.Prompt})
	}
	return tasks, nil
}
