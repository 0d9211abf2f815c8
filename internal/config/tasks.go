package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aristath/agentflow/internal/scheduler"
)

// taskDef is one entry of a task file. JSON files parse too, since JSON is YAML.
type taskDef struct {
	ID           string   `yaml:"id"`
	Role         string   `yaml:"role"`
	Priority     int      `yaml:"priority"`
	Dependencies []string `yaml:"dependencies"`
	Payload      any      `yaml:"payload"`
	Timeout      string   `yaml:"timeout"`
	MaxRetries   int      `yaml:"max_retries"`
	Resources    []string `yaml:"resources"`
}

type taskFile struct {
	Tasks []taskDef `yaml:"tasks"`
}

// LoadTasks reads task definitions from a YAML or JSON file.
func LoadTasks(path string) ([]scheduler.Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	specs, err := ParseTasks(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return specs, nil
}

// ParseTasks decodes task definitions. The document is either a mapping with a
// "tasks" list or a bare list of tasks. Timeouts use Go duration syntax ("90s").
func ParseTasks(data []byte) ([]scheduler.Spec, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("empty task file")
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	var defs []taskDef
	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&defs); err != nil {
			return nil, err
		}
	case yaml.MappingNode:
		var file taskFile
		if err := root.Decode(&file); err != nil {
			return nil, err
		}
		defs = file.Tasks
	default:
		return nil, fmt.Errorf("line %d: expected a task list or a mapping with a tasks key", root.Line)
	}

	specs := make([]scheduler.Spec, 0, len(defs))
	for i, def := range defs {
		if def.ID == "" {
			return nil, fmt.Errorf("task %d: id is required", i)
		}
		if def.MaxRetries < 0 {
			return nil, fmt.Errorf("task %q: max_retries must not be negative", def.ID)
		}

		var timeout time.Duration
		if def.Timeout != "" {
			parsed, err := time.ParseDuration(def.Timeout)
			if err != nil {
				return nil, fmt.Errorf("task %q: invalid timeout: %w", def.ID, err)
			}
			if parsed < 0 {
				return nil, fmt.Errorf("task %q: timeout must not be negative", def.ID)
			}
			timeout = parsed
		}

		specs = append(specs, scheduler.Spec{
			ID:           def.ID,
			Role:         def.Role,
			Priority:     def.Priority,
			Dependencies: def.Dependencies,
			Payload:      def.Payload,
			Timeout:      timeout,
			MaxRetries:   def.MaxRetries,
			Resources:    def.Resources,
		})
	}
	return specs, nil
}

// SchedulerWorkflows converts the configured workflows, sorted by name.
func (c *Config) SchedulerWorkflows() []scheduler.Workflow {
	names := sortedKeys(c.Workflows)
	workflows := make([]scheduler.Workflow, 0, len(names))
	for _, name := range names {
		steps := make([]string, 0, len(c.Workflows[name].Steps))
		for _, step := range c.Workflows[name].Steps {
			steps = append(steps, step.Agent)
		}
		workflows = append(workflows, scheduler.Workflow{Name: name, Steps: steps})
	}
	return workflows
}
