// Package skills loads reusable prompt playbooks from the database and from
// SKILL.md files in user workspaces.
package skills

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Skill sources, in resolution precedence order.
const (
	SourceWorkspace = "workspace"
	SourceShared    = "shared"
	SourceDB        = "db"
)

// Skill is a named instruction block injected into the system prompt when
// selected by routing or forced by a workflow step.
type Skill struct {
	Name        string
	Description string
	Content     string
	Source      string
}

type frontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// LoadFile reads a SKILL.md file. YAML frontmatter supplies name and
// description; fallbackName is used when the frontmatter has no name
// (typically the containing directory).
func LoadFile(path, fallbackName, source string) (*Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read skill %s: %w", path, err)
	}

	var fm frontmatter
	body := string(data)
	if rest, ok := strings.CutPrefix(body, "---\n"); ok {
		if meta, after, found := strings.Cut(rest, "\n---"); found {
			if err := yaml.Unmarshal([]byte(meta), &fm); err != nil {
				return nil, fmt.Errorf("parse skill %s frontmatter: %w", path, err)
			}
			body = strings.TrimPrefix(after, "\n")
		}
	}

	name := strings.TrimSpace(fm.Name)
	if name == "" {
		name = fallbackName
	}
	if name == "" {
		return nil, fmt.Errorf("skill %s has no name", path)
	}

	return &Skill{
		Name:        name,
		Description: strings.TrimSpace(fm.Description),
		Content:     strings.TrimSpace(body),
		Source:      source,
	}, nil
}
