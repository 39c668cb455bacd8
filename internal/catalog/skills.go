package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/taskforge/internal/core"
)

const skillFile = "SKILL.md"

// loadSkills reads <skillsDir>/*/SKILL.md headers.
func (l *Loader) loadSkills() ([]core.Skill, []LoadIssue) {
	if l.skillsDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(l.skillsDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, []LoadIssue{{Path: l.skillsDir, Err: err}}
	}

	var (
		skills []core.Skill
		issues []LoadIssue
	)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		full := filepath.Join(l.skillsDir, entry.Name(), skillFile)
		data, err := os.ReadFile(full)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			issues = append(issues, LoadIssue{Path: full, Err: err})
			continue
		}
		skill, err := ParseSkill(entry.Name(), string(data))
		if err != nil {
			issues = append(issues, LoadIssue{Path: full, Err: err})
			continue
		}
		skills = append(skills, skill)
	}
	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })
	return skills, issues
}

// ParseSkill parses a SKILL.md record; dirName is the fallback name.
func ParseSkill(dirName, content string) (core.Skill, error) {
	headerText, _, ok := splitFrontmatter(content)
	if !ok {
		return core.Skill{}, fmt.Errorf("missing --- delimited header")
	}
	var h skillHeader
	if err := yaml.Unmarshal([]byte(headerText), &h); err != nil {
		return core.Skill{}, fmt.Errorf("parsing header: %w", err)
	}
	name := strings.TrimSpace(h.Name)
	if name == "" {
		name = dirName
	}
	return core.Skill{
		Name:        name,
		Description: strings.TrimSpace(h.Description),
		Tags:        dedupe(h.Tags),
	}, nil
}
