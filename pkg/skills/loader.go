package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/dotsetgreg/nanobot/pkg/logger"
)

var skillNameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]*$`)

// SkillInfo describes one discovered skill: a directory containing SKILL.md.
type SkillInfo struct {
	Name        string
	Description string
	Path        string
	Source      string
	Always      bool
}

func (s SkillInfo) validate() error {
	var problems []string
	if strings.TrimSpace(s.Name) == "" {
		problems = append(problems, "name is required")
	} else if !skillNameRegex.MatchString(s.Name) {
		problems = append(problems, "name must be alphanumeric with hyphens")
	}
	if strings.TrimSpace(s.Description) == "" {
		problems = append(problems, "description is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid skill: %s", strings.Join(problems, "; "))
	}
	return nil
}

// SkillsLoader discovers skills across the workspace, global config, and
// builtin directories. Workspace skills shadow global ones, which shadow
// builtins.
type SkillsLoader struct {
	workspace  string
	globalDir  string
	builtinDir string
}

func NewSkillsLoader(workspace, globalSkillsDir, builtinSkillsDir string) *SkillsLoader {
	return &SkillsLoader{
		workspace:  workspace,
		globalDir:  globalSkillsDir,
		builtinDir: builtinSkillsDir,
	}
}

type skillRoot struct {
	dir    string
	source string
}

func (l *SkillsLoader) roots() []skillRoot {
	roots := make([]skillRoot, 0, 3)
	if l.workspace != "" {
		roots = append(roots, skillRoot{filepath.Join(l.workspace, "skills"), "workspace"})
	}
	if l.globalDir != "" {
		roots = append(roots, skillRoot{l.globalDir, "global"})
	}
	if l.builtinDir != "" {
		roots = append(roots, skillRoot{l.builtinDir, "builtin"})
	}
	return roots
}

// ListSkills returns all discovered skills, sorted by name. When a skill name
// appears in multiple roots the earliest root wins.
func (l *SkillsLoader) ListSkills() []SkillInfo {
	seen := make(map[string]bool)
	var result []SkillInfo

	for _, root := range l.roots() {
		entries, err := os.ReadDir(root.dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			skillFile := filepath.Join(root.dir, entry.Name(), "SKILL.md")
			raw, err := os.ReadFile(skillFile)
			if err != nil {
				continue
			}

			info := parseSkillFile(string(raw))
			if info.Name == "" {
				info.Name = entry.Name()
			}
			info.Path = skillFile
			info.Source = root.source

			if err := info.validate(); err != nil {
				logger.WarnCF("skills", "Skipping invalid skill", map[string]interface{}{
					"path":  skillFile,
					"error": err.Error(),
				})
				continue
			}
			if seen[info.Name] {
				continue
			}
			seen[info.Name] = true
			result = append(result, info)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return strings.ToLower(result[i].Name) < strings.ToLower(result[j].Name)
	})
	return result
}

// LoadSkill returns the body of the named skill with the leading frontmatter
// block removed. The second return is false when the skill does not exist.
func (l *SkillsLoader) LoadSkill(name string) (string, bool) {
	for _, info := range l.ListSkills() {
		if info.Name != name {
			continue
		}
		raw, err := os.ReadFile(info.Path)
		if err != nil {
			return "", false
		}
		return stripFrontmatter(string(raw)), true
	}
	return "", false
}

// LoadSkillsForContext concatenates the bodies of the named skills, each under
// a heading, for inclusion in the system prompt.
func (l *SkillsLoader) LoadSkillsForContext(names []string) string {
	var sections []string
	for _, name := range names {
		body, ok := l.LoadSkill(name)
		if !ok {
			continue
		}
		body = strings.TrimSpace(body)
		if body == "" {
			continue
		}
		sections = append(sections, fmt.Sprintf("## Skill: %s\n\n%s", name, body))
	}
	return strings.Join(sections, "\n\n")
}

// BuildSkillsSummary renders one "- `name`: description" line per skill.
func (l *SkillsLoader) BuildSkillsSummary() string {
	all := l.ListSkills()
	if len(all) == 0 {
		return ""
	}
	lines := make([]string, 0, len(all))
	for _, info := range all {
		lines = append(lines, fmt.Sprintf("- `%s`: %s", info.Name, info.Description))
	}
	return strings.Join(lines, "\n")
}

// AlwaysLoaded returns the names of skills whose frontmatter marks them as
// always present in context.
func (l *SkillsLoader) AlwaysLoaded() []string {
	var names []string
	for _, info := range l.ListSkills() {
		if info.Always {
			names = append(names, info.Name)
		}
	}
	return names
}

// parseSkillFile extracts name, description, and the always flag from a
// leading YAML-style frontmatter block. Only flat "key: value" lines are
// recognized.
func parseSkillFile(content string) SkillInfo {
	var info SkillInfo
	block, ok := frontmatterBlock(content)
	if !ok {
		return info
	}
	for _, line := range strings.Split(block, "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "name":
			info.Name = value
		case "description":
			info.Description = value
		case "always":
			info.Always = value == "true"
		}
	}
	return info
}

func frontmatterBlock(content string) (string, bool) {
	if !strings.HasPrefix(content, "---\n") && !strings.HasPrefix(content, "---\r\n") {
		return "", false
	}
	rest := content[strings.Index(content, "\n")+1:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}

// stripFrontmatter removes only the leading frontmatter block. Later "---"
// separators belong to the body and stay.
func stripFrontmatter(content string) string {
	block, ok := frontmatterBlock(content)
	if !ok {
		return content
	}
	// Skip past opening delimiter, block, and closing delimiter line.
	rest := content[strings.Index(content, "\n")+1:]
	rest = rest[len(block)+1:]
	if nl := strings.Index(rest, "\n"); nl >= 0 {
		rest = rest[nl+1:]
	} else {
		rest = ""
	}
	return strings.TrimLeft(rest, "\n")
}
