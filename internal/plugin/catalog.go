package plugin

import (
	"embed"
	"fmt"
	"path"
	"regexp"
	"time"

	"github.com/stackhealer/backend-go/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed catalogs/*.yaml
var builtinCatalogs embed.FS

// Catalog is the declarative description of a stack plugin
type Catalog struct {
	Tag     string                 `yaml:"tag"`
	Name    string                 `yaml:"name"`
	Detect  DetectSpec             `yaml:"detect"`
	HTTP    *HTTPSpec              `yaml:"http"`
	Checks  ChecksSpec             `yaml:"checks"`
	Actions []domain.HealingAction `yaml:"actions"`
	Backup  BackupSpec             `yaml:"backup"`
}

// DetectSpec lists marker files and how to read the installed version
type DetectSpec struct {
	Files   []MarkerFile `yaml:"files"`
	Version *VersionSpec `yaml:"version"`
}

// MarkerFile contributes Weight to the confidence when present
type MarkerFile struct {
	Path   string  `yaml:"path"`
	Weight float64 `yaml:"weight"`
}

// VersionSpec runs Command and extracts the first capture group of Pattern
type VersionSpec struct {
	Command string `yaml:"command"`
	Pattern string `yaml:"pattern"`

	re *regexp.Regexp
}

// HTTPSpec configures the availability check
type HTTPSpec struct {
	Path        string        `yaml:"path"`
	BodyPattern string        `yaml:"body_pattern"`
	SlowAfter   time.Duration `yaml:"slow_after"`
}

// ChecksSpec holds the stack-specific checks
type ChecksSpec struct {
	Commands []CommandSpec `yaml:"commands"`
	Files    []FileSpec    `yaml:"files"`
}

// CommandSpec declares a CommandCheck
type CommandSpec struct {
	Name           string               `yaml:"name"`
	Category       domain.CheckCategory `yaml:"category"`
	RiskLevel      domain.RiskLevel     `yaml:"risk_level"`
	Description    string               `yaml:"description"`
	Command        string               `yaml:"command"`
	ExitCode       int                  `yaml:"exit_code"`
	OutputContains string               `yaml:"output_contains"`
	WarnOnly       bool                 `yaml:"warn_only"`
	SuggestedFix   string               `yaml:"suggested_fix"`
	Timeout        time.Duration        `yaml:"timeout"`
}

// FileSpec declares a FilePermissionCheck
type FileSpec struct {
	Name     string `yaml:"name"`
	Path     string `yaml:"path"`
	MaxMode  string `yaml:"max_mode"`
	Required bool   `yaml:"required"`
}

// BackupSpec configures the file-level backup strategy
type BackupSpec struct {
	Excludes       []string `yaml:"excludes"`
	DumpCommand    string   `yaml:"dump_command"`
	RestoreCommand string   `yaml:"restore_command"`
}

var validRisk = map[domain.RiskLevel]bool{
	domain.RiskLow: true, domain.RiskMedium: true, domain.RiskHigh: true, domain.RiskCritical: true,
}

// ParseCatalog decodes and validates a catalog document
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("catalog %q: %w", c.Tag, err)
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	if c.Tag == "" {
		return fmt.Errorf("tag is required")
	}
	if c.Name == "" {
		c.Name = c.Tag
	}
	if len(c.Detect.Files) == 0 {
		return fmt.Errorf("detect.files is empty")
	}
	if v := c.Detect.Version; v != nil {
		re, err := regexp.Compile(v.Pattern)
		if err != nil {
			return fmt.Errorf("version pattern: %w", err)
		}
		if re.NumSubexp() < 1 {
			return fmt.Errorf("version pattern needs a capture group")
		}
		v.re = re
	}

	seen := make(map[string]bool)
	for _, a := range c.Actions {
		if a.Name == "" {
			return fmt.Errorf("action without name")
		}
		if seen[a.Name] {
			return fmt.Errorf("duplicate action %q", a.Name)
		}
		seen[a.Name] = true
		if !validRisk[a.RiskLevel] {
			return fmt.Errorf("action %q: invalid risk level %q", a.Name, a.RiskLevel)
		}
		if len(a.Commands) == 0 {
			return fmt.Errorf("action %q has no commands", a.Name)
		}
	}
	for _, cs := range c.Checks.Commands {
		if cs.Name == "" || cs.Command == "" {
			return fmt.Errorf("command check needs name and command")
		}
		if cs.RiskLevel != "" && !validRisk[cs.RiskLevel] {
			return fmt.Errorf("check %q: invalid risk level %q", cs.Name, cs.RiskLevel)
		}
	}
	return nil
}

// BuiltinCatalogs returns the catalogs shipped with the binary, sorted by file name
func BuiltinCatalogs() ([]*Catalog, error) {
	entries, err := builtinCatalogs.ReadDir("catalogs")
	if err != nil {
		return nil, err
	}
	var out []*Catalog
	for _, e := range entries {
		data, err := builtinCatalogs.ReadFile(path.Join("catalogs", e.Name()))
		if err != nil {
			return nil, err
		}
		c, err := ParseCatalog(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		out = append(out, c)
	}
	return out, nil
}
