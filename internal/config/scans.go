package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

const (
	PortScansFile         = "port-scans.toml"
	ServiceScansFile      = "service-scans.toml"
	UniversalPatternsFile = "universal-patterns.toml"
)

// ScanDefinition is one declarative command template. The command string
// carries placeholders ({address}, {port}, {scheme}, {scandir}, ...)
// substituted at render time.
type ScanDefinition struct {
	Name    string `mapstructure:"name"`
	Command string `mapstructure:"command"`

	// RunOnce restricts the scan to a single execution per target even when
	// several discovered services match its category.
	RunOnce bool `mapstructure:"run_once"`

	// Ports, when non-empty, restricts the scan to these port numbers.
	Ports []int `mapstructure:"ports"`

	// Protocols, when non-empty, restricts the scan to these protocols
	// ("tcp", "udp").
	Protocols []string `mapstructure:"protocols"`

	Patterns []PatternRule `mapstructure:"pattern"`

	compiled []CompiledPattern
}

// CompiledRules returns the scan's pattern rules compiled at load time.
func (d ScanDefinition) CompiledRules() []CompiledPattern { return d.compiled }

// AppliesTo reports whether the definition may run against the given port
// and protocol. An empty restriction list matches everything.
func (d ScanDefinition) AppliesTo(port int, protocol string) bool {
	if len(d.Ports) > 0 {
		found := false
		for _, p := range d.Ports {
			if p == port {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, proto := range d.Protocols {
		if strings.EqualFold(proto, protocol) {
			return true
		}
	}
	return len(d.Protocols) == 0
}

// PatternRule binds a case-insensitive regular expression to a description
// template rendered with the service context plus {match}.
type PatternRule struct {
	Description string `mapstructure:"description"`
	Pattern     string `mapstructure:"pattern"`
}

// CompiledPattern is a PatternRule with its regex compiled once at load.
type CompiledPattern struct {
	Description string
	Regex       *regexp.Regexp
}

// ManualStepRule is advisory only: its commands are rendered into
// manual_steps.log for a human operator, never executed.
type ManualStepRule struct {
	Description string   `mapstructure:"description"`
	Commands    []string `mapstructure:"commands"`
}

// ServiceCategory groups the follow-up scans, pattern rules, and manual
// steps for services whose names match one of its patterns. All fields are
// always present, possibly empty.
type ServiceCategory struct {
	Name     string           `mapstructure:"name"`
	Patterns []string         `mapstructure:"patterns"`
	Scans    []ScanDefinition `mapstructure:"scan"`
	Manual   []ManualStepRule `mapstructure:"manual"`

	compiled []*regexp.Regexp
}

// Matches reports whether the discovered service name matches any of this
// category's name patterns. A service may match several categories; each
// contributes its scans.
func (c *ServiceCategory) Matches(serviceName string) bool {
	for _, re := range c.compiled {
		if re.MatchString(serviceName) {
			return true
		}
	}
	return false
}

type serviceScansDocument struct {
	UsernameWordlist string            `mapstructure:"username_wordlist"`
	PasswordWordlist string            `mapstructure:"password_wordlist"`
	Services         []ServiceCategory `mapstructure:"service"`
}

type universalPatternsDocument struct {
	Patterns []PatternRule `mapstructure:"pattern"`
}

// ScanConfig is the full set of declarative scan documents consumed by the
// enumeration pipeline, loaded from the config directory's TOML files with
// every regex compiled.
type ScanConfig struct {
	PortScans         map[string][]ScanDefinition
	Services          []ServiceCategory
	UsernameWordlist  string
	PasswordWordlist  string
	UniversalPatterns []CompiledPattern
}

// PortScansFor returns the primary scan definitions for the selected port
// scan type in declared order.
func (c *ScanConfig) PortScansFor(scanType string) ([]ScanDefinition, error) {
	scans, ok := c.PortScans[scanType]
	if !ok {
		return nil, fmt.Errorf("unknown port scan type %q", scanType)
	}
	return scans, nil
}

// LoadScanConfig reads the three scan documents from configDir. A missing
// document is fatal; the error names the missing file.
func LoadScanConfig(configDir string) (*ScanConfig, error) {
	for _, name := range []string{PortScansFile, ServiceScansFile, UniversalPatternsFile} {
		path := filepath.Join(configDir, name)
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("cannot find %s inside %s directory: %w", name, configDir, err)
		}
	}

	cfg := &ScanConfig{}

	portScans := map[string][]ScanDefinition{}
	if err := unmarshalTOML(filepath.Join(configDir, PortScansFile), &portScans); err != nil {
		return nil, fmt.Errorf("loading %s: %w", PortScansFile, err)
	}
	cfg.PortScans = portScans

	var services serviceScansDocument
	if err := unmarshalTOML(filepath.Join(configDir, ServiceScansFile), &services); err != nil {
		return nil, fmt.Errorf("loading %s: %w", ServiceScansFile, err)
	}
	cfg.UsernameWordlist = services.UsernameWordlist
	cfg.PasswordWordlist = services.PasswordWordlist
	cfg.Services = services.Services

	var universal universalPatternsDocument
	if err := unmarshalTOML(filepath.Join(configDir, UniversalPatternsFile), &universal); err != nil {
		return nil, fmt.Errorf("loading %s: %w", UniversalPatternsFile, err)
	}

	if err := cfg.compile(universal.Patterns); err != nil {
		return nil, err
	}

	return cfg, nil
}

func unmarshalTOML(path string, out interface{}) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	return v.Unmarshal(out)
}

// compile turns every configured regex into a case-insensitive
// *regexp.Regexp so a bad pattern fails the run at startup instead of
// mid-enumeration.
func (c *ScanConfig) compile(universal []PatternRule) error {
	var err error

	for scanType, scans := range c.PortScans {
		for i := range scans {
			scans[i].compiled, err = CompilePatterns(scans[i].Patterns)
			if err != nil {
				return fmt.Errorf("port scan type %q scan %q: %w", scanType, scans[i].Name, err)
			}
		}
	}

	for i := range c.Services {
		cat := &c.Services[i]
		cat.compiled = make([]*regexp.Regexp, 0, len(cat.Patterns))
		for _, pattern := range cat.Patterns {
			re, compileErr := compileInsensitive(pattern)
			if compileErr != nil {
				return fmt.Errorf("service category %q: bad service-name pattern %q: %w", cat.Name, pattern, compileErr)
			}
			cat.compiled = append(cat.compiled, re)
		}
		for j := range cat.Scans {
			cat.Scans[j].compiled, err = CompilePatterns(cat.Scans[j].Patterns)
			if err != nil {
				return fmt.Errorf("service category %q scan %q: %w", cat.Name, cat.Scans[j].Name, err)
			}
		}
	}

	c.UniversalPatterns, err = CompilePatterns(universal)
	if err != nil {
		return fmt.Errorf("universal patterns: %w", err)
	}
	return nil
}

// CompilePatterns compiles a rule list case-insensitively.
func CompilePatterns(rules []PatternRule) ([]CompiledPattern, error) {
	compiled := make([]CompiledPattern, 0, len(rules))
	for _, rule := range rules {
		re, err := compileInsensitive(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", rule.Pattern, err)
		}
		compiled = append(compiled, CompiledPattern{Description: rule.Description, Regex: re})
	}
	return compiled, nil
}

func compileInsensitive(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + pattern)
}
