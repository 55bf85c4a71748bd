// Package skills resolves the capability set for a task from a YAML catalog
// indexed by module and profile. The profiles section applies to every module;
// the modules section overrides individual profiles for specific modules.
// Defaults always apply; optional capabilities are matched against the work
// item's context by applicability keywords, and every match is logged with the
// keyword that triggered it.
package skills

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"planwright/internal/logging"
	"planwright/internal/plan"
)

// Optional is a capability granted only when the work item context matches one
// of its applicability keywords.
type Optional struct {
	Capability    string   `yaml:"capability"`
	Applicability []string `yaml:"applicability"`
}

// ProfileSkills is the capability configuration for one execution profile.
type ProfileSkills struct {
	Defaults  []string   `yaml:"defaults"`
	Optionals []Optional `yaml:"optionals,omitempty"`
}

// Catalog maps modules and profiles to their capability configuration.
// Profiles holds the module-independent configuration; Modules overrides it
// per module and profile. A catalog may be modules-only, in which case a work
// item naming an unlisted module is a hard error.
type Catalog struct {
	Profiles map[string]ProfileSkills            `yaml:"profiles,omitempty"`
	Modules  map[string]map[string]ProfileSkills `yaml:"modules,omitempty"`
}

// DefaultCatalog is the built-in catalog used when no catalog file exists.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Profiles: map[string]ProfileSkills{
			string(plan.ProfileImplementation): {
				Defaults: []string{"read_code", "search_code", "edit_code"},
				Optionals: []Optional{
					{Capability: "run_migrations", Applicability: []string{"migration", "schema", "database"}},
					{Capability: "edit_config", Applicability: []string{"config", "yaml", "settings"}},
					{Capability: "manage_dependencies", Applicability: []string{"dependency", "upgrade", "version"}},
				},
			},
			string(plan.ProfileTesting): {
				Defaults: []string{"read_code", "run_tests", "edit_tests"},
				Optionals: []Optional{
					{Capability: "coverage_report", Applicability: []string{"coverage"}},
					{Capability: "integration_harness", Applicability: []string{"integration", "end-to-end", "e2e"}},
				},
			},
			string(plan.ProfileVerification): {
				Defaults: []string{"run_commands", "read_output"},
				Optionals: []Optional{
					{Capability: "lint", Applicability: []string{"lint", "style", "format"}},
					{Capability: "benchmark", Applicability: []string{"performance", "benchmark", "latency"}},
				},
			},
		},
	}
}

// LoadCatalog reads a catalog file. A missing file falls back to the built-in
// defaults; a malformed file is an error.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logging.Get(logging.CategorySkills).Info("no catalog at %s, using built-in defaults", path)
		return DefaultCatalog(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read skills catalog: %w", err)
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse skills catalog %s: %w", path, err)
	}
	if len(c.Profiles) == 0 && len(c.Modules) == 0 {
		return nil, fmt.Errorf("skills catalog %s defines no profiles", path)
	}
	return &c, nil
}

// Save writes the catalog as YAML.
func (c *Catalog) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal skills catalog: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write skills catalog: %w", err)
	}
	return nil
}

// Resolve returns the capability set for a module and profile given the work
// item's context (title plus affected paths). A module's own profile entry
// wins over the shared one. An unresolvable module or profile is a fatal
// scope error: every (module, profile) pairing a work item names must be
// covered by the catalog.
func (c *Catalog) Resolve(runID, module string, profile plan.Profile, itemContext string) ([]string, error) {
	moduleProfiles, moduleKnown := c.Modules[module]
	if !moduleKnown && len(c.Profiles) == 0 {
		return nil, &plan.ScopeError{
			Step:        "skills",
			Detail:      fmt.Sprintf("module %s has no catalog entry", module),
			Remediation: "add the module to the skills catalog or define module-independent profiles",
		}
	}

	ps, ok := moduleProfiles[string(profile)]
	if !ok {
		ps, ok = c.Profiles[string(profile)]
	}
	if !ok {
		return nil, &plan.ScopeError{
			Step:        "skills",
			Detail:      fmt.Sprintf("profile %s has no catalog entry for module %s", profile, module),
			Remediation: "add the profile to the skills catalog or correct the work item's profiles",
		}
	}

	set := make(map[string]bool, len(ps.Defaults))
	for _, cap := range ps.Defaults {
		set[cap] = true
	}

	lower := strings.ToLower(itemContext)
	for _, opt := range ps.Optionals {
		for _, keyword := range opt.Applicability {
			if strings.Contains(lower, strings.ToLower(keyword)) {
				set[opt.Capability] = true
				logging.Get(logging.CategorySkills).Info("granted %s for %s: context matched %q",
					opt.Capability, profile, keyword)
				break
			}
		}
	}

	caps := make([]string, 0, len(set))
	for cap := range set {
		caps = append(caps, cap)
	}
	sort.Strings(caps)

	logging.Emit(logging.AuditEvent{
		EventType: logging.AuditCapabilityResolved,
		RunID:     runID,
		Phase:     string(plan.PhaseMaterialization),
		Target:    string(profile),
		Success:   true,
		Fields:    map[string]interface{}{"capabilities": caps},
	})
	return caps, nil
}
