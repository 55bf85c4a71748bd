package skills

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planwright/internal/plan"
)

func TestResolveDefaultsAlwaysApply(t *testing.T) {
	c := DefaultCatalog()

	caps, err := c.Resolve("run1", "parser", plan.ProfileImplementation, "rename a helper function")
	require.NoError(t, err)
	assert.Contains(t, caps, "read_code")
	assert.Contains(t, caps, "edit_code")
	assert.NotContains(t, caps, "run_migrations")
}

func TestResolveOptionalByApplicability(t *testing.T) {
	c := DefaultCatalog()

	caps, err := c.Resolve("run1", "store", plan.ProfileImplementation, "add a schema migration for the orders table")
	require.NoError(t, err)
	assert.Contains(t, caps, "run_migrations")

	caps, err = c.Resolve("run1", "store", plan.ProfileVerification, "check latency regressions")
	require.NoError(t, err)
	assert.Contains(t, caps, "benchmark")
	assert.Contains(t, caps, "run_commands")
}

func TestResolveUnknownProfileIsFatal(t *testing.T) {
	c := DefaultCatalog()

	_, err := c.Resolve("run1", "parser", plan.Profile("/deployment"), "anything")
	require.Error(t, err)

	var scopeErr *plan.ScopeError
	require.True(t, errors.As(err, &scopeErr))
	assert.True(t, plan.IsFatal(err))
}

func TestResolveModuleOverrideWins(t *testing.T) {
	c := DefaultCatalog()
	c.Modules = map[string]map[string]ProfileSkills{
		"store": {
			string(plan.ProfileImplementation): {
				Defaults: []string{"read_code", "edit_code", "run_migrations"},
			},
		},
	}

	caps, err := c.Resolve("run1", "store", plan.ProfileImplementation, "rename a helper function")
	require.NoError(t, err)
	assert.Contains(t, caps, "run_migrations")

	// Modules without an override keep the shared profile.
	caps, err = c.Resolve("run1", "parser", plan.ProfileImplementation, "rename a helper function")
	require.NoError(t, err)
	assert.NotContains(t, caps, "run_migrations")
}

func TestResolveUnknownModuleIsFatal(t *testing.T) {
	c := &Catalog{
		Modules: map[string]map[string]ProfileSkills{
			"parser": {
				string(plan.ProfileImplementation): {Defaults: []string{"read_code"}},
			},
		},
	}

	_, err := c.Resolve("run1", "billing", plan.ProfileImplementation, "anything")
	require.Error(t, err)

	var scopeErr *plan.ScopeError
	require.True(t, errors.As(err, &scopeErr))
	assert.True(t, plan.IsFatal(err))
}

func TestCatalogRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skills.yaml")
	require.NoError(t, DefaultCatalog().Save(path))

	loaded, err := LoadCatalog(path)
	require.NoError(t, err)

	caps, err := loaded.Resolve("run1", "parser", plan.ProfileTesting, "raise coverage of the parser")
	require.NoError(t, err)
	assert.Contains(t, caps, "run_tests")
	assert.Contains(t, caps, "coverage_report")
}

func TestLoadCatalogMissingFileUsesDefaults(t *testing.T) {
	c, err := LoadCatalog(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.NotEmpty(t, c.Profiles)
}

func TestLoadCatalogRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("profiles: [not: a: map"), 0o644))

	_, err := LoadCatalog(path)
	assert.Error(t, err)
}

func TestLoadCatalogRejectsEmptyProfiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("profiles: {}\n"), 0o644))

	_, err := LoadCatalog(path)
	assert.Error(t, err)
}
