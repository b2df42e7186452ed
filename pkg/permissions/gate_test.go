package permissions

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCatalog = `
modules:
  - id: billing
    default_enabled: true
    views: [invoices, payments]
    features: [invoices, payments]
  - id: hr
    default_enabled: false
    views: [payroll]
    features: [payroll]
tenants:
  acme:
    enabled_modules: [hr]
  globex:
    disabled_modules: [billing]
`

func writeTestCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "modules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestFileGateDefaults(t *testing.T) {
	gate, err := NewFileGate(writeTestCatalog(t, testCatalog))
	require.NoError(t, err)

	// billing defaults on, hr defaults off.
	assert.True(t, gate.ViewEnabled("t1", "invoices"))
	assert.False(t, gate.ViewEnabled("t1", "payroll"))
	assert.True(t, gate.FeatureEnabled("t1", "payments"))
	assert.False(t, gate.FeatureEnabled("t1", "payroll"))
}

func TestFileGateTenantOverrides(t *testing.T) {
	gate, err := NewFileGate(writeTestCatalog(t, testCatalog))
	require.NoError(t, err)

	assert.True(t, gate.ViewEnabled("acme", "payroll"))
	assert.False(t, gate.ViewEnabled("globex", "invoices"))
	assert.False(t, gate.FeatureEnabled("globex", "payments"))
}

func TestFileGateUnownedPassesThrough(t *testing.T) {
	gate, err := NewFileGate(writeTestCatalog(t, testCatalog))
	require.NoError(t, err)

	// Views and features no module claims are never gated.
	assert.True(t, gate.ViewEnabled("t1", "dashboard"))
	assert.True(t, gate.FeatureEnabled("t1", "tickets"))
}

func TestFileGateMissingFile(t *testing.T) {
	_, err := NewFileGate(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestFileGateReloadKeepsLastGoodOnFailure(t *testing.T) {
	path := writeTestCatalog(t, testCatalog)
	gate, err := NewFileGate(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("modules: ["), 0644))
	assert.Error(t, gate.Reload())

	// The previous catalog stays in effect.
	assert.True(t, gate.ViewEnabled("t1", "invoices"))
	assert.False(t, gate.ViewEnabled("t1", "payroll"))
}

func TestFileGateReloadPicksUpChanges(t *testing.T) {
	path := writeTestCatalog(t, testCatalog)
	gate, err := NewFileGate(path)
	require.NoError(t, err)
	require.False(t, gate.ViewEnabled("t1", "payroll"))

	updated := `
modules:
  - id: hr
    default_enabled: true
    views: [payroll]
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0644))
	require.NoError(t, gate.Reload())
	assert.True(t, gate.ViewEnabled("t1", "payroll"))
}
