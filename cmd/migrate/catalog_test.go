package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jobs/integration-engine/internal/biz/application"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCatalog = `
applications:
  - key: ads-campaign-report
    name: Ads campaign report
    version: "1.0.0"
    execution_type: backend
    trigger_type: schedule
    provider_key: ads
    required_secrets: ["oauth:ads"]
    default_config:
      operation: listCampaigns
    timeout_seconds: 120
  - key: dashboard-widget
    name: Dashboard widget
    version: "2.1.0"
    execution_type: ui-only
    trigger_type: manual
`

func TestParseCatalog(t *testing.T) {
	apps, err := parseCatalog([]byte(sampleCatalog))
	require.NoError(t, err)
	require.Len(t, apps, 2)

	ads := apps[0]
	assert.Equal(t, "ads-campaign-report", ads.Key)
	assert.Equal(t, application.ExecutionTypeBackend, ads.ExecutionType)
	assert.Equal(t, application.TriggerTypeSchedule, ads.TriggerType)
	assert.Equal(t, []string{"oauth:ads"}, ads.RequiredSecrets)
	assert.Equal(t, "listCampaigns", ads.DefaultConfig["operation"])
	assert.True(t, ads.Runnable())

	assert.False(t, apps[1].Runnable())
}

func TestParseCatalogRejectsInvalidEntries(t *testing.T) {
	tests := []struct {
		name    string
		catalog string
	}{
		{
			name: "backend without provider",
			catalog: `
applications:
  - {key: a, name: A, version: "1", execution_type: backend, trigger_type: schedule}
`,
		},
		{
			name: "unknown trigger type",
			catalog: `
applications:
  - {key: a, name: A, version: "1", execution_type: both, trigger_type: cron, provider_key: ads}
`,
		},
		{
			name: "duplicate key and version",
			catalog: `
applications:
  - {key: a, name: A, version: "1", execution_type: ui-only, trigger_type: manual}
  - {key: a, name: A2, version: "1", execution_type: ui-only, trigger_type: manual}
`,
		},
		{
			name:    "malformed yaml",
			catalog: "applications: [",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseCatalog([]byte(tt.catalog))
			assert.Error(t, err)
		})
	}
}

func TestLoadCatalogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "applications.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleCatalog), 0o644))

	apps, err := loadCatalog(path)
	require.NoError(t, err)
	assert.Len(t, apps, 2)

	_, err = loadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
