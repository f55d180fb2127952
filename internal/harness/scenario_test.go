package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, `
name: test_scenario
description: "Test scenario for validation"
start: 2024-01-02T03:04:05Z
capacity: 5
steps:
  - op: create
    action: login
    user: u1
    details:
      ip: "1.2.3.4"
      attempts: 2
  - op: list
    filter:
      action__in: [login, logout]
      start_time: 2024-01-01T00:00:00Z
    expect:
      count: 1
assertions:
  - type: collection_count
    collection: logs
    count: 1
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, 5, scenario.Capacity)
	require.NotNil(t, scenario.Start)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), scenario.Start.UTC())
	require.Len(t, scenario.Steps, 2)
	assert.Equal(t, OpCreate, scenario.Steps[0].Op)
	require.NotNil(t, scenario.Steps[0].User)
	assert.Equal(t, "u1", *scenario.Steps[0].User)
	assert.Equal(t, "1.2.3.4", scenario.Steps[0].Details["ip"])
	assert.Equal(t, []string{"login", "logout"}, scenario.Steps[1].Filter.ActionIn)
	require.NotNil(t, scenario.Steps[1].Filter.Start)
	require.NotNil(t, scenario.Steps[1].Expect)
	require.NotNil(t, scenario.Steps[1].Expect.Count)
	assert.Equal(t, 1, *scenario.Steps[1].Expect.Count)
	assert.Len(t, scenario.Assertions, 1)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_UnknownField(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: typo
description: "misspelled key"
steps:
  - op: flush
assertion:
  - type: trace_count
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "description: d\nsteps:\n  - op: flush\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			yaml:    "name: n\nsteps:\n  - op: flush\n",
			wantErr: "description is required",
		},
		{
			name:    "no steps",
			yaml:    "name: n\ndescription: d\n",
			wantErr: "steps list is required",
		},
		{
			name:    "unknown op",
			yaml:    "name: n\ndescription: d\nsteps:\n  - op: purge\n",
			wantErr: `unknown op "purge"`,
		},
		{
			name:    "bad duration",
			yaml:    "name: n\ndescription: d\nsteps:\n  - op: advance\n    duration: soon\n",
			wantErr: "step 0",
		},
		{
			name:    "tamper without field",
			yaml:    "name: n\ndescription: d\nsteps:\n  - op: tamper\n    id: entry-000001\n",
			wantErr: "tamper requires id and field",
		},
		{
			name:    "tamper id column",
			yaml:    "name: n\ndescription: d\nsteps:\n  - op: tamper\n    id: entry-000001\n    field: id\n",
			wantErr: `cannot tamper with field "id"`,
		},
		{
			name:    "archive without days",
			yaml:    "name: n\ndescription: d\nsteps:\n  - op: archive\n",
			wantErr: "archive requires days",
		},
		{
			name:    "advance without amount",
			yaml:    "name: n\ndescription: d\nsteps:\n  - op: advance\n",
			wantErr: "advance requires duration or days",
		},
		{
			name:    "assertion collection",
			yaml:    "name: n\ndescription: d\nsteps:\n  - op: flush\nassertions:\n  - type: all_valid\n    collection: backups\n",
			wantErr: "requires collection logs or archive",
		},
		{
			name:    "assertion type",
			yaml:    "name: n\ndescription: d\nsteps:\n  - op: flush\nassertions:\n  - type: final_state\n",
			wantErr: `unknown type "final_state"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_TestdataFilesParse(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			_, err := LoadScenario(path)
			assert.NoError(t, err)
		})
	}
}
