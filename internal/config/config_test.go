package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	cfg := New()

	assert.Equal(t, DefaultProjectPath, cfg.ProjectPath)
	assert.Equal(t, DefaultMochaPath, cfg.Mocha.Path)
	assert.Equal(t, DefaultProcessors, cfg.Execution.Processors)
	assert.Equal(t, DefaultInclude, cfg.Discovery.Include)
	assert.Equal(t, DefaultSkipDirs, cfg.Discovery.SkipDirs)
	assert.Equal(t, DefaultInitializeTimeout, cfg.Timeouts.Initialize)
	assert.Equal(t, []string{"serve"}, cfg.Server.Args)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	yaml := `
mocha:
  path: /opt/mocha/bin/mocha
  args: ["--require", "ts-node/register"]
discovery:
  include: ["spec/**/*.ts"]
execution:
  processors: 2
timeouts:
  initialize: 3s
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".mte.yaml"), []byte(yaml), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.ProjectPath)
	assert.Equal(t, "/opt/mocha/bin/mocha", cfg.Mocha.Path)
	assert.Equal(t, []string{"--require", "ts-node/register"}, cfg.Mocha.Args)
	assert.Equal(t, []string{"spec/**/*.ts"}, cfg.Discovery.Include)
	assert.Equal(t, 2, cfg.Execution.Processors)
	assert.Equal(t, 3*time.Second, cfg.Timeouts.Initialize)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, DefaultEnvFile, cfg.Mocha.EnvFile)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("MTE_EXECUTION_PROCESSORS", "7")
	t.Setenv("MTE_LOG_FORMAT", "json")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Execution.Processors)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".mte.yaml"), []byte("execution:\n  processors: 0\n"), 0644))

	_, err := Load(dir)
	assert.ErrorContains(t, err, "execution.processors")
}

func TestLoad_Malformed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".mte.yaml"), []byte("mocha: [unclosed"), 0644))

	_, err := Load(dir)
	assert.ErrorContains(t, err, "read config")
}

func TestConfig_ApplyFlags(t *testing.T) {
	cfg := New()
	cfg.ApplyFlags(Flags{Processors: 9, GroupBy: "status", Connect: "ws://localhost:7000", Filter: "math*"})

	assert.Equal(t, 9, cfg.Execution.Processors)
	assert.Equal(t, "status", cfg.GroupBy)
	assert.Equal(t, "ws://localhost:7000", cfg.Server.Connect)
	assert.Equal(t, "math*", cfg.Flags.Filter)

	cfg.ApplyFlags(Flags{})
	assert.Equal(t, 9, cfg.Execution.Processors)
}

func TestConfig_GetOutputPath(t *testing.T) {
	tests := []struct {
		name     string
		output   OutputConfig
		project  string
		expected string
	}{
		{
			name:     "relative to project",
			output:   OutputConfig{Dir: ".mte", File: "last-run.json"},
			project:  "/project",
			expected: "/project/.mte/last-run.json",
		},
		{
			name:     "absolute file",
			output:   OutputConfig{Dir: ".mte", File: "/tmp/results.json"},
			project:  "/project",
			expected: "/tmp/results.json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			cfg.ProjectPath = tt.project
			cfg.Output = tt.output
			assert.Equal(t, filepath.FromSlash(tt.expected), cfg.GetOutputPath())
		})
	}
}

func TestConfig_Settings(t *testing.T) {
	cfg := New()
	cfg.Mocha.Args = []string{"--timeout", "5000"}

	s := cfg.Settings()
	assert.Equal(t, DefaultMochaPath, s.MochaPath)
	assert.Equal(t, []string{"--timeout", "5000"}, s.MochaArgs)
	assert.Equal(t, DefaultEnvFile, s.EnvFile)
	assert.Equal(t, DefaultInclude, s.Include)
	assert.Equal(t, DefaultProcessors, s.Processors)
	assert.Equal(t, DefaultDiscoveryWorkers, s.Workers)
}
