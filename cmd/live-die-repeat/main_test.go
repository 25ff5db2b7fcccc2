package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeRoot(t *testing.T, args ...string) (*rootOptions, error) {
	t.Helper()
	var out bytes.Buffer
	o := &rootOptions{}
	cmd := newRootCmd(&out, o)
	cmd.SetArgs(args)
	cmd.SetErr(io.Discard)
	return o, cmd.Execute()
}

func TestRootCmdArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"missing command", []string{}, true},
		{"too many arguments", []string{"exit 0", "exit 1"}, true},
		{"single command", []string{"--log-level", "error", "exit 0"}, false},
	}

	assert := assert.New(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeRoot(t, tt.args...)
			if tt.wantErr {
				assert.NotNil(err)
			} else {
				assert.Nil(err)
			}
		})
	}
}

func TestRootCmdExitCode(t *testing.T) {
	assert := assert.New(t)

	o, err := executeRoot(t, "--log-level", "error", "exit 7")
	assert.Nil(err)
	assert.Equal(7, o.exitCode)
}

func TestRootCmdFlagsAfterCommand(t *testing.T) {
	assert := assert.New(t)

	// flags after COMMAND are not parsed by the supervisor
	_, err := executeRoot(t, "--log-level", "error", "exit 0", "--log-level", "debug")
	assert.NotNil(err, "extra arguments must be rejected, not parsed as flags")
}

func TestRootCmdConfig(t *testing.T) {
	assert := assert.New(t)

	dir := t.TempDir()
	name := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(name, []byte("log:\n  level: error\nmetric:\n  outPath: "+dir+"\n"), 0644))

	o, err := executeRoot(t, "-c", name, "exit 4")
	assert.Nil(err)
	assert.Equal(4, o.exitCode)

	_, err = os.Stat(filepath.Join(dir, "live-die-repeat.prom"))
	assert.Nil(err, "metric file was not written")

	require.NoError(t, os.WriteFile(name, []byte("unknown: true\n"), 0644))
	_, err = executeRoot(t, "-c", name, "exit 0")
	assert.NotNil(err)
}

func TestRootCmdInvalidWatch(t *testing.T) {
	_, err := executeRoot(t, "--log-level", "error", "-w", filepath.Join(t.TempDir(), "missing"), "exit 0")
	assert.NotNil(t, err)
}

func TestRootCmdSetOverridesConfig(t *testing.T) {
	assert := assert.New(t)

	dir := t.TempDir()
	name := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(name, []byte("log:\n  level: debug\n"), 0644))

	o := &rootOptions{configFile: name, logLevel: "info"}
	o.values.Values = []string{"log.level=error", "metric.outPath=" + dir + ",metric.scrapInterval=2"}

	cmd := newRootCmd(io.Discard, &rootOptions{})
	cfg, err := o.loadConfig(cmd.Flags())
	require.NoError(t, err)
	assert.Equal("error", cfg.Logging.Level)
	if assert.NotNil(cfg.Metric) {
		assert.Equal(dir, cfg.Metric.OutPath)
		assert.Equal(2, cfg.Metric.ScrapInterval)
	}

	o.values.Values = []string{"restartDelay=5"}
	_, err = o.loadConfig(cmd.Flags())
	assert.NotNil(err, "unknown keys from --set must be rejected")
}
