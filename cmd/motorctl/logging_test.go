package main

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/motorctl/pkg/config"
)

func newLoggingCommand(args ...string) *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("log-level", "", "")
	cmd.Flags().BoolP("verbose", "V", false, "")
	_ = cmd.Flags().Parse(args)
	return cmd
}

func TestConfigureLogger(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		cfgLevel string
		want     logrus.Level
		wantErr  bool
	}{
		{name: "config default", cfgLevel: "error", want: logrus.ErrorLevel},
		{name: "config level", cfgLevel: "info", want: logrus.InfoLevel},
		{name: "verbose beats config", args: []string{"-V"}, cfgLevel: "warn", want: logrus.DebugLevel},
		{name: "log-level beats verbose", args: []string{"-V", "--log-level", "warn"}, cfgLevel: "error", want: logrus.WarnLevel},
		{name: "invalid log-level", args: []string{"--log-level", "loud"}, cfgLevel: "error", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.LogLevel = tt.cfgLevel

			logger, err := configureLogger(newLoggingCommand(tt.args...), cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid log level")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, logger.GetLevel())
		})
	}
}

func TestConfigureLogger_WritesToStderr(t *testing.T) {
	cmd := newLoggingCommand("--log-level", "info")
	var stderr bytes.Buffer
	cmd.SetErr(&stderr)

	cfg := config.DefaultConfig()
	logger, err := configureLogger(cmd, cfg)
	require.NoError(t, err)
	logger.Info("scan started")

	assert.Contains(t, stderr.String(), "scan started")
	assert.Regexp(t, `time="\d{4}-\d{2}-\d{2}T`, stderr.String(), "entries MUST carry the config logger's full timestamp")
	assert.Equal(t, "error", cfg.LogLevel, "flags MUST not rewrite the loaded config")
}
