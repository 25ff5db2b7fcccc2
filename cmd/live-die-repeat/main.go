package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"helm.sh/helm/v3/cmd/helm/require"

	"github.com/atframework/live-die-repeat/cli/values"
	"github.com/atframework/live-die-repeat/internal/pkg/supervisor"
)

const (
	ExitCodeSuccess = iota
	ExitCodeFailedStartup
)

var (
	toolName    = "live-die-repeat"
	toolVersion string

	globalUsage = `Run a shell command, restart it on SIGUSR1 and stop it on SIGINT.

The command runs as "sh -c <command>" in its own process group. When it exits
on its own, live-die-repeat exits with the same code.

Common actions for live-die-repeat:

- live-die-repeat "python3 -m http.server":   Supervise a command
- kill -USR1 <pid>:                           Restart the command
- kill -INT <pid>:                            Stop everything, exit 130
`
)

type rootOptions struct {
	configFile string
	logLevel   string
	logFile    string
	metricsDir string
	watch      []string
	values     values.Options

	exitCode int
}

// ToolName returns the tool name.
func ToolName() string {
	return toolName
}

// ToolVersion returns the tool version.
func ToolVersion() string {
	return toolVersion
}

func newRootCmd(out io.Writer, o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "live-die-repeat [flags] COMMAND",
		Short:        "Run a shell command and restart it on demand.",
		Long:         globalUsage,
		Version:      fmt.Sprintf("%s %s/%s", toolVersion, runtime.GOOS, runtime.GOARCH),
		Args:         require.ExactArgs(1),
		SilenceUsage: true,
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			// No completions, the argument is a free-form shell command
			return nil, cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd.Flags(), args[0])
		},
	}
	cmd.SetOut(out)

	f := cmd.Flags()
	// everything after COMMAND belongs to the command
	f.SetInterspersed(false)
	f.StringVarP(&o.configFile, "config", "c", "", "configuration file")
	f.StringVar(&o.logLevel, "log-level", "info", "log level of the supervisor itself")
	f.StringVar(&o.logFile, "log-file", "", "write supervisor logs to a rotated file instead of stderr")
	f.StringVar(&o.metricsDir, "metrics-dir", "", "directory of the prometheus text file exporter")
	f.StringArrayVarP(&o.watch, "watch", "w", nil, "restart the command when this path changes (can be repeated)")
	addValueOptionsFlags(f, &o.values)
	return cmd
}

func addValueOptionsFlags(f *pflag.FlagSet, v *values.Options) {
	f.StringArrayVarP(&v.Values, "set", "s", []string{}, "set configuration values on the command line (can specify multiple or separate values with commas: key1=val1,key2=val2)")
}

// loadConfig reads the configuration file, if any, applies --set overrides
// and finally lets explicitly set flags override both.
func (o *rootOptions) loadConfig(f *pflag.FlagSet) (*supervisor.Config, error) {
	var base map[string]interface{}
	if o.configFile != "" {
		var err error
		if base, err = supervisor.LoadValues(o.configFile); err != nil {
			return nil, err
		}
	}

	merged, err := o.values.MergeValues(base)
	if err != nil {
		return nil, err
	}

	cfg, err := supervisor.DecodeConfig(merged)
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Logging == nil {
		cfg.Logging = &supervisor.Logging{Level: o.logLevel}
	}
	if f.Changed("log-level") {
		cfg.Logging.Level = o.logLevel
	}
	if f.Changed("log-file") {
		cfg.Logging.Path = o.logFile
	}

	if f.Changed("metrics-dir") {
		if cfg.Metric == nil {
			cfg.Metric = new(supervisor.Metric)
		}
		cfg.Metric.OutPath = o.metricsDir
	}

	cfg.Watch = append(cfg.Watch, o.watch...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (o *rootOptions) run(f *pflag.FlagSet, command string) error {
	cfg, err := o.loadConfig(f)
	if err != nil {
		return err
	}

	logging := cfg.Logging
	if err := logging.Provision(); err != nil {
		return fmt.Errorf("provision logger: %w", err)
	}
	defer logging.Close()
	logger := logging.Logger()

	metric := cfg.Metric
	if metric != nil {
		if err := metric.Provision(logger); err != nil {
			return fmt.Errorf("provision metric: %w", err)
		}
		if err := metric.Start(); err != nil {
			return err
		}
		defer metric.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup := supervisor.New(command, logger, metric)
	sup.SetExitHandler(func(code int) {
		_ = metric.Stop()
		_ = logging.Close()
		os.Exit(code)
	})

	sup.Listen(ctx)
	if err := sup.Watch(ctx, cfg.Watch); err != nil {
		return err
	}

	code, err := sup.Run(ctx)
	if err != nil {
		return fmt.Errorf("supervise %q: %w", command, err)
	}
	o.exitCode = code
	return nil
}

func main() {
	var out bytes.Buffer
	o := &rootOptions{}
	cmd := newRootCmd(&out, o)

	if err := cmd.Execute(); err != nil {
		out.WriteTo(os.Stderr)
		os.Exit(ExitCodeFailedStartup)
	}
	out.WriteTo(os.Stdout)
	os.Exit(o.exitCode)
}
