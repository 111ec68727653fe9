// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/testpilot/internal/config"
	"github.com/xkilldash9x/testpilot/internal/observability"
	"github.com/xkilldash9x/testpilot/internal/service"
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitFailed  = 1
	ExitInvalid = 2
)

type contextKey string

const configKey contextKey = "config"

// ExitError carries the exit code a command wants the process to end with.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// invalid marks err as a configuration or initialization problem.
func invalid(err error) error {
	return &ExitError{Code: ExitInvalid, Err: err}
}

// ExitCode maps the error a command returned to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailed
}

// NewRootCommand builds the command tree wired to the production component factory.
func NewRootCommand() *cobra.Command {
	return newRootCmd(service.NewComponentFactory(), NewStoreProvider())
}

func newRootCmd(factory service.ComponentFactory, stores storeProvider) *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "testpilot",
		Short: "TestPilot compiles plain-language browser tests and runs them in parallel.",
		Long: `TestPilot turns test cases written as plain-language steps and assertions into
browser actions. It runs them concurrently against a pool of headless browsers, or
generates equivalent pytest-playwright or chromedp sources.`,
		// Version is dynamically set at build time. See cmd/version.go.
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			// 1. Initialize configuration loading
			if err := initializeConfig(v, cfgFile); err != nil {
				observability.InitializeLogger(config.NewDefaultConfig().Logger())
				return invalid(fmt.Errorf("failed to initialize configuration: %w", err))
			}

			// 2. Create the configuration object from viper.
			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "testpilot"})
				return invalid(fmt.Errorf("failed to load or validate config: %w", err))
			}

			// 3. Initialize the logger with the loaded config.
			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting TestPilot", zap.String("version", Version))

			// 4. Store the validated config in the command's context for subcommands.
			cmd.SetContext(context.WithValue(cmd.Context(), configKey, config.Interface(cfg)))
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	cmd.SetVersionTemplate(`{{printf "%s version %s\n" .Name .Version}}`)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return invalid(err) })

	cmd.AddCommand(newRunCmd(factory))
	cmd.AddCommand(newGenerateCmd())
	cmd.AddCommand(newCompileCmd())
	cmd.AddCommand(newStatusCmd(stores))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Execute runs the command tree and returns the exit code for the process.
func Execute(ctx context.Context) int {
	root := NewRootCommand()
	err := root.ExecuteContext(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			observability.GetLogger().Warn("Command aborted.")
		}
		root.PrintErrln("Error:", err)
	}
	return ExitCode(err)
}

// initializeConfig reads in config file and ENV variables if set.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars
	}
	return nil
}

// configFromContext returns the configuration the root command stored for its subcommands.
func configFromContext(ctx context.Context) (config.Interface, error) {
	cfg, ok := ctx.Value(configKey).(config.Interface)
	if !ok || cfg == nil {
		return nil, invalid(errors.New("configuration not loaded"))
	}
	return cfg, nil
}
