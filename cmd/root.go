package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/kleinpost/internal/config"
	"github.com/xkilldash9x/kleinpost/internal/observability"
	"github.com/xkilldash9x/kleinpost/internal/service"
)

const envPrefix = "KLEINPOST"

// app carries the state shared by the commands of one root instance.
type app struct {
	cfgFile string
	cfg     config.Interface
	factory service.ComponentFactory
}

// NewRootCommand creates a fresh command tree wired to the production factory.
func NewRootCommand() *cobra.Command {
	return newRootCommand(service.NewComponentFactory())
}

func newRootCommand(factory service.ComponentFactory) *cobra.Command {
	a := &app{factory: factory}

	rootCmd := &cobra.Command{
		Use:           "kleinpost",
		Short:         "kleinpost manages kleinanzeigen.de accounts, proxies and ad publishing.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			// 1. Config file and environment.
			if err := initializeConfig(v, a.cfgFile); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			// 2. Flags override both.
			if err := bindFlags(cmd, v); err != nil {
				return err
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.Initialize(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "kleinpost"}, zapcore.Lock(os.Stderr))
				return fmt.Errorf("failed to load config: %w", err)
			}
			a.cfg = cfg

			// Results go to stdout; logs stay on stderr.
			observability.Initialize(cfg.Logger(), zapcore.Lock(os.Stderr))
			observability.GetLogger().Debug("Starting kleinpost.", zap.String("version", Version))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().Bool("headful", false, "show the browser window")
	rootCmd.PersistentFlags().String("log-level", "", "override logger.level")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(
		newValidateCmd(a),
		newAccountsCmd(a),
		newProxyCmd(a),
		newPublishCmd(a),
		newCategoriesCmd(a),
		newAdsCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the root command with ctx and logs a failure once.
func Execute(ctx context.Context) error {
	err := NewRootCommand().ExecuteContext(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			observability.GetLogger().Warn("Command aborted by signal.")
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
	observability.Sync()
	return err
}

// initializeConfig reads in the config file and ENV variables if set.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and env vars apply.
	}
	return nil
}

// bindFlags applies the global flags that map onto config keys.
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := cmd.Flags()
	if flags.Changed("headful") {
		headful, err := flags.GetBool("headful")
		if err != nil {
			return err
		}
		v.Set("browser.headless", !headful)
	}
	if flags.Changed("log-level") {
		level, err := flags.GetString("log-level")
		if err != nil {
			return err
		}
		v.Set("logger.level", level)
	}
	return nil
}

// components creates the component set for the running command.
func (a *app) components(cmd *cobra.Command) (*service.Components, error) {
	if a.cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	c, err := a.factory.Create(cmd.Context(), a.cfg, observability.GetLogger())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}
	return c, nil
}
