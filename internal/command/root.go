package command

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"vrnode/internal/command/fabric"
	"vrnode/internal/command/forward"
	"vrnode/internal/command/health"
	"vrnode/internal/command/run"
	"vrnode/internal/config"
	"vrnode/internal/version"
	"vrnode/pkg/flags"
	"vrnode/pkg/log"
)

func NewRootCommand() (*cobra.Command, error) {
	cfg := &config.Config{}

	cmd := &cobra.Command{
		Use:          "vrnode",
		Short:        "Run a virtual router image as a containerised network node",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			flags.BindCommandToViper(cmd)

			if err := log.Configure(&cfg.Logging); err != nil {
				return fmt.Errorf("configuring logging: %w", err)
			}

			return nil
		},
		RunE: func(c *cobra.Command, _ []string) error {
			return c.Help()
		},
	}

	log.AddFlagsToCommand(cmd, &cfg.Logging)

	if err := addRootSubCommands(cmd, cfg); err != nil {
		return nil, fmt.Errorf("adding subcommands: %w", err)
	}

	cobra.OnInitialize(initCobra)

	return cmd, nil
}

func initCobra() {
	viper.SetEnvPrefix("VRNODE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	viper.SetConfigType("yaml")
	viper.SetConfigName("config")
	viper.AddConfigPath("/etc/vrnode/")
	viper.AddConfigPath("$HOME/.config/vrnode/")

	_ = viper.ReadInConfig()
}

func addRootSubCommands(cmd *cobra.Command, cfg *config.Config) error {
	runCmd, err := run.NewCommand(cfg)
	if err != nil {
		return fmt.Errorf("creating run cobra command: %w", err)
	}

	healthCmd, err := health.NewCommand(cfg)
	if err != nil {
		return fmt.Errorf("creating health command: %w", err)
	}

	forwardCmd, err := forward.NewCommand(cfg)
	if err != nil {
		return fmt.Errorf("creating forward command: %w", err)
	}

	cmd.AddCommand(runCmd)
	cmd.AddCommand(healthCmd)
	cmd.AddCommand(forwardCmd)
	cmd.AddCommand(fabric.NewCommands(cfg)...)
	cmd.AddCommand(versionCommand())

	return nil
}

func versionCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the vrnode build information",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			out := c.OutOrStdout()

			switch format {
			case "short":
				fmt.Fprintln(out, version.Version)
			case "long":
				fmt.Fprintf(out, "%s %s\n  commit: %s\n  built:  %s\n",
					version.PackageName, version.Version, version.CommitHash, version.BuildDate)
			case "":
				fmt.Fprintf(out, "%s %s\n", version.PackageName, version.Version)
			default:
				return fmt.Errorf("unknown version format %q", format)
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", "", "Print only the version (short) or every build field (long).")

	return cmd
}
