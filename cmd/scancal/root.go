package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"scancal/internal/config"
)

// rootOptions carries the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	envFile    string
	noColor    bool
	v          *viper.Viper
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{v: config.NewViper()}

	rootCmd := &cobra.Command{
		Use:   "scancal",
		Short: "Scan a mail page for calendar events",
		Long: "scancal reads the visible text of a mail page (or a file, or free text), streams it " +
			"through an event-extraction service and turns the results into calendar links and " +
			"iCalendar files.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", config.DefaultPath(), "path to the YAML config file")
	pf.StringVar(&opts.envFile, "env-file", "", "load environment overrides from this .env file (default: ./.env if present)")
	pf.BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	// Flags below override config keys; SCANCAL_* environment variables do too.
	pf.String("timezone", "", "IANA time zone sent to the parsing service")
	pf.String("identity", "", "user whose contacts feed mention suggestions")
	pf.String("parser-url", "", "base URL of the parsing service")
	pf.String("log-level", "", "log level: debug, info, error")
	pf.String("log-format", "", "log format: console, json")
	bindFlag(opts.v, rootCmd, "timezone", "timezone")
	bindFlag(opts.v, rootCmd, "identity", "identity")
	bindFlag(opts.v, rootCmd, "parser.base_url", "parser-url")
	bindFlag(opts.v, rootCmd, "log.level", "log-level")
	bindFlag(opts.v, rootCmd, "log.format", "log-format")

	rootCmd.AddCommand(
		newScanCmd(opts),
		newParseCmd(opts),
		newMentionCmd(opts),
		newLinkCmd(opts),
		newExportCmd(opts),
		newServeCmd(opts),
	)

	return rootCmd
}

// bindFlag ties a persistent or local flag of cmd to a config key.
func bindFlag(v *viper.Viper, cmd *cobra.Command, key, flag string) {
	f := cmd.PersistentFlags().Lookup(flag)
	if f == nil {
		f = cmd.Flags().Lookup(flag)
	}
	if f == nil {
		panic("scancal: unknown flag " + flag)
	}
	if err := v.BindPFlag(key, f); err != nil {
		panic(err)
	}
}
