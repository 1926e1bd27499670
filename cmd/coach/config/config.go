// Package configcmder provides the config command for managing persistent
// coach configuration stored in the .coach/ directory.
package configcmder

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/coach/pkg/cliui"
	"github.com/papercomputeco/coach/pkg/config"
)

const configLongDesc string = `Manage persistent coach configuration.

Configuration is stored as config.toml in the .coach/ directory and provides
default values for command flags. CLI flags and COACH_* environment variables
take precedence over config file values.

Keys use dotted notation matching the TOML section structure:
  storage.sqlite_path, storage.postgres_dsn,
  api.listen,
  client.service_target, client.api_target, client.events_target, client.link_base,
  stream.provider, stream.upstream, stream.model, stream.silence_timeout,
  stream.breaker_failures,
  events.kafka_brokers, events.kafka_topic

Use subcommands to get, set, or list configuration values:
  coach config set <key> <value>    Set a configuration value
  coach config get <key>            Get a configuration value
  coach config list                 List all configuration values

Examples:
  coach config set stream.provider ollama
  coach config set client.link_base https://coach.example/chat
  coach config get stream.silence_timeout
  coach config list`

const configShortDesc string = "Manage persistent coach configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}

func validKeyArgs(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) == 0 {
		return config.ValidConfigKeys(), cobra.ShellCompDirectiveNoFileComp
	}
	return nil, cobra.ShellCompDirectiveNoFileComp
}

func printTarget(out io.Writer, cfger *config.Configer) {
	if _, err := os.Stat(cfger.GetTarget()); err == nil {
		fmt.Fprintf(out, "\n  %s %s\n\n",
			cliui.KeyStyle.Render("Config file:"),
			cliui.DimStyle.Render(cfger.GetTarget()),
		)
		return
	}
	fmt.Fprintf(out, "\n  %s\n\n", cliui.DimStyle.Render("No config file found. Using defaults."))
}
