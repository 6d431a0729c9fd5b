package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRootCmd(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:   "modload",
		Short: "Resolve, install and load modules",
		Long: `modload resolves module specifiers (package names or relative paths) to
artifacts, installs missing packages on demand and loads each artifact once.

Settings come from .modload/config.yaml in the project directory. Flags and
MODLOAD_* environment variables override them.

Examples:
  # Where does "greet" resolve from the project root?
  modload resolve greet

  # Load a Go artifact and print its exports
  modload require ./main.go

  # Browse loaded artifacts and cached resolutions
  modload inspect ./main.go`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return v.BindPFlags(cmd.Flags())
		},
	}

	flags := root.PersistentFlags()
	flags.StringP("project", "C", "", "Project directory (default: current directory)")
	flags.String("cache", "", "Resolution cache policy: forever|none (default from config)")
	flags.String("log-level", "info", "Log level written to .modload/logs/modload.log")
	flags.Bool("no-install", false, "Never install missing packages")
	flags.Bool("sync-install", false, "Also install on the blocking resolution path")
	flags.String("from", "", "Requesting file; specifiers resolve against its directory")

	v.SetEnvPrefix("MODLOAD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root.AddCommand(
		newInitCmd(v),
		newConfigCmd(v),
		newResolveCmd(v),
		newRequireCmd(v),
		newInstallCmd(v),
		newInspectCmd(v),
		newStateCmd(v),
	)
	return root
}

func main() {
	if err := newRootCmd(viper.New()).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
