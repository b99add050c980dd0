package main

import (
	"github.com/effective-security/toolmesh/config"
	"github.com/effective-security/xlog"
	"github.com/spf13/cobra"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolmesh", "cmd")

// Version is set at build time
var Version = "dev"

type app struct {
	cfgFile string
	verbose bool
	cfg     *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "toolmesh",
		Short:         "Tool-use orchestration over JSON-RPC tool providers",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// stdout of a provider carries protocol traffic only
			xlog.SetFormatter(xlog.NewStringFormatter(cmd.ErrOrStderr()))
			if a.verbose {
				xlog.SetGlobalLogLevel(xlog.DEBUG)
			} else {
				xlog.SetGlobalLogLevel(xlog.WARNING)
			}

			cfg, err := config.Load(a.cfgFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "configuration file")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging to stderr")

	cmd.AddCommand(
		newRunCmd(a),
		newToolsCmd(a),
		newProviderCmd(a),
	)
	return cmd
}
