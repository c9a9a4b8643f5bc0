package main

import (
	"fmt"

	"github.com/spf13/cobra"

	config "github.com/mlld-lang/mlld-sub001/internal/config"
)

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	manifest   string
	logLevel   string
	noPolicy   bool
	effectLog  string
	prefix     bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "mlldx",
		Short:         "Dispatch mlld executables from a manifest",
		Long:          `mlldx loads executables and variables from a YAML manifest and runs them with live effect output, over HTTP, or as a remote code worker.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "config file (.toml, .yaml); defaults to $MLLDX_CONFIG or ./mlldx.toml")
	pf.StringVarP(&g.manifest, "manifest", "m", "mlld.yaml", "manifest of executables and variables")
	pf.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&g.noPolicy, "no-policy", false, "disable the command security gate")
	pf.StringVar(&g.effectLog, "effect-log", "", "also record effects to this SQLite file")
	pf.BoolVar(&g.prefix, "prefix", false, "prefix effect lines with the producing executable")

	root.AddCommand(
		newRunCmd(g),
		newEachCmd(g),
		newServeCmd(g),
		newWorkerCmd(g),
		newProtoCmd(),
		newVersionCmd(),
	)
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w\n\n%s", err, cmd.UsageString())
	})
	return root
}

// loadConfig reads the config file and applies flag overrides.
func (g *globalFlags) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if g.configPath != "" {
		cfg, err = config.Load(g.configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.noPolicy {
		cfg.Policy.Enabled = false
	}
	if g.effectLog != "" {
		cfg.EffectLog.Path = g.effectLog
	}
	return cfg, nil
}
