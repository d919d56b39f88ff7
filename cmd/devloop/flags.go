package main

import "github.com/spf13/cobra"

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	LogLevel   string
	Root       string
}

func (f *GlobalFlags) bind(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&f.ConfigPath, "config", "", "path to devloop.toml (optional)")
	pf.StringVar(&f.LogLevel, "log-level", "", "override log level (debug, info, warn, error)")
	pf.StringVar(&f.Root, "root", "", "override the project root")
}
