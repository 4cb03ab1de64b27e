package main

import (
	"github.com/spf13/cobra"

	"github.com/orbitalfiles/orbital/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if cc.JSON {
		masked := *cc.Cfg.Config
		if masked.Providers.GoogleClientSecret != "" {
			masked.Providers.GoogleClientSecret = "********"
		}

		return printJSON(cc.Out, struct {
			Path   string
			Config config.Config
		}{cc.Cfg.Path, masked})
	}

	return config.RenderEffective(cc.Cfg, cc.Out)
}
