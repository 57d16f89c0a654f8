package cmds

import (
	"fmt"

	"github.com/go-go-golems/threadchat/pkg/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration with masked keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromViper(viper.GetViper())
			if err != nil {
				return err
			}
			b, err := cfg.Masked().YAML()
			if err != nil {
				return err
			}
			if used := viper.ConfigFileUsed(); used != "" {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", used)
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}
	cmd.AddCommand(show)
	return cmd
}
