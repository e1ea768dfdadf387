package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/keyhub/keyhub/internal/config"
)

var cfgFile string

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	return newRootCmd(version, commit, date).Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyhub",
		Short: "Manage API keys and the clients entitled to them",
		Long: `keyhub keeps the API keys your organisation hands to integration partners.

Operators sign in through your identity provider, register keys and clients,
and grant each client access to a key under its own secret. Keys can stage a
replacement secret that is promoted manually or on a scheduled date.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./keyhub.yaml)")
	cmd.PersistentFlags().String("driver", "", "store driver: sqlite, postgres or mysql")
	cmd.PersistentFlags().String("dsn", "", "store DSN (for sqlite, the data directory)")
	viper.BindPFlag("store.driver", cmd.PersistentFlags().Lookup("driver"))
	viper.BindPFlag("store.dsn", cmd.PersistentFlags().Lookup("dsn"))

	cobra.OnInitialize(initConfig)

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newClientCmd())
	cmd.AddCommand(newKeyCmd())
	cmd.AddCommand(newLinkCmd())
	cmd.AddCommand(newUserCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))

	return cmd
}

func initConfig() {
	v := viper.GetViper()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("keyhub")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.keyhub")
	}

	config.BindEnv(v)
	v.ReadInConfig() // Ignore error - config file is optional
}
