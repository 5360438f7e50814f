// Package architectcmd assembles the architect CLI.
package architectcmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stokaro/architect/cmd/migrate"
	"github.com/stokaro/architect/cmd/serve"
)

const envPrefix = "ARCHITECT"

var rootCmd = &cobra.Command{
	Use:   "architect",
	Short: "Configuration-driven multi-tenant REST backend engine",
	Long: `Architect serves a uniform CRUD API for every table described in a
declarative package, materializes the described schema in PostgreSQL, and
routes each request to its tenant's isolation strategy (own database, own
schema, or shared schema with row-level security).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute(args ...string) {
	// Best-effort .env loading; the environment always wins.
	_ = godotenv.Load()

	viper.AutomaticEnv()
	viper.SetEnvPrefix(envPrefix)

	rootCmd.SetArgs(args)
	rootCmd.AddCommand(serve.NewServeCommand())
	rootCmd.AddCommand(migrate.NewMigrateCommand())

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1) //revive:disable-line:deep-exit
	}
}
