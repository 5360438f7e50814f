// Package migrate implements the migrate command: ensure the system tables
// and apply the DDL for a package path against the central database, then
// exit.
package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-extras/cobraflags"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/stokaro/architect/config"
	"github.com/stokaro/architect/core/pkgschema"
	"github.com/stokaro/architect/core/resolve"
	"github.com/stokaro/architect/migration/migrator"
	"github.com/stokaro/architect/migration/planner"
	"github.com/stokaro/architect/store"
)

const (
	packageFlag = "package"
	schemaFlag  = "schema-override"
)

var migrateFlags = map[string]cobraflags.Flag{
	packageFlag: &cobraflags.StringFlag{
		Name:  packageFlag,
		Value: "",
		Usage: "Package directory or zip to apply (defaults to PACKAGE_PATH)",
	},
	schemaFlag: &cobraflags.StringFlag{
		Name:  schemaFlag,
		Value: "",
		Usage: "Apply the package DDL into this schema instead of its own",
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Ensure system tables and apply package DDL, then exit",
	RunE:  migrateCommand,
}

// NewMigrateCommand returns the migrate command.
func NewMigrateCommand() *cobra.Command {
	cobraflags.RegisterMap(migrateCmd, migrateFlags)
	return migrateCmd
}

func migrateCommand(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	path := migrateFlags[packageFlag].GetString()
	if path == "" {
		path = cfg.PackagePath
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}
	defer pool.Close()

	st, err := store.New(cfg.ArchitectSchema)
	if err != nil {
		return err
	}
	if err := st.EnsureSystemTables(ctx, pool); err != nil {
		return err
	}
	logger.Info("System tables ensured", "schema", st.Schema())

	if path == "" {
		return nil
	}

	pkg, err := pkgschema.LoadPath(path)
	if err != nil {
		return err
	}
	model, err := resolve.Resolve(pkg)
	if err != nil {
		return err
	}
	if err := st.SavePackage(ctx, pool, pkg); err != nil {
		return err
	}
	if err := migrator.New(pool).WithLogger(logger).ApplyModel(ctx, model, planner.Options{
		SchemaOverride: migrateFlags[schemaFlag].GetString(),
		EnableRLS:      true,
	}); err != nil {
		return err
	}
	logger.Info("Package applied", "package", pkg.Manifest.ID)
	return nil
}
