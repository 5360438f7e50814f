// Package serve implements the serve command: wire the pools, the system
// tables, the tenant registry and the HTTP surface, then run until
// signalled.
package serve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-extras/cobraflags"
	"github.com/go-extras/go-kit/must"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/stokaro/architect/api"
	"github.com/stokaro/architect/config"
	"github.com/stokaro/architect/core/pkgschema"
	"github.com/stokaro/architect/core/resolve"
	"github.com/stokaro/architect/crud"
	"github.com/stokaro/architect/migration/migrator"
	"github.com/stokaro/architect/migration/planner"
	"github.com/stokaro/architect/store"
	"github.com/stokaro/architect/tenant"
)

const listenFlag = "listen"

var serveFlags = map[string]cobraflags.Flag{
	listenFlag: &cobraflags.StringFlag{
		Name:  listenFlag,
		Value: "",
		Usage: "HTTP listen address (overrides LISTEN_ADDR)",
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE:  serveCommand,
}

// NewServeCommand returns the serve command.
func NewServeCommand() *cobra.Command {
	cobraflags.RegisterMap(serveCmd, serveFlags)
	return serveCmd
}

func serveCommand(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if addr := serveFlags[listenFlag].GetString(); addr != "" {
		cfg.ListenAddr = addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	central, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to create central pool: %w", err)
	}
	defer central.Close()

	st, err := store.New(cfg.ArchitectSchema)
	if err != nil {
		return err
	}
	st = st.WithLogger(logger)

	if err := st.EnsureSystemTables(ctx, central); err != nil {
		return err
	}

	registry := tenant.NewRegistry(central, st, provisioner(st, central, logger)).
		WithLogger(logger).
		WithPoolLimit(cfg.TenantPoolLimit)
	defer registry.Close()

	if err := registry.Reload(ctx); err != nil {
		return err
	}
	registry.StartRefresh(ctx, cfg.TenantRefreshInterval)

	models := tenant.NewModelCache(modelLoader(st, central))
	service := crud.New().WithLogger(logger)
	server := api.New(registry, st, service, models).WithLogger(logger)

	if err := loadStartupPackage(ctx, cfg, st, central, server, models, logger); err != nil {
		// Config-load failures at startup are fatal by policy.
		return err
	}

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening", "addr", cfg.ListenAddr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// provisioner prepares a freshly created database-tenant pool: its own
// _sys_* tables, a copy of every installed package's config, and the
// package DDL.
func provisioner(st *store.Store, central *pgxpool.Pool, logger *slog.Logger) tenant.Provisioner {
	return func(ctx context.Context, pool *pgxpool.Pool) error {
		if err := st.EnsureSystemTables(ctx, pool); err != nil {
			return err
		}
		manifests, err := st.ListPackages(ctx, central)
		if err != nil {
			return err
		}
		for _, m := range manifests {
			pkg, err := st.LoadPackage(ctx, central, m.ID)
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
			if err := migrator.New(pool).WithLogger(logger).ApplyModel(ctx, model, planner.Options{EnableRLS: true}); err != nil {
				return err
			}
			logger.Info("Provisioned package on tenant pool", "package", m.ID)
		}
		return nil
	}
}

// modelLoader resolves a package on the context's config source: database
// tenants carry their own config, everything else reads the central store.
func modelLoader(st *store.Store, central *pgxpool.Pool) tenant.ModelLoader {
	return func(ctx context.Context, tc *tenant.Context, packageID string) (*resolve.Model, error) {
		exec := tenant.ConfigExecutor(tc, central)
		pkg, err := st.LoadPackage(ctx, exec, packageID)
		if err != nil {
			return nil, err
		}
		return resolve.Resolve(pkg)
	}
}

func loadStartupPackage(ctx context.Context, cfg *config.Config, st *store.Store, central *pgxpool.Pool, server *api.Server, models *tenant.ModelCache, logger *slog.Logger) error {
	if cfg.PackagePath != "" {
		pkg, err := pkgschema.LoadPath(cfg.PackagePath)
		if err != nil {
			return fmt.Errorf("failed to load startup package: %w", err)
		}
		model, err := resolve.Resolve(pkg)
		if err != nil {
			return fmt.Errorf("failed to resolve startup package: %w", err)
		}
		if err := st.SavePackage(ctx, central, pkg); err != nil {
			return err
		}
		if err := migrator.New(central).WithLogger(logger).ApplyModel(ctx, model, planner.Options{EnableRLS: true}); err != nil {
			return err
		}
		models.Put(pkg.Manifest.ID, model)
		server.SetDefaultPackage(pkg.Manifest.ID)
		if err := st.SetKV(ctx, central, store.DefaultPackageKey, mustJSON(pkg.Manifest.ID)); err != nil {
			return err
		}
		logger.Info("Startup package installed", "package", pkg.Manifest.ID, "entities", len(model.Entities))
		return nil
	}

	// No startup package: reuse the remembered default, else the first
	// installed package.
	if payload, err := st.GetKV(ctx, central, store.DefaultPackageKey); err == nil {
		var id string
		if err := json.Unmarshal(payload, &id); err == nil && id != "" {
			server.SetDefaultPackage(id)
			logger.Info("Default package selected", "package", id)
			return nil
		}
	}
	manifests, err := st.ListPackages(ctx, central)
	if err != nil {
		return err
	}
	if len(manifests) > 0 {
		server.SetDefaultPackage(manifests[0].ID)
		logger.Info("Default package selected", "package", manifests[0].ID)
	}
	return nil
}

func mustJSON(v any) json.RawMessage {
	return must.Must(json.Marshal(v))
}
