package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"pqkms/internal/hsm"
	"pqkms/internal/hsm/audit"
	"pqkms/internal/hsm/backend/cloudhsm"
	"pqkms/internal/hsm/backend/pkcs11"
	"pqkms/internal/hsm/backend/softhsm"
	"pqkms/internal/hsm/backend/vault"
	"pqkms/internal/hsm/metrics"
	"pqkms/internal/platform/config"
	"pqkms/internal/platform/httpserver"
	"pqkms/internal/platform/logger"
	httpapi "pqkms/internal/transport/http"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the key management HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context) error {
	cfg := config.FromEnv()
	log := logger.New()

	registry, err := buildRegistry(cfg.HSM)
	if err != nil {
		return err
	}

	trail, cleanup, err := buildTrail(ctx, cfg.Audit, log)
	if err != nil {
		return err
	}
	defer cleanup()

	manager, err := hsm.NewManager(
		registry,
		trail,
		metrics.New(prometheus.DefaultRegisterer),
		time.Duration(cfg.HSM.TimeoutSeconds)*time.Second,
		hsm.WithLogger(log),
	)
	if err != nil {
		return err
	}

	handler := httpapi.New(manager, log)
	srv := httpserver.New(cfg.Addr, handler.Router(prometheus.DefaultGatherer))

	log.Info("starting pqkms", "addr", cfg.Addr, "providers", registry.Len())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)

	select {
	case err := <-errCh:
		return err
	case <-quit:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildRegistry constructs every enabled backend. Registration order matches
// the platform trust ranking; a configuration with no backend enabled falls
// back to the software one so a bare deployment still serves.
func buildRegistry(cfg config.HSM) (*hsm.Registry, error) {
	registry := hsm.NewRegistry()

	if cfg.CloudHSM.Enabled {
		p, err := cloudhsm.New(cloudhsm.Config{
			ClusterID: cfg.CloudHSM.ClusterID,
			Region:    cfg.CloudHSM.Region,
			PoolSize:  cfg.CloudHSM.PoolSize,
		})
		if err != nil {
			return nil, fmt.Errorf("cloudhsm backend: %w", err)
		}
		if err := registry.Register(p); err != nil {
			return nil, err
		}
	}

	if cfg.Vault.Enabled {
		p, err := vault.New(vault.Config{
			URL:          cfg.Vault.URL,
			TenantID:     cfg.Vault.TenantID,
			ClientID:     cfg.Vault.ClientID,
			ClientSecret: cfg.Vault.ClientSecret,
			PoolSize:     cfg.Vault.PoolSize,
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("vault backend: %w", err)
		}
		if err := registry.Register(p); err != nil {
			return nil, err
		}
	}

	if cfg.PKCS11.Enabled {
		p, err := pkcs11.New(pkcs11.Config{
			ModulePath: cfg.PKCS11.ModulePath,
			SlotPIN:    cfg.PKCS11.SlotPIN,
			PoolSize:   cfg.PKCS11.PoolSize,
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("pkcs11 backend: %w", err)
		}
		if err := registry.Register(p); err != nil {
			return nil, err
		}
	}

	if cfg.SoftHSM.Enabled || registry.Len() == 0 {
		if err := registry.Register(softhsm.New(nil)); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

// buildTrail assembles the audit ledger from the configured store and the
// optional Kafka mirror. The returned cleanup closes whatever was opened.
func buildTrail(ctx context.Context, cfg config.Audit, log *slog.Logger) (*audit.Trail, func(), error) {
	var (
		store   audit.Store
		closers []func()
	)

	switch cfg.Store {
	case "", "memory":
		store = audit.NewMemoryStore()
	case "postgres":
		pg, err := audit.OpenPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("audit postgres store: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("audit postgres migrate: %w", err)
		}
		closers = append(closers, func() { _ = pg.Close() })
		store = pg
	case "redis":
		rs, err := audit.OpenRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("audit redis store: %w", err)
		}
		closers = append(closers, func() { _ = rs.Close() })
		store = rs
	default:
		return nil, nil, fmt.Errorf("unknown audit store %q: %w", cfg.Store, hsm.ErrConfiguration)
	}

	opts := []audit.Option{audit.WithLogger(log)}
	if len(cfg.KafkaBrokers) > 0 {
		pub, err := audit.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			for _, c := range closers {
				c()
			}
			return nil, nil, fmt.Errorf("audit kafka publisher: %w", err)
		}
		closers = append(closers, pub.Close)
		opts = append(opts, audit.WithPublisher(pub))
	}

	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return audit.NewTrail(store, opts...), cleanup, nil
}
