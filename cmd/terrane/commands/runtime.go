package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/terrane-dev/terrane/pkg/engine"
	"github.com/terrane-dev/terrane/pkg/provider"
	"github.com/terrane-dev/terrane/pkg/provider/protocol"
	"github.com/terrane-dev/terrane/pkg/providers/memory"
	"github.com/terrane-dev/terrane/pkg/statefile"
	"github.com/terrane-dev/terrane/pkg/stores"
	"github.com/terrane-dev/terrane/pkg/telemetry"
)

// runtime holds everything a command needs: the loaded document, the
// connected and configured provider, the snapshot store and the
// reconciler bound to them.
type runtime struct {
	tel   *telemetry.Telemetry
	doc   *statefile.Document
	prov  provider.Provider
	store stores.SnapshotStore
	rec   *engine.Reconciler
}

// setup builds the runtime from the global flags.
func setup(ctx context.Context) (*runtime, error) {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = logLevel
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if jsonOutput {
		cfg.Logging.Format = "json"
	}
	if metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddress = metricsAddr
	}

	tel, err := telemetry.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := tel.Metrics.StartServer(); err != nil {
		return nil, err
	}

	doc, err := statefile.Load(stateFile)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	prov, err := connectProvider(ctx, tel.Logger, doc.Provider)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	if err := prov.Configure(ctx, provider.ConfigureRequest{Variables: doc.Provider.Config}); err != nil {
		_ = prov.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to configure provider %s: %w", doc.Provider.Name, err)
	}

	rec, err := engine.New(engine.Options{
		Provider:     prov,
		Store:        store,
		ProviderName: doc.Provider.Name,
		Logger:       tel.Logger,
		Metrics:      tel.Metrics,
		Tracer:       tel.Tracer,
	})
	if err != nil {
		_ = prov.Close()
		_ = store.Close()
		return nil, err
	}

	return &runtime{
		tel:   tel,
		doc:   doc,
		prov:  prov,
		store: store,
		rec:   rec,
	}, nil
}

// close releases the runtime in reverse order of setup.
func (r *runtime) close(ctx context.Context) {
	if err := r.prov.Close(); err != nil {
		r.tel.Logger.WithError(err).Warn("failed to close provider")
	}
	if err := r.store.Close(); err != nil {
		r.tel.Logger.WithError(err).Warn("failed to close snapshot store")
	}
	if err := r.tel.Shutdown(ctx); err != nil {
		r.tel.Logger.WithError(err).Warn("failed to shut down telemetry")
	}
}

// openStore opens the SQLite snapshot store, creating its directory.
func openStore(ctx context.Context) (stores.SnapshotStore, error) {
	if dir := filepath.Dir(stateDB); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	store, err := stores.NewSQLiteStore(stores.Config{Path: stateDB})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// connectProvider reaches the provider named by the document: a
// subprocess over stdio, or the bundled memory provider in process.
func connectProvider(ctx context.Context, logger *telemetry.Logger, spec statefile.ProviderSpec) (provider.Provider, error) {
	if spec.Command == "" || spec.Command == "memory://" {
		if spec.Name != memory.Name {
			return nil, fmt.Errorf("no command given and no bundled provider named %q", spec.Name)
		}
		return memory.New(), nil
	}
	return protocol.Launch(ctx, logger, spec.Command, spec.Args...)
}
