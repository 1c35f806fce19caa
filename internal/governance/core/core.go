// Package core wires the governance core's pieces together the way an
// embedding application does: load configuration, stand up the cloud
// object store it names, and bind both into a Coordinator and a sync
// Manager that share one data directory. Nothing downstream of Open forces
// a caller through this package; it exists so the config, migration,
// sync, and objectstore/s3 packages have one real, tested caller instead
// of only their own test files.
package core

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/deepstudent/datagovernance/internal/governance/config"
	"github.com/deepstudent/datagovernance/internal/governance/migration"
	"github.com/deepstudent/datagovernance/internal/governance/objectstore"
	"github.com/deepstudent/datagovernance/internal/governance/objectstore/s3"
	"github.com/deepstudent/datagovernance/internal/governance/registry"
	"github.com/deepstudent/datagovernance/internal/governance/sync"
)

// Core bundles the migration coordinator, the read-only registry
// aggregator, the sync manager, and the resolved configuration they were
// built from.
type Core struct {
	Config      *config.Config
	Coordinator *migration.Coordinator
	Registry    *registry.Aggregator
	Sync        *sync.Manager
}

// Open resolves configuration rooted at dataDir, connects the object store
// it names, and returns a Core ready to drive RunAll and then Upload/
// Download/Apply. deviceIDOverride takes precedence over whatever Load
// found, mirroring config.Config.DeviceID's own override argument.
// schemas registers the caller's business tables for ApplyChanges; this
// package has no opinion on table shape, so it never invents one.
func Open(ctx context.Context, dataDir string, deviceIDOverride string, schemas map[string]sync.TableSchema, opts ...migration.Option) (*Core, error) {
	cfg, err := config.Load(dataDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	store, err := s3.New(ctx, s3.Config(cfg.ObjectStore()))
	if err != nil {
		return nil, fmt.Errorf("open object store: %w", err)
	}

	specs := migration.DefaultSpecs()
	return &Core{
		Config:      cfg,
		Coordinator: migration.NewCoordinator(dataDir, specs, opts...),
		Registry:    registry.New(dataDir, specs),
		Sync:        newSyncManager(store, cfg.DeviceID(deviceIDOverride), schemas),
	}, nil
}

func newSyncManager(store objectstore.Store, deviceID string, schemas map[string]sync.TableSchema) *sync.Manager {
	m := sync.NewManager(store, deviceID, schemas)
	m.Log = slog.Default()
	return m
}
