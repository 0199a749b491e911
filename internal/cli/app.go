// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cli

import (
	"fmt"
	"time"

	"github.com/launchpad/engine/internal/config"
	"github.com/launchpad/engine/internal/launchpad"
	"github.com/launchpad/engine/internal/store"
	"github.com/launchpad/engine/internal/store/memory"
	"github.com/launchpad/engine/internal/store/postgres"
	"github.com/launchpad/engine/internal/store/sqlite"
)

// app bundles the config-resolved store and Launchpad every admin command
// needs. Commands open one per invocation and close it on return.
type app struct {
	cfg *config.Config
	st  store.Store
	lp  *launchpad.Launchpad
}

func openApp() (*app, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, err
	}

	st, err := openStore(cfg.Store)
	if err != nil {
		return nil, err
	}

	lp := launchpad.New(st, launchpad.Config{
		LockWait: cfg.Thresholds.LockWait(),
		LockTTL:  cfg.Thresholds.LockTTL(),
	})

	return &app{cfg: cfg, st: st, lp: lp}, nil
}

func (a *app) Close() error {
	if closer, ok := a.st.(store.Closer); ok {
		return closer.Close()
	}
	return nil
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Type {
	case "", "memory":
		return memory.New(), nil
	case "sqlite":
		return sqlite.New(sqlite.Config{Path: cfg.SQLite.Path, WAL: cfg.SQLite.WAL})
	case "postgres":
		return postgres.New(postgres.Config{
			ConnectionString: cfg.Postgres.ConnectionString,
			MaxOpenConns:     cfg.Postgres.MaxOpenConns,
			MaxIdleConns:     cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime:  time.Duration(cfg.Postgres.ConnMaxLifetimeSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}
