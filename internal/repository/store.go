package repository

import (
	"context"
	"fmt"

	"github.com/SergeiKhy/guest-urls/internal/clock"
	"github.com/SergeiKhy/guest-urls/internal/config"
)

// Store объединяет репозитории выбранного драйвера
type Store struct {
	Links  LinkRepository
	Usages UsageRepository
	close  func()
}

// Open подключается к БД по cfg.Driver и накатывает схему
func Open(ctx context.Context, cfg config.DBConfig, clk clock.Clock) (*Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		db, err := NewPostgresDB(cfg)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return &Store{
			Links:  NewLinkRepository(db, clk),
			Usages: NewUsageRepository(db),
			close:  db.Close,
		}, nil

	case config.DriverSQLite:
		db, err := NewSQLiteDB(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return &Store{
			Links:  NewSQLiteLinkRepository(db, clk),
			Usages: NewSQLiteUsageRepository(db),
			close:  func() { _ = db.Close() },
		}, nil

	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.Driver)
	}
}

func (s *Store) Close() {
	if s.close != nil {
		s.close()
	}
}
