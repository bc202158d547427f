package server

import (
	"context"
	"fmt"

	"github.com/digiclo/apiserver/config"
	"github.com/digiclo/apiserver/internal/db"
	"github.com/digiclo/apiserver/internal/services"
	"github.com/digiclo/apiserver/internal/storage"
	"github.com/digiclo/apiserver/internal/store"
	"github.com/digiclo/apiserver/internal/store/mongostore"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Repositories groups the persistence backends selected by DB_DRIVER.
type Repositories struct {
	Users    services.UserRepository
	Clothing services.ClothingRepository
	Outfits  services.OutfitRepository

	Ping  func(ctx context.Context) error
	Close func() error
}

// OpenRepositories connects to PostgreSQL or MongoDB.
func OpenRepositories(ctx context.Context, cfg config.DatabaseConfig) (Repositories, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		conn, err := db.Open(ctx, cfg)
		if err != nil {
			return Repositories{}, fmt.Errorf("open postgres: %w", err)
		}
		return Repositories{
			Users:    store.NewUserRepository(conn),
			Clothing: store.NewClothingRepository(conn),
			Outfits:  store.NewOutfitRepository(conn),
			Ping:     conn.PingContext,
			Close:    conn.Close,
		}, nil

	case config.DriverMongo:
		client, database, err := db.OpenMongo(ctx, cfg)
		if err != nil {
			return Repositories{}, fmt.Errorf("open mongo: %w", err)
		}
		if err := mongostore.EnsureIndexes(ctx, database); err != nil {
			_ = client.Disconnect(context.Background())
			return Repositories{}, fmt.Errorf("ensure mongo indexes: %w", err)
		}
		return Repositories{
			Users:    mongostore.NewUserRepository(database),
			Clothing: mongostore.NewClothingRepository(database),
			Outfits:  mongostore.NewOutfitRepository(database),
			Ping: func(ctx context.Context) error {
				return client.Ping(ctx, readpref.Primary())
			},
			Close: func() error {
				return client.Disconnect(context.Background())
			},
		}, nil

	default:
		return Repositories{}, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// OpenStorage connects to the object storage selected by STORAGE_DRIVER and
// makes sure its bucket exists. The returned close func is never nil.
func OpenStorage(ctx context.Context, cfg config.StorageConfig) (*storage.Storage, func() error, error) {
	var (
		backend storage.ObjectStorage
		closeFn = func() error { return nil }
	)

	switch cfg.Driver {
	case config.DriverMinio:
		client, err := storage.NewMinioClient(cfg.Minio)
		if err != nil {
			return nil, nil, fmt.Errorf("init minio: %w", err)
		}
		backend = client
	case config.DriverGCS:
		client, err := storage.NewGCSClient(ctx, cfg.GCS)
		if err != nil {
			return nil, nil, fmt.Errorf("init gcs: %w", err)
		}
		backend = client
		closeFn = client.Close
	default:
		return nil, nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}

	st := storage.NewStorage(backend, cfg.PublicBaseURL)
	if err := st.EnsureBucket(ctx); err != nil {
		_ = closeFn()
		return nil, nil, fmt.Errorf("ensure bucket %s: %w", st.Bucket(), err)
	}
	return st, closeFn, nil
}
