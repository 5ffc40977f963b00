package backend

import (
	"context"
	"fmt"

	"ainopay/internal/log"
	"ainopay/internal/storage"
	"ainopay/internal/storage/memory"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &DefaultFactory{logger: logger.WithComponent(log.ComponentBackend)}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		f.logger.InfoContext(ctx, "Initialized SQLite backend",
			"db_path", config.SQLiteDBPath,
			"schema_version", repo.SchemaVersion())
		return &BackendResult{Store: repo, Cleanup: repo.Close}, nil

	case MemoryBackend:
		f.logger.WarnContext(ctx, "Initialized memory backend; data is lost on restart")
		store := memory.New()
		return &BackendResult{Store: store, Cleanup: store.Close}, nil
	}
	return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
}
