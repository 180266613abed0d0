package orchestrator

import (
	"context"
	"fmt"

	"github.com/loiht2/assistant-runtime/backend/config"
	"github.com/loiht2/assistant-runtime/backend/k8s"
	"github.com/loiht2/assistant-runtime/backend/repository"
	"github.com/loiht2/assistant-runtime/backend/storage"
)

// NewBackend returns the storage backend selected by cfg. Connect must have
// run for the redis and postgres backends.
func NewBackend(cfg *config.Config) (storage.Backend, error) {
	switch cfg.Store.Backend {
	case config.BackendFile, "":
		return storage.NewFileBackend(cfg.Store.DataDir), nil
	case config.BackendMemory:
		return storage.NewMemoryBackend(), nil
	case config.BackendRedis:
		if cfg.Redis == nil {
			return nil, fmt.Errorf("redis backend selected but no redis client is connected")
		}
		return storage.NewRedisBackend(cfg.Redis, cfg.Store.RedisPrefix), nil
	case config.BackendPostgres:
		if cfg.DB == nil {
			return nil, fmt.Errorf("postgres backend selected but no database is connected")
		}
		return repository.NewRepository(cfg.DB), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// NewArchiver builds the snapshot archiver, or returns nil when archiving is
// not configured. Credentials come from the config or, when a secret name is
// set, from that Kubernetes secret.
func NewArchiver(ctx context.Context, cfg *config.Config, store *storage.StatusStore) (*storage.Archiver, error) {
	if !cfg.Archive.Enabled() {
		return nil, nil
	}

	minioCfg := storage.MinIOConfig{
		Endpoint:  cfg.Archive.Endpoint,
		AccessKey: cfg.Archive.AccessKey,
		SecretKey: cfg.Archive.SecretKey,
		UseSSL:    cfg.Archive.UseSSL,
	}
	if cfg.Archive.SecretName != "" {
		if cfg.K8sClient == nil {
			return nil, fmt.Errorf("archive secret %s set but no Kubernetes client is connected", cfg.Archive.SecretName)
		}
		data, err := k8s.NewClient(cfg.K8sClient).SecretData(ctx, cfg.Archive.SecretNamespace, cfg.Archive.SecretName)
		if err != nil {
			return nil, err
		}
		if minioCfg, err = storage.MinIOConfigFromSecret(data, cfg.Archive.UseSSL); err != nil {
			return nil, err
		}
	}

	client, err := storage.NewMinIOClient(minioCfg)
	if err != nil {
		return nil, err
	}
	return storage.NewArchiver(client, cfg.Archive.Bucket, store), nil
}
