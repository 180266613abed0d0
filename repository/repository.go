package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/loiht2/assistant-runtime/backend/config"
	"github.com/loiht2/assistant-runtime/backend/storage"
)

// Repository handles database operations for the status store
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository instance
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// EnsureNamespace is a no-op: every namespace shares the documents table,
// which AutoMigrate creates on connect
func (r *Repository) EnsureNamespace(ctx context.Context, namespace string) error {
	return nil
}

// Get retrieves a document body by namespace and key
func (r *Repository) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	var doc config.Document
	err := r.db.WithContext(ctx).
		Where("namespace = ? AND key = ?", namespace, key).
		First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document %s/%s: %w", namespace, key, err)
	}
	return []byte(doc.Body), nil
}

// Put creates or replaces a document
func (r *Repository) Put(ctx context.Context, namespace, key string, data []byte) error {
	now := time.Now()
	doc := &config.Document{
		Namespace: namespace,
		Key:       key,
		Body:      datatypes.JSON(data),
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "namespace"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"body", "updated_at"}),
	}).Create(doc).Error
	if err != nil {
		return fmt.Errorf("failed to save document %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Keys lists document keys in a namespace, most recently updated first
func (r *Repository) Keys(ctx context.Context, namespace string) ([]string, error) {
	var keys []string
	err := r.db.WithContext(ctx).
		Model(&config.Document{}).
		Where("namespace = ?", namespace).
		Order("updated_at DESC").
		Pluck("key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list documents in %s: %w", namespace, err)
	}
	return keys, nil
}
