package config

import (
	"time"

	"gorm.io/datatypes"
)

// Document is one persisted JSON document in the database backend
type Document struct {
	Namespace string         `gorm:"primaryKey;size:64"`
	Key       string         `gorm:"primaryKey;size:255"`
	Body      datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index"`
}

// TableName overrides the table name
func (Document) TableName() string {
	return "documents"
}
