package model

import (
	"time"

	"github.com/google/uuid"
)

// DocumentUpdate is one row of a document's append-only update log.
type DocumentUpdate struct {
	Id         uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	DocumentId string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_document_updates_document_seq,priority:1"`
	Seq        int64     `gorm:"not null;uniqueIndex:idx_document_updates_document_seq,priority:2"`
	Payload    []byte    `gorm:"type:bytea;not null"`
	Size       int       `gorm:"not null"`
	// Compacted marks a row that replaced the rows before it.
	Compacted bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (DocumentUpdate) TableName() string {
	return "document_updates"
}
