package entity

import (
	"time"

	"github.com/google/uuid"
)

type DocumentUpdate struct {
	Id         uuid.UUID
	DocumentId string
	Seq        int64
	Payload    []byte
	Compacted  bool
	CreatedAt  time.Time
}
