package mapper

import (
	"notefiber-collab/internal/entity"
	"notefiber-collab/internal/model"
)

type DocumentUpdateMapper struct{}

func NewDocumentUpdateMapper() *DocumentUpdateMapper {
	return &DocumentUpdateMapper{}
}

func (m *DocumentUpdateMapper) ToEntity(u *model.DocumentUpdate) *entity.DocumentUpdate {
	if u == nil {
		return nil
	}
	return &entity.DocumentUpdate{
		Id:         u.Id,
		DocumentId: u.DocumentId,
		Seq:        u.Seq,
		Payload:    u.Payload,
		Compacted:  u.Compacted,
		CreatedAt:  u.CreatedAt,
	}
}

func (m *DocumentUpdateMapper) ToModel(u *entity.DocumentUpdate) *model.DocumentUpdate {
	if u == nil {
		return nil
	}
	return &model.DocumentUpdate{
		Id:         u.Id,
		DocumentId: u.DocumentId,
		Seq:        u.Seq,
		Payload:    u.Payload,
		Size:       len(u.Payload),
		Compacted:  u.Compacted,
		CreatedAt:  u.CreatedAt,
	}
}

func (m *DocumentUpdateMapper) ToEntities(updates []*model.DocumentUpdate) []*entity.DocumentUpdate {
	entities := make([]*entity.DocumentUpdate, len(updates))
	for i, u := range updates {
		entities[i] = m.ToEntity(u)
	}
	return entities
}
