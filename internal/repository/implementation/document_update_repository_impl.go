package implementation

import (
	"context"

	"notefiber-collab/internal/entity"
	"notefiber-collab/internal/mapper"
	"notefiber-collab/internal/model"
	"notefiber-collab/internal/repository/contract"
	"notefiber-collab/internal/repository/specification"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type DocumentUpdateRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.DocumentUpdateMapper
}

func NewDocumentUpdateRepository(db *gorm.DB) contract.DocumentUpdateRepository {
	return &DocumentUpdateRepositoryImpl{
		db:     db,
		mapper: mapper.NewDocumentUpdateMapper(),
	}
}

func (r *DocumentUpdateRepositoryImpl) applySpecifications(db *gorm.DB, specs ...specification.Specification) *gorm.DB {
	for _, spec := range specs {
		db = spec.Apply(db)
	}
	return db
}

// Append fills Id and, when unset, Seq. Callers serialize appends per
// document; the unique (document_id, seq) index rejects a lost race.
func (r *DocumentUpdateRepositoryImpl) Append(ctx context.Context, update *entity.DocumentUpdate) error {
	if update.Id == uuid.Nil {
		update.Id = uuid.New()
	}
	if update.Seq == 0 {
		last, err := r.LastSeq(ctx, update.DocumentId)
		if err != nil {
			return err
		}
		update.Seq = last + 1
	}
	m := r.mapper.ToModel(update)
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	*update = *r.mapper.ToEntity(m)
	return nil
}

func (r *DocumentUpdateRepositoryImpl) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.DocumentUpdate, error) {
	var models []*model.DocumentUpdate
	query := r.applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return r.mapper.ToEntities(models), nil
}

func (r *DocumentUpdateRepositoryImpl) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	var count int64
	query := r.applySpecifications(r.db.WithContext(ctx).Model(&model.DocumentUpdate{}), specs...)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *DocumentUpdateRepositoryImpl) LastSeq(ctx context.Context, documentID string) (int64, error) {
	var last int64
	err := r.db.WithContext(ctx).
		Model(&model.DocumentUpdate{}).
		Where("document_id = ?", documentID).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&last).Error
	return last, err
}

func (r *DocumentUpdateRepositoryImpl) DeleteThrough(ctx context.Context, documentID string, seq int64) error {
	return r.db.WithContext(ctx).
		Where("document_id = ? AND seq <= ?", documentID, seq).
		Delete(&model.DocumentUpdate{}).Error
}
