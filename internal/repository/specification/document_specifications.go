package specification

import "gorm.io/gorm"

type ByDocumentID struct {
	DocumentID string
}

func (s ByDocumentID) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("document_id = ?", s.DocumentID)
}

// SeqAfter keeps rows appended after Seq.
type SeqAfter struct {
	Seq int64
}

func (s SeqAfter) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("seq > ?", s.Seq)
}

// SeqAtMost keeps rows up to and including Seq.
type SeqAtMost struct {
	Seq int64
}

func (s SeqAtMost) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("seq <= ?", s.Seq)
}

// InLogOrder sorts rows in the order they were appended.
func InLogOrder() Specification {
	return OrderBy{Field: "seq"}
}
