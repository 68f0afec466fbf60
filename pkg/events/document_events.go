package events

import "time"

const (
	DocumentUpdated   = "DOCUMENT_UPDATED"
	DocumentCompacted = "DOCUMENT_COMPACTED"
)

// NewDocumentUpdated announces that a relay instance persisted an update.
func NewDocumentUpdated(documentID, instanceID string, seq int64, size int) BaseEvent {
	return BaseEvent{
		Type: DocumentUpdated,
		Data: map[string]interface{}{
			"document_id": documentID,
			"instance_id": instanceID,
			"seq":         seq,
			"size":        size,
		},
		OccurredAt: time.Now(),
	}
}

// NewDocumentCompacted announces that rows up to seq were folded into one.
func NewDocumentCompacted(documentID, instanceID string, seq int64) BaseEvent {
	return BaseEvent{
		Type: DocumentCompacted,
		Data: map[string]interface{}{
			"document_id": documentID,
			"instance_id": instanceID,
			"seq":         seq,
		},
		OccurredAt: time.Now(),
	}
}

// DocumentRef reads the document and instance ids out of a document event
// payload.
func DocumentRef(e Event) (documentID, instanceID string, ok bool) {
	p := e.Payload()
	documentID, ok = p["document_id"].(string)
	if !ok || documentID == "" {
		return "", "", false
	}
	instanceID, _ = p["instance_id"].(string)
	return documentID, instanceID, true
}
