package anchor

import (
	"github.com/jinzhu/gorm"
	uuid "github.com/kthomas/go.uuid"

	"github.com/heldobjects/passport/registry"
)

// Store is the anchoring status store surface consumed by the verification
// service and the reconciliation pass; a narrow interface so the ledger state
// machine is testable without a live database
type Store interface {
	PendingAnchors() []*registry.HeldObject
	SetAnchoringRecord(objectID uuid.UUID, fields map[string]interface{}, expectedTxHash *string) (bool, error)
	AppendEvent(event *Event) bool
	FindEventByDigest(objectID uuid.UUID, digest string) *Event
}

// NewStore returns a Store backed by the given db connection
func NewStore(db *gorm.DB) Store {
	return &databaseStore{db: db}
}

type databaseStore struct {
	db *gorm.DB
}

func (s *databaseStore) PendingAnchors() []*registry.HeldObject {
	return registry.PendingAnchors(s.db)
}

func (s *databaseStore) SetAnchoringRecord(objectID uuid.UUID, fields map[string]interface{}, expectedTxHash *string) (bool, error) {
	return registry.SetAnchoringRecord(s.db, objectID, fields, expectedTxHash)
}

func (s *databaseStore) AppendEvent(event *Event) bool {
	return event.Create(s.db)
}

func (s *databaseStore) FindEventByDigest(objectID uuid.UUID, digest string) *Event {
	return FindEventByDigest(s.db, objectID, digest)
}
