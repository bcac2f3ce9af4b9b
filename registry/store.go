package registry

import (
	"time"

	"github.com/jinzhu/gorm"
	uuid "github.com/kthomas/go.uuid"

	"github.com/heldobjects/passport/common"
)

// AnchoringRecord is the anchoring status field set embedded in a held object
// record; IsAnchored is true only after on-chain confirmation, a non-nil TxHash
// with IsAnchored false is the pending state
type AnchoringRecord struct {
	IsAnchored  bool       `json:"is_anchored"`
	TxHash      *string    `json:"tx_hash,omitempty"`
	BlockNumber *uint64    `json:"block_number,omitempty"`
	Digest      *string    `json:"digest,omitempty"`
	URI         *string    `json:"uri,omitempty"`
	Version     int        `json:"version"`
	AnchoredAt  *time.Time `json:"anchored_at,omitempty"`
	Status      *string    `json:"status"`
	Fidelity    *string    `json:"fidelity,omitempty"`
}

// GetAnchoringRecord reads the current anchoring record for the given held object
func GetAnchoringRecord(db *gorm.DB, objectID uuid.UUID) (*AnchoringRecord, error) {
	object := &HeldObject{}
	db.Where("id = ?", objectID.String()).Find(&object)
	if object == nil || object.ID == uuid.Nil {
		return nil, gorm.ErrRecordNotFound
	}

	status := object.AnchorStatus
	if status == nil {
		status = common.StringOrNil(AnchorStatusNotAnchored)
	}

	return &AnchoringRecord{
		IsAnchored:  object.IsAnchored,
		TxHash:      object.TxHash,
		BlockNumber: object.BlockNumber,
		Digest:      object.Digest,
		URI:         object.URI,
		Version:     object.AnchorVersion,
		AnchoredAt:  object.AnchoredAt,
		Status:      status,
		Fidelity:    object.AnchorFidelity,
	}, nil
}

// SetAnchoringRecord applies a partial update to the anchoring record for the
// given held object; when expectedTxHash is non-nil the write is conditional on
// the record's current tx hash still matching -- a stale finalization racing a
// newer anchoring attempt resolves as a no-op rather than clobbering the newer
// pending state. Returns true iff a row was updated.
func SetAnchoringRecord(db *gorm.DB, objectID uuid.UUID, fields map[string]interface{}, expectedTxHash *string) (bool, error) {
	query := db.Model(&HeldObject{}).Where("id = ?", objectID.String())

	if expectedTxHash != nil {
		query = query.Where("tx_hash = ?", *expectedTxHash)
	}

	if version, versionOk := fields["anchor_version"].(int); versionOk {
		// optimistic concurrency; a write can never decrease the version
		query = query.Where("anchor_version < ?", version)
	}

	result := query.Updates(fields)
	errors := result.GetErrors()
	if len(errors) > 0 {
		return false, errors[0]
	}

	if result.RowsAffected == 0 {
		common.Log.Debugf("anchoring record write superseded for held object: %s", objectID)
		return false, nil
	}

	return true, nil
}

// PendingAnchors lists held objects with a submitted-but-unconfirmed anchoring
// transaction, i.e., candidates for reconciliation
func PendingAnchors(db *gorm.DB) []*HeldObject {
	var objects []*HeldObject
	db.Where("tx_hash IS NOT NULL AND is_anchored = false AND anchor_status = ?", AnchorStatusPending).Find(&objects)
	return objects
}
