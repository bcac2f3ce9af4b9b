/*
 * Copyright 2022-2023 Held Objects, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package registry

import (
	"time"

	dbconf "github.com/kthomas/go-db-config"
	uuid "github.com/kthomas/go.uuid"
	"github.com/lib/pq"
	provide "github.com/provideplatform/provide-go/api"

	"github.com/heldobjects/passport/common"
)

// Anchoring status lifecycle; "confirmed" is written exclusively by the
// reconciliation consumer upon receipt of a successful ledger receipt
const AnchorStatusNotAnchored = "not_anchored"
const AnchorStatusPending = "pending"
const AnchorStatusConfirmed = "confirmed"
const AnchorStatusFailed = "failed"

// HeldObject is a cataloged physical object in a collector's registry
type HeldObject struct {
	provide.Model

	// Associations
	ApplicationID  *uuid.UUID `sql:"type:uuid" json:"-"`
	OrganizationID *uuid.UUID `sql:"type:uuid" json:"-"`
	UserID         *uuid.UUID `sql:"type:uuid" json:"-"`

	Title     *string        `json:"title"`
	Maker     *string        `json:"maker"`
	Year      *int           `json:"year"`
	Category  *string        `json:"category"`
	Condition *string        `json:"condition"`
	ImageURLs pq.StringArray `gorm:"column:image_urls;type:text[]" json:"image_urls,omitempty"`

	// extended provenance fields; included only in full-fidelity passports
	SerialNumber   *string        `json:"serial_number,omitempty"`
	AcquiredAt     *time.Time     `json:"acquired_at,omitempty"`
	CertificateURL *string        `json:"certificate_url,omitempty"`
	OwnershipChain pq.StringArray `gorm:"type:text[]" json:"ownership_chain,omitempty"`

	// anchoring record; latest state only -- history lives in the
	// append-only anchoring events index
	IsAnchored     bool       `sql:"not null;default:false" json:"is_anchored"`
	TxHash         *string    `json:"tx_hash,omitempty"`
	BlockNumber    *uint64    `json:"block_number,omitempty"`
	Digest         *string    `json:"digest,omitempty"`
	URI            *string    `json:"uri,omitempty"`
	AnchorVersion  int        `sql:"not null;default:0" json:"anchor_version"`
	AnchoredAt     *time.Time `json:"anchored_at,omitempty"`
	AnchorStatus   *string    `sql:"not null;default:'not_anchored'" json:"anchor_status"`
	AnchorFidelity *string    `json:"anchor_fidelity,omitempty"`
}

// TableName returns the db table name for gorm
func (o *HeldObject) TableName() string {
	return "held_objects"
}

// resetAnchoringState clears the anchoring record fields; the anchoring
// record is written only by the anchoring handler and the reconciliation
// consumer, never from client-supplied object params
func (o *HeldObject) resetAnchoringState() {
	o.IsAnchored = false
	o.TxHash = nil
	o.BlockNumber = nil
	o.Digest = nil
	o.URI = nil
	o.AnchorVersion = 0
	o.AnchoredAt = nil
	o.AnchorStatus = common.StringOrNil(AnchorStatusNotAnchored)
	o.AnchorFidelity = nil
}

// Create a held object
func (o *HeldObject) Create() bool {
	o.resetAnchoringState()

	if !o.validate() {
		return false
	}

	db := dbconf.DatabaseConnection()

	if db.NewRecord(o) {
		result := db.Create(&o)
		rowsAffected := result.RowsAffected
		errors := result.GetErrors()
		if len(errors) > 0 {
			for _, err := range errors {
				o.Errors = append(o.Errors, &provide.Error{
					Message: common.StringOrNil(err.Error()),
				})
			}
		}
		if !db.NewRecord(o) {
			success := rowsAffected > 0
			if success {
				common.Log.Debugf("initialized held object: %s", o.ID)
			}

			return success
		}
	}

	return false
}

// Find resolves a held object by id
func Find(objectID uuid.UUID) *HeldObject {
	db := dbconf.DatabaseConnection()
	object := &HeldObject{}
	db.Where("id = ?", objectID.String()).Find(&object)
	if object == nil || object.ID == uuid.Nil {
		return nil
	}
	return object
}

// validate the held object params
func (o *HeldObject) validate() bool {
	o.Errors = make([]*provide.Error, 0)

	if o.Title == nil {
		o.Errors = append(o.Errors, &provide.Error{
			Message: common.StringOrNil("held object title required"),
		})
	}

	if o.Category == nil {
		o.Errors = append(o.Errors, &provide.Error{
			Message: common.StringOrNil("held object category required"),
		})
	}

	return len(o.Errors) == 0
}
