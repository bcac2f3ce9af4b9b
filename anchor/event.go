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

package anchor

import (
	"github.com/jinzhu/gorm"
	uuid "github.com/kthomas/go.uuid"
	provide "github.com/provideplatform/provide-go/api"

	"github.com/heldobjects/passport/common"
)

// Event is an append-only record of a confirmed anchoring; one row per
// transaction hash, never mutated once written. The event index preserves the
// anchoring history across re-anchored versions while the held object record
// holds only the latest state.
type Event struct {
	provide.Model

	ObjectID uuid.UUID `sql:"not null;type:uuid" json:"object_id"`

	Digest      *string `sql:"not null" json:"digest"`
	URI         *string `sql:"not null" json:"uri"`
	Fidelity    *string `sql:"not null" json:"fidelity"`
	Version     int     `sql:"not null" json:"version"`
	TxHash      *string `sql:"not null" gorm:"unique_index" json:"tx_hash"`
	BlockNumber uint64  `sql:"not null" json:"block_number"`
}

// TableName returns the db table name for gorm
func (e *Event) TableName() string {
	return "anchoring_events"
}

// Create appends the anchoring event, deduplicating on tx hash; replaying a
// reconciliation pass over an already-finalized transaction is a no-op
func (e *Event) Create(db *gorm.DB) bool {
	if e.TxHash == nil {
		common.Log.Warning("failed to append anchoring event; tx hash required")
		return false
	}

	existing := FindEventByTxHash(db, *e.TxHash)
	if existing != nil {
		common.Log.Debugf("anchoring event already appended for tx: %s", *e.TxHash)
		return false
	}

	result := db.Create(&e)
	errors := result.GetErrors()
	if len(errors) > 0 {
		for _, err := range errors {
			e.Errors = append(e.Errors, &provide.Error{
				Message: common.StringOrNil(err.Error()),
			})
		}
		return false
	}

	common.Log.Debugf("appended anchoring event for object %s; version %d; tx hash: %s", e.ObjectID, e.Version, *e.TxHash)
	return result.RowsAffected > 0
}

// FindEventByTxHash resolves the anchoring event for the given tx hash
func FindEventByTxHash(db *gorm.DB, txHash string) *Event {
	event := &Event{}
	db.Where("tx_hash = ?", txHash).Find(&event)
	if event == nil || event.ID == uuid.Nil {
		return nil
	}
	return event
}

// FindEventByDigest resolves a confirmed anchoring event matching the given
// digest for the given object, preferring the most recent version
func FindEventByDigest(db *gorm.DB, objectID uuid.UUID, digest string) *Event {
	event := &Event{}
	db.Where("object_id = ? AND digest = ?", objectID.String(), digest).Order("version desc").First(&event)
	if event == nil || event.ID == uuid.Nil {
		return nil
	}
	return event
}

// EventsQuery returns a query scoped to the anchoring history for the given object
func EventsQuery(db *gorm.DB, objectID uuid.UUID) *gorm.DB {
	return db.Model(&Event{}).Where("object_id = ?", objectID.String()).Order("version desc")
}
