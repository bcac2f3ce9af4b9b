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
	"context"
	"time"

	"github.com/heldobjects/passport/common"
	"github.com/heldobjects/passport/registry"
)

// PassResult summarizes one reconciliation pass over pending anchoring records
type PassResult struct {
	Scanned   int `json:"scanned"`
	Finalized int `json:"finalized"`
	Failed    int `json:"failed"`
}

// ReconcilePass scans held objects with a submitted-but-unconfirmed anchoring
// transaction and closes the gap between submitted and confirmed. Per-record
// errors are logged and skipped so one bad record never blocks reconciliation
// of the rest of the batch. The pass is the sole writer of is_anchored=true.
func (s *Service) ReconcilePass(ctx context.Context, store Store) *PassResult {
	result := &PassResult{}

	for _, object := range store.PendingAnchors() {
		result.Scanned++

		err := s.reconcileObject(ctx, store, object, result)
		if err != nil {
			common.Log.Warningf("failed to reconcile pending anchoring for object %s; %s", object.ID, err.Error())
		}
	}

	if result.Scanned > 0 {
		common.Log.Debugf("reconciliation pass scanned %d pending anchoring records; finalized: %d; failed: %d", result.Scanned, result.Finalized, result.Failed)
	}

	return result
}

// reconcileObject checks the receipt for a single pending record and applies
// the pending->confirmed or pending->failed transition; not-yet-mined records
// are left untouched for the next pass
func (s *Service) reconcileObject(ctx context.Context, store Store, object *registry.HeldObject, result *PassResult) error {
	txHash := *object.TxHash

	receipt, err := s.Ledger.GetReceipt(ctx, txHash)
	if err != nil {
		return err
	}

	if !receipt.Confirmed {
		return nil
	}

	if receipt.Status == 1 {
		finalized, err := s.finalizeAnchor(store, object, txHash, *receipt.BlockNumber)
		if err != nil {
			return err
		}
		if finalized {
			result.Finalized++
		}
		return nil
	}

	// mined and failed; terminal for this transaction, never retried with the
	// same payload -- re-anchoring mints a new version
	updated, err := store.SetAnchoringRecord(object.ID, map[string]interface{}{
		"anchor_status": registry.AnchorStatusFailed,
	}, &txHash)
	if err != nil {
		return err
	}
	if updated {
		result.Failed++
		common.Log.Warningf("version %d anchoring transaction failed on-chain for object %s; tx hash: %s", object.AnchorVersion, object.ID, txHash)
		dispatchNotification(object, anchorNotificationFailed)
	}
	return nil
}

// finalizeAnchor flips the stored anchoring record from pending to confirmed
// and appends the anchoring event. The record write is conditional on the tx
// hash it finalizes; when a newer anchoring attempt has superseded this
// transaction the write resolves as a no-op, though the event is still
// appended since the index preserves history across versions.
func (s *Service) finalizeAnchor(store Store, object *registry.HeldObject, txHash string, blockNumber uint64) (bool, error) {
	now := time.Now()

	updated, err := store.SetAnchoringRecord(object.ID, map[string]interface{}{
		"is_anchored":   true,
		"block_number":  blockNumber,
		"anchored_at":   now,
		"anchor_status": registry.AnchorStatusConfirmed,
	}, &txHash)
	if err != nil {
		return false, err
	}

	event := &Event{
		ObjectID:    object.ID,
		Digest:      object.Digest,
		URI:         object.URI,
		Fidelity:    object.AnchorFidelity,
		Version:     object.AnchorVersion,
		TxHash:      common.StringOrNil(txHash),
		BlockNumber: blockNumber,
	}
	store.AppendEvent(event)

	if updated {
		common.Log.Debugf("confirmed version %d anchoring for object %s in block %d; tx hash: %s", object.AnchorVersion, object.ID, blockNumber, txHash)
		dispatchNotification(object, anchorNotificationConfirmed)
	}

	return updated, nil
}
