package anchor

import (
	"context"
	"fmt"
	"time"

	uuid "github.com/kthomas/go.uuid"

	"github.com/heldobjects/passport/common"
	"github.com/heldobjects/passport/ledger"
	"github.com/heldobjects/passport/registry"
)

// fakeLedger implements the Ledger interface in-memory; receipts are staged
// per tx hash to simulate mining latency and on-chain failure
type fakeLedger struct {
	submitted  []*ledger.Payload
	submitErr  error
	receipts   map[string]*ledger.Receipt
	receiptErr map[string]error
	sequence   int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		receipts:   map[string]*ledger.Receipt{},
		receiptErr: map[string]error{},
	}
}

func (f *fakeLedger) Submit(ctx context.Context, payload *ledger.Payload) (*string, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}

	f.sequence++
	f.submitted = append(f.submitted, payload)
	return common.StringOrNil(fmt.Sprintf("0xtx%04d", f.sequence)), nil
}

func (f *fakeLedger) GetReceipt(ctx context.Context, txHash string) (*ledger.Receipt, error) {
	if err, errOk := f.receiptErr[txHash]; errOk {
		return nil, err
	}
	if receipt, receiptOk := f.receipts[txHash]; receiptOk {
		return receipt, nil
	}
	return &ledger.Receipt{Confirmed: false}, nil
}

func (f *fakeLedger) mine(txHash string, status uint64, blockNumber uint64) {
	f.receipts[txHash] = &ledger.Receipt{
		Confirmed:   true,
		Status:      status,
		BlockNumber: &blockNumber,
	}
}

// fakeStore implements the Store interface in-memory with the same
// conditional-write semantics as the sql-backed store
type fakeStore struct {
	objects map[uuid.UUID]*registry.HeldObject
	events  []*Event
}

func newFakeStore(objects ...*registry.HeldObject) *fakeStore {
	store := &fakeStore{objects: map[uuid.UUID]*registry.HeldObject{}}
	for _, object := range objects {
		store.objects[object.ID] = object
	}
	return store
}

func (f *fakeStore) PendingAnchors() []*registry.HeldObject {
	pending := make([]*registry.HeldObject, 0)
	for _, object := range f.objects {
		if object.TxHash != nil && !object.IsAnchored && object.AnchorStatus != nil && *object.AnchorStatus == registry.AnchorStatusPending {
			snapshot := *object
			pending = append(pending, &snapshot)
		}
	}
	return pending
}

func (f *fakeStore) SetAnchoringRecord(objectID uuid.UUID, fields map[string]interface{}, expectedTxHash *string) (bool, error) {
	object, objectOk := f.objects[objectID]
	if !objectOk {
		return false, nil
	}

	if expectedTxHash != nil && (object.TxHash == nil || *object.TxHash != *expectedTxHash) {
		return false, nil
	}

	if version, versionOk := fields["anchor_version"].(int); versionOk && version <= object.AnchorVersion {
		return false, nil
	}

	for field, value := range fields {
		switch field {
		case "is_anchored":
			object.IsAnchored = value.(bool)
		case "tx_hash":
			object.TxHash = common.StringOrNil(value.(string))
		case "digest":
			object.Digest = common.StringOrNil(value.(string))
		case "uri":
			object.URI = common.StringOrNil(value.(string))
		case "anchor_version":
			object.AnchorVersion = value.(int)
		case "anchor_status":
			object.AnchorStatus = common.StringOrNil(value.(string))
		case "anchor_fidelity":
			object.AnchorFidelity = common.StringOrNil(value.(string))
		case "block_number":
			if value == nil {
				object.BlockNumber = nil
			} else {
				blockNumber := value.(uint64)
				object.BlockNumber = &blockNumber
			}
		case "anchored_at":
			if value == nil {
				object.AnchoredAt = nil
			} else {
				anchoredAt := value.(time.Time)
				object.AnchoredAt = &anchoredAt
			}
		}
	}

	return true, nil
}

func (f *fakeStore) AppendEvent(event *Event) bool {
	if event.TxHash == nil {
		return false
	}
	for _, existing := range f.events {
		if *existing.TxHash == *event.TxHash {
			return false
		}
	}
	f.events = append(f.events, event)
	return true
}

func (f *fakeStore) FindEventByDigest(objectID uuid.UUID, digest string) *Event {
	var match *Event
	for _, event := range f.events {
		if event.ObjectID == objectID && event.Digest != nil && *event.Digest == digest {
			if match == nil || event.Version > match.Version {
				match = event
			}
		}
	}
	return match
}

// persistPending applies the pending anchoring record the way the anchoring
// handler does after a successful submit
func persistPending(store Store, objectID uuid.UUID, attempt *Attempt) (bool, error) {
	return store.SetAnchoringRecord(objectID, map[string]interface{}{
		"is_anchored":     false,
		"tx_hash":         attempt.TxHash,
		"digest":          attempt.Digest,
		"uri":             attempt.URI,
		"anchor_version":  attempt.Version,
		"anchor_status":   registry.AnchorStatusPending,
		"anchor_fidelity": string(attempt.Fidelity),
		"block_number":    nil,
		"anchored_at":     nil,
	}, nil)
}
