package anchor

import (
	"context"
	"fmt"
	"testing"
	"time"

	uuid "github.com/kthomas/go.uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heldobjects/passport/common"
	"github.com/heldobjects/passport/ledger"
	"github.com/heldobjects/passport/passport"
	"github.com/heldobjects/passport/registry"
)

const testObjectURI = "https://api.heldobjects.test/api/v1/objects/%s"

func heldObjectFactory() *registry.HeldObject {
	objectID, _ := uuid.NewV4()

	object := &registry.HeldObject{
		Title:    common.StringOrNil("Patek Philippe ref. 96"),
		Maker:    common.StringOrNil("Patek Philippe"),
		Category: common.StringOrNil("watch"),
	}
	object.ID = objectID

	return object
}

func objectURI(object *registry.HeldObject) string {
	return fmt.Sprintf(testObjectURI, object.ID)
}

func TestAnchorAsync(t *testing.T) {
	l := newFakeLedger()
	s := NewService(l)

	object := heldObjectFactory()
	uri := objectURI(object)

	attempt, err := s.Anchor(context.Background(), object, uri, 1, passport.FidelityCore, ModeAsync)
	require.Nil(t, err)

	digest, err := passport.ComputeDigest(object, passport.FidelityCore)
	require.Nil(t, err)

	assert.Equal(t, *digest, attempt.Digest)
	assert.Equal(t, uri, attempt.URI)
	assert.Equal(t, 1, attempt.Version)
	assert.Equal(t, passport.FidelityCore, attempt.Fidelity)
	assert.NotEmpty(t, attempt.TxHash)
	assert.Nil(t, attempt.Receipt, "async anchoring must not block for a receipt")

	require.Len(t, l.submitted, 1)
	assert.Equal(t, *digest, l.submitted[0].Digest)
	assert.Equal(t, uri, l.submitted[0].URI)
	assert.Equal(t, 1, l.submitted[0].Version)
}

func TestAnchorRejectsNonPositiveVersion(t *testing.T) {
	l := newFakeLedger()
	s := NewService(l)

	object := heldObjectFactory()

	attempt, err := s.Anchor(context.Background(), object, objectURI(object), 0, passport.FidelityCore, ModeAsync)
	assert.NotNil(t, err)
	assert.Nil(t, attempt)
	assert.Empty(t, l.submitted, "an invalid version must never reach the ledger")
}

func TestAnchorInvalidObject(t *testing.T) {
	l := newFakeLedger()
	s := NewService(l)

	object := heldObjectFactory()
	object.Title = nil

	attempt, err := s.Anchor(context.Background(), object, objectURI(object), 1, passport.FidelityFull, ModeAsync)
	assert.Nil(t, attempt)
	assert.IsType(t, &passport.InvalidInputError{}, err)
	assert.Empty(t, l.submitted, "an incomplete object must never reach the ledger")
}

func TestAnchorSubmitErrorPropagation(t *testing.T) {
	l := newFakeLedger()
	l.submitErr = ledger.NewRejectedError("insufficient funds for gas")
	s := NewService(l)

	object := heldObjectFactory()

	attempt, err := s.Anchor(context.Background(), object, objectURI(object), 1, passport.FidelityCore, ModeAsync)
	assert.Nil(t, attempt)
	assert.IsType(t, &ledger.RejectedError{}, err, "ledger errors must propagate unchanged for HTTP status mapping")
}

func TestAnchorSyncConfirmed(t *testing.T) {
	l := newFakeLedger()
	l.mine("0xtx0001", 1, 4096)

	s := NewService(l)
	s.PollInterval = time.Millisecond * 2
	s.PollTimeout = time.Millisecond * 100

	object := heldObjectFactory()

	attempt, err := s.Anchor(context.Background(), object, objectURI(object), 1, passport.FidelityCore, ModeSync)
	require.Nil(t, err)
	require.NotNil(t, attempt.Receipt)
	assert.True(t, attempt.Receipt.Confirmed)
	assert.Equal(t, uint64(1), attempt.Receipt.Status)
	assert.Equal(t, uint64(4096), *attempt.Receipt.BlockNumber)
}

func TestAnchorSyncTimeoutLeavesAttemptPending(t *testing.T) {
	l := newFakeLedger()

	s := NewService(l)
	s.PollInterval = time.Millisecond * 2
	s.PollTimeout = time.Millisecond * 20

	object := heldObjectFactory()

	attempt, err := s.Anchor(context.Background(), object, objectURI(object), 1, passport.FidelityCore, ModeSync)
	require.Nil(t, err)
	require.NotNil(t, attempt)
	assert.Nil(t, attempt.Receipt, "a timed-out sync attempt remains pending, not failed")
}

func TestAnchorSyncCancellationLeavesAttemptPending(t *testing.T) {
	l := newFakeLedger()

	s := NewService(l)
	s.PollInterval = time.Millisecond * 2
	s.PollTimeout = time.Second * 10

	object := heldObjectFactory()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(time.Millisecond*10, cancel)

	attempt, err := s.Anchor(ctx, object, objectURI(object), 1, passport.FidelityCore, ModeSync)
	require.Nil(t, err, "cancellation mid-poll must not fail the broadcast transaction")
	require.NotNil(t, attempt, "the tx hash of a broadcast transaction must survive cancellation for the caller to persist")
	assert.Nil(t, attempt.Receipt)
	assert.NotEmpty(t, attempt.TxHash)
	require.Len(t, l.submitted, 1)
}

func TestAnchorSyncToleratesTransientReceiptFailures(t *testing.T) {
	l := newFakeLedger()
	l.receiptErr["0xtx0001"] = ledger.NewUnavailableError("ledger RPC endpoint unreachable")

	s := NewService(l)
	s.PollInterval = time.Millisecond * 2
	s.PollTimeout = time.Millisecond * 20

	object := heldObjectFactory()

	attempt, err := s.Anchor(context.Background(), object, objectURI(object), 1, passport.FidelityCore, ModeSync)
	require.Nil(t, err, "transient receipt lookup failures must not fail the attempt")
	assert.Nil(t, attempt.Receipt)
}
