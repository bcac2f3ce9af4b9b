package passport

import (
	"testing"
	"time"

	uuid "github.com/kthomas/go.uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heldobjects/passport/common"
	"github.com/heldobjects/passport/registry"
)

func objectFactory() *registry.HeldObject {
	objectID, _ := uuid.NewV4()
	acquired := time.Date(2021, time.March, 14, 0, 0, 0, 0, time.UTC)

	object := &registry.HeldObject{
		Title:     common.StringOrNil("Leica M3 rangefinder"),
		Maker:     common.StringOrNil("Leitz"),
		Category:  common.StringOrNil("camera"),
		Condition: common.StringOrNil("excellent"),
		ImageURLs: pq.StringArray{"https://img.example.com/b.jpg", "https://img.example.com/a.jpg"},

		SerialNumber:   common.StringOrNil("M3-785512"),
		AcquiredAt:     &acquired,
		CertificateURL: common.StringOrNil("https://certs.example.com/m3-785512"),
		OwnershipChain: pq.StringArray{"estate of J. Mercer", "current owner"},
	}
	object.ID = objectID

	year := 1956
	object.Year = &year

	return object
}

func TestComputeDigestDeterminism(t *testing.T) {
	object := objectFactory()

	for _, fidelity := range []Fidelity{FidelityCore, FidelityFull} {
		first, err := ComputeDigest(object, fidelity)
		require.Nil(t, err)

		second, err := ComputeDigest(object, fidelity)
		require.Nil(t, err)

		assert.Equal(t, *first, *second, "repeated %s digest computation must reproduce the identical digest", fidelity)
	}
}

func TestComputeDigestFidelitySeparation(t *testing.T) {
	object := objectFactory()

	coreBefore, err := ComputeDigest(object, FidelityCore)
	require.Nil(t, err)
	fullBefore, err := ComputeDigest(object, FidelityFull)
	require.Nil(t, err)

	assert.NotEqual(t, *coreBefore, *fullBefore)

	// a full-only field change must not perturb the core digest
	object.SerialNumber = common.StringOrNil("M3-999999")

	coreAfter, err := ComputeDigest(object, FidelityCore)
	require.Nil(t, err)
	fullAfter, err := ComputeDigest(object, FidelityFull)
	require.Nil(t, err)

	assert.Equal(t, *coreBefore, *coreAfter)
	assert.NotEqual(t, *fullBefore, *fullAfter)

	// a core field change perturbs both digests
	object.Title = common.StringOrNil("Leica M3 rangefinder, black paint")

	coreChanged, err := ComputeDigest(object, FidelityCore)
	require.Nil(t, err)
	fullChanged, err := ComputeDigest(object, FidelityFull)
	require.Nil(t, err)

	assert.NotEqual(t, *coreAfter, *coreChanged)
	assert.NotEqual(t, *fullAfter, *fullChanged)
}

func TestComputeDigestNormalization(t *testing.T) {
	object := objectFactory()
	digest, err := ComputeDigest(object, FidelityCore)
	require.Nil(t, err)

	// image url ordering is normalized away
	reordered := objectFactory()
	reordered.ID = object.ID
	reordered.ImageURLs = pq.StringArray{"https://img.example.com/a.jpg", "https://img.example.com/b.jpg"}

	normalized, err := ComputeDigest(reordered, FidelityCore)
	require.Nil(t, err)
	assert.Equal(t, *digest, *normalized)

	// leading/trailing whitespace is normalized away
	padded := objectFactory()
	padded.ID = object.ID
	padded.Title = common.StringOrNil("  Leica M3 rangefinder ")

	trimmed, err := ComputeDigest(padded, FidelityCore)
	require.Nil(t, err)
	assert.Equal(t, *digest, *trimmed)

	// the ownership chain preserves its order
	chainReordered := objectFactory()
	chainReordered.ID = object.ID
	chainReordered.OwnershipChain = pq.StringArray{"current owner", "estate of J. Mercer"}

	original, err := ComputeDigest(objectFactoryWithID(object.ID), FidelityFull)
	require.Nil(t, err)
	swapped, err := ComputeDigest(chainReordered, FidelityFull)
	require.Nil(t, err)
	assert.NotEqual(t, *original, *swapped)
}

func objectFactoryWithID(objectID uuid.UUID) *registry.HeldObject {
	object := objectFactory()
	object.ID = objectID
	return object
}

func TestComputeDigestInvalidInput(t *testing.T) {
	object := objectFactory()
	object.Title = nil

	digest, err := ComputeDigest(object, FidelityCore)
	assert.Nil(t, digest)
	require.NotNil(t, err)

	_, invalid := err.(*InvalidInputError)
	assert.True(t, invalid, "missing identity fields must surface as InvalidInputError; got %T", err)

	object = objectFactory()
	object.Category = common.StringOrNil("   ")

	digest, err = ComputeDigest(object, FidelityCore)
	assert.Nil(t, digest)
	assert.NotNil(t, err)
}

func TestComputeURI(t *testing.T) {
	object := objectFactory()

	uri, err := ComputeURI(object, "https://api.heldobjects.com/")
	require.Nil(t, err)
	assert.Equal(t, "https://api.heldobjects.com/api/v1/objects/"+object.ID.String(), *uri)

	again, err := ComputeURI(object, "https://api.heldobjects.com")
	require.Nil(t, err)
	assert.Equal(t, *uri, *again)

	_, err = ComputeURI(&registry.HeldObject{}, "https://api.heldobjects.com")
	assert.NotNil(t, err)
}

func TestParseFidelity(t *testing.T) {
	fidelity, err := ParseFidelity("core")
	require.Nil(t, err)
	assert.Equal(t, FidelityCore, fidelity)

	fidelity, err = ParseFidelity("FULL")
	require.Nil(t, err)
	assert.Equal(t, FidelityFull, fidelity)

	_, err = ParseFidelity("premium")
	assert.NotNil(t, err)
}
