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
	"github.com/heldobjects/passport/ledger"
	"github.com/heldobjects/passport/passport"
	"github.com/heldobjects/passport/registry"
)

// VerificationResult reports whether a confirmed anchoring event exists for
// the recomputed (or supplied) digest; a missing match is a valid negative
// result, not an error
type VerificationResult struct {
	IsAnchored  bool               `json:"is_anchored"`
	TxHash      *string            `json:"tx_hash,omitempty"`
	BlockNumber *uint64            `json:"block_number,omitempty"`
	Digest      *string            `json:"digest,omitempty"`
	Fidelity    *passport.Fidelity `json:"fidelity,omitempty"`
	ExplorerURL *string            `json:"explorer_url,omitempty"`
}

// Verify independently recomputes the digest for the given held object at the
// given fidelity and searches the anchoring event index for a confirmed match;
// read-only and safe to call arbitrarily often. When expectedDigest is non-nil
// it is checked instead of recomputing.
func (s *Service) Verify(store Store, object *registry.HeldObject, expectedDigest *string, fidelity passport.Fidelity) (*VerificationResult, error) {
	digest := expectedDigest
	if digest == nil {
		computed, err := passport.ComputeDigest(object, fidelity)
		if err != nil {
			return nil, err
		}
		digest = computed
	}

	event := store.FindEventByDigest(object.ID, *digest)
	if event == nil {
		return &VerificationResult{
			IsAnchored: false,
			Digest:     digest,
		}, nil
	}

	// the matched event records the fidelity the digest was anchored under,
	// which is authoritative over the fidelity the caller asked about
	anchoredFidelity := fidelity
	if event.Fidelity != nil {
		if parsed, parseErr := passport.ParseFidelity(*event.Fidelity); parseErr == nil {
			anchoredFidelity = parsed
		}
	}

	explorerURL := ledger.ExplorerTxURL(*event.TxHash)
	return &VerificationResult{
		IsAnchored:  true,
		TxHash:      event.TxHash,
		BlockNumber: &event.BlockNumber,
		Digest:      digest,
		Fidelity:    &anchoredFidelity,
		ExplorerURL: &explorerURL,
	}, nil
}

// runVerification applies the verification query semantics: a caller-supplied
// digest is honored with or without an explicit fidelity, an explicit fidelity
// pins the recomputation, and absent both the ordered fidelity fallback applies
func runVerification(s *Service, store Store, object *registry.HeldObject, expectedDigest *string, fidelity *passport.Fidelity) (*VerificationResult, error) {
	if fidelity != nil {
		return s.Verify(store, object, expectedDigest, *fidelity)
	}
	if expectedDigest != nil {
		return s.Verify(store, object, expectedDigest, passport.FidelityCore)
	}
	return s.VerifyObject(store, object)
}

// VerifyObject applies the ordered fidelity fallback: core first, then full.
// Objects anchored before a tier change, or under the other fidelity level,
// still verify instead of producing a false negative.
func (s *Service) VerifyObject(store Store, object *registry.HeldObject) (*VerificationResult, error) {
	result, err := s.Verify(store, object, nil, passport.FidelityCore)
	if err != nil {
		return nil, err
	}
	if result.IsAnchored {
		return result, nil
	}

	return s.Verify(store, object, nil, passport.FidelityFull)
}
