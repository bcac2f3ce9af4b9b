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
	"fmt"
	"time"

	"github.com/heldobjects/passport/common"
	"github.com/heldobjects/passport/ledger"
	"github.com/heldobjects/passport/passport"
	"github.com/heldobjects/passport/registry"
)

// Mode selects whether an anchoring call blocks for ledger confirmation
type Mode string

// ModeAsync returns immediately after submission, leaving confirmation to the
// reconciliation consumer; this is the default and primary path. ModeSync
// additionally polls for the receipt until confirmed or the poll timeout
// elapses, for flows that want immediate feedback.
const (
	ModeAsync Mode = "async"
	ModeSync  Mode = "sync"
)

const defaultReceiptPollInterval = time.Second * 3
const defaultReceiptPollTimeout = time.Second * 45

// Ledger is the narrow ledger surface the anchoring service consumes
type Ledger interface {
	Submit(ctx context.Context, payload *ledger.Payload) (*string, error)
	GetReceipt(ctx context.Context, txHash string) (*ledger.Receipt, error)
}

// Service orchestrates digest generation and ledger submission. It never
// writes to storage; the caller persists the returned attempt as the pending
// anchoring record, keeping protocol logic separate from persistence.
type Service struct {
	Ledger Ledger

	PollInterval time.Duration
	PollTimeout  time.Duration
}

// NewService initializes an anchoring service over the given ledger
func NewService(l Ledger) *Service {
	return &Service{
		Ledger:       l,
		PollInterval: defaultReceiptPollInterval,
		PollTimeout:  defaultReceiptPollTimeout,
	}
}

// Attempt is the result of a single anchoring submission
type Attempt struct {
	TxHash   string            `json:"tx_hash"`
	Digest   string            `json:"digest"`
	URI      string            `json:"uri"`
	Version  int               `json:"version"`
	Fidelity passport.Fidelity `json:"fidelity"`

	// Receipt is populated in sync mode when confirmation was observed within
	// the poll timeout; nil means the attempt is still pending
	Receipt *ledger.Receipt `json:"receipt,omitempty"`
}

// Anchor computes the passport digest for the given held object at the given
// fidelity, embeds {digest, uri, version} in a ledger payload and submits it.
// The version must be supplied by the caller as (current stored version or 0)
// + 1; each call is a deliberate new attempt and is never retried internally.
func (s *Service) Anchor(ctx context.Context, object *registry.HeldObject, uri string, version int, fidelity passport.Fidelity, mode Mode) (*Attempt, error) {
	if version < 1 {
		return nil, fmt.Errorf("failed to anchor object %s; version must be positive; got %d", object.ID, version)
	}

	digest, err := passport.ComputeDigest(object, fidelity)
	if err != nil {
		return nil, err
	}

	txHash, err := s.Ledger.Submit(ctx, &ledger.Payload{
		Digest:  *digest,
		URI:     uri,
		Version: version,
	})
	if err != nil {
		return nil, err
	}

	common.Log.Debugf("submitted version %d anchoring for object %s; tx hash: %s", version, object.ID, *txHash)

	attempt := &Attempt{
		TxHash:   *txHash,
		Digest:   *digest,
		URI:      uri,
		Version:  version,
		Fidelity: fidelity,
	}

	if mode == ModeSync {
		// best-effort confirmation wait; a timeout leaves the attempt pending
		// for the reconciliation consumer, the transaction itself resolves
		// independently
		receipt, err := s.awaitReceipt(ctx, *txHash)
		if err != nil {
			return nil, err
		}
		attempt.Receipt = receipt
	}

	return attempt, nil
}

// awaitReceipt polls for the receipt of the given tx until it confirms or the
// poll timeout elapses; returns nil when still pending at timeout or when the
// context is cancelled -- the transaction is already broadcast, so the attempt
// must surface its tx hash for the caller to persist as pending. Transient
// receipt lookup failures extend the wait rather than failing the attempt.
func (s *Service) awaitReceipt(ctx context.Context, txHash string) (*ledger.Receipt, error) {
	timeout := time.After(s.PollTimeout)
	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			common.Log.Debugf("interrupted awaiting receipt for tx: %s; still pending", txHash)
			return nil, nil
		case <-timeout:
			common.Log.Debugf("timed out awaiting receipt for tx: %s; still pending", txHash)
			return nil, nil
		case <-ticker.C:
			receipt, err := s.Ledger.GetReceipt(ctx, txHash)
			if err != nil {
				common.Log.Debugf("transient receipt lookup failure for tx %s; %s", txHash, err.Error())
				continue
			}
			if receipt.Confirmed {
				return receipt, nil
			}
		}
	}
}
