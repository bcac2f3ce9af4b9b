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
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	dbconf "github.com/kthomas/go-db-config"
	natsutil "github.com/kthomas/go-natsutil"
	redisutil "github.com/kthomas/go-redisutil"
	uuid "github.com/kthomas/go.uuid"
	"github.com/nats-io/nats.go"

	"github.com/heldobjects/passport/common"
	"github.com/heldobjects/passport/ledger"
	"github.com/heldobjects/passport/registry"
)

const defaultNatsStream = "passport"

// natsAnchorPendingSubject carries the id of a held object with a freshly
// submitted anchoring transaction; redelivery via Nak provides the receipt
// polling cadence until the transaction resolves
const natsAnchorPendingSubject = "passport.anchor.pending"
const anchorPendingAckWait = time.Second * 30
const anchorPendingMaxInFlight = 256
const anchorPendingMaxDeliveries = 120

// natsAnchorReconcileSubject triggers a full reconciliation pass over all
// pending anchoring records
const natsAnchorReconcileSubject = "passport.anchor.reconcile"
const anchorReconcileAckWait = time.Minute * 5
const anchorReconcileMaxInFlight = 1
const anchorReconcileMaxDeliveries = 3

const anchorReconcileLockKey = "passport.anchor.reconcile.lock"

var (
	reconciler     *Service
	reconcilerOnce sync.Once
)

func init() {
	if !common.ConsumeNATSStreamingSubscriptions {
		common.Log.Debug("anchor package consumer configured to skip NATS streaming subscription setup")
		return
	}

	natsutil.EstablishSharedNatsConnection(nil)
	natsutil.NatsCreateStream(defaultNatsStream, []string{
		fmt.Sprintf("%s.>", defaultNatsStream),
	})

	var waitGroup sync.WaitGroup

	createNatsAnchorPendingSubscriptions(&waitGroup)
	createNatsAnchorReconcileSubscriptions(&waitGroup)
}

const defaultReconcileScheduleInterval = time.Minute * 5

// ScheduleReconciliation periodically triggers a full reconciliation pass by
// publishing on the reconcile subject; the interval can be tuned via
// ANCHOR_RECONCILE_INTERVAL (e.g., "30s", "10m")
func ScheduleReconciliation() {
	interval := defaultReconcileScheduleInterval
	if override := os.Getenv("ANCHOR_RECONCILE_INTERVAL"); override != "" {
		parsed, err := time.ParseDuration(override)
		if err != nil {
			common.Log.Warningf("failed to parse ANCHOR_RECONCILE_INTERVAL; %s", err.Error())
		} else {
			interval = parsed
		}
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for range ticker.C {
			payload, _ := json.Marshal(map[string]interface{}{})
			_, err := natsutil.NatsJetstreamPublish(natsAnchorReconcileSubject, payload)
			if err != nil {
				common.Log.Warningf("failed to publish scheduled anchoring reconciliation message; %s", err.Error())
			}
		}
	}()

	common.Log.Debugf("scheduled anchoring reconciliation passes every %s", interval)
}

// requireReconciler resolves the shared anchoring service used by the
// consumers, initializing the ledger client on first use
func requireReconciler() *Service {
	reconcilerOnce.Do(func() {
		reconciler = NewService(ledger.RequireLedger())
	})
	return reconciler
}

func createNatsAnchorPendingSubscriptions(wg *sync.WaitGroup) {
	for i := uint64(0); i < natsutil.GetNatsConsumerConcurrency(); i++ {
		natsutil.RequireNatsJetstreamSubscription(wg,
			anchorPendingAckWait,
			natsAnchorPendingSubject,
			natsAnchorPendingSubject,
			natsAnchorPendingSubject,
			consumeAnchorPendingMsg,
			anchorPendingAckWait,
			anchorPendingMaxInFlight,
			anchorPendingMaxDeliveries,
			nil,
		)
	}
}

func createNatsAnchorReconcileSubscriptions(wg *sync.WaitGroup) {
	for i := uint64(0); i < natsutil.GetNatsConsumerConcurrency(); i++ {
		natsutil.RequireNatsJetstreamSubscription(wg,
			anchorReconcileAckWait,
			natsAnchorReconcileSubject,
			natsAnchorReconcileSubject,
			natsAnchorReconcileSubject,
			consumeAnchorReconcileMsg,
			anchorReconcileAckWait,
			anchorReconcileMaxInFlight,
			anchorReconcileMaxDeliveries,
			nil,
		)
	}
}

// consumeAnchorPendingMsg checks the receipt for a single pending anchoring
// record; Nak on still-pending leaves redelivery to poll again
func consumeAnchorPendingMsg(msg *nats.Msg) {
	defer func() {
		if r := recover(); r != nil {
			common.Log.Warningf("recovered during pending anchoring reconciliation; %s", r)
			msg.Nak()
		}
	}()

	common.Log.Debugf("consuming %d-byte NATS pending anchoring message on subject: %s", len(msg.Data), msg.Subject)

	params := map[string]interface{}{}
	err := json.Unmarshal(msg.Data, &params)
	if err != nil {
		common.Log.Warningf("failed to unmarshal pending anchoring message; %s", err.Error())
		msg.Nak()
		return
	}

	objectIDStr, objectIDOk := params["object_id"].(string)
	if !objectIDOk {
		common.Log.Warning("failed to unmarshal object_id during pending anchoring message handler")
		msg.Nak()
		return
	}

	objectID, err := uuid.FromString(objectIDStr)
	if err != nil {
		common.Log.Warningf("failed to parse object_id during pending anchoring message handler; %s", err.Error())
		msg.Nak()
		return
	}

	object := registry.Find(objectID)
	if object == nil {
		common.Log.Warningf("failed to resolve held object during pending anchoring reconciliation; object id: %s", objectID)
		msg.Nak()
		return
	}

	if object.TxHash == nil || object.AnchorStatus == nil || *object.AnchorStatus != registry.AnchorStatusPending {
		// already finalized, failed or superseded; nothing left to poll
		msg.Ack()
		return
	}

	service := requireReconciler()
	store := NewStore(dbconf.DatabaseConnection())
	result := &PassResult{}

	err = service.reconcileObject(context.Background(), store, object, result)
	if err != nil {
		common.Log.Warningf("failed to reconcile pending anchoring for object %s; %s", object.ID, err.Error())
		msg.Nak()
		return
	}

	if result.Finalized > 0 || result.Failed > 0 {
		msg.Ack()
		return
	}

	// not yet mined; redelivery will poll again
	msg.Nak()
}

// consumeAnchorReconcileMsg executes one full reconciliation pass under a
// distributed lock so concurrent instances never race over the same batch
func consumeAnchorReconcileMsg(msg *nats.Msg) {
	defer func() {
		if r := recover(); r != nil {
			common.Log.Warningf("recovered during anchoring reconciliation pass; %s", r)
			msg.Nak()
		}
	}()

	common.Log.Debugf("consuming %d-byte NATS anchoring reconciliation message on subject: %s", len(msg.Data), msg.Subject)

	err := redisutil.WithRedlock(anchorReconcileLockKey, func() error {
		store := NewStore(dbconf.DatabaseConnection())
		requireReconciler().ReconcilePass(context.Background(), store)
		return nil
	})
	if err != nil {
		common.Log.Warningf("failed to execute anchoring reconciliation pass; %s", err.Error())
		msg.Nak()
		return
	}

	msg.Ack()
}
