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

	"github.com/gin-gonic/gin"
	dbconf "github.com/kthomas/go-db-config"
	natsutil "github.com/kthomas/go-natsutil"
	redisutil "github.com/kthomas/go-redisutil"
	uuid "github.com/kthomas/go.uuid"
	provide "github.com/provideplatform/provide-go/common"
	"github.com/provideplatform/provide-go/common/util"

	"github.com/heldobjects/passport/common"
	"github.com/heldobjects/passport/ledger"
	"github.com/heldobjects/passport/passport"
	"github.com/heldobjects/passport/registry"
)

// InstallAPI registers the anchoring API handlers with gin
func InstallAPI(r *gin.Engine) {
	r.POST("/api/v1/objects/:id/anchor", anchorObjectHandler)
	r.GET("/api/v1/objects/:id/anchor", anchoringRecordHandler)
	r.GET("/api/v1/objects/:id/verify", verifyObjectHandler)
	r.GET("/api/v1/objects/:id/anchors", objectAnchorsHandler)
	r.POST("/api/v1/anchors/reconcile", reconcileAnchorsHandler)
}

func resolveObject(c *gin.Context) *registry.HeldObject {
	appID := util.AuthorizedSubjectID(c, "application")
	orgID := util.AuthorizedSubjectID(c, "organization")
	userID := util.AuthorizedSubjectID(c, "user")
	if appID == nil && orgID == nil && userID == nil {
		provide.RenderError("unauthorized", 401, c)
		return nil
	}

	objectID, err := uuid.FromString(c.Param("id"))
	if err != nil {
		provide.RenderError("bad request", 400, c)
		return nil
	}

	db := dbconf.DatabaseConnection()
	object := &registry.HeldObject{}
	registry.ResolveObjectsQuery(db, &objectID, orgID, appID, userID).Find(&object)

	if object == nil || object.ID == uuid.Nil {
		provide.RenderError("held object not found", 404, c)
		return nil
	}

	return object
}

// renderAnchorError maps the anchoring error taxonomy onto HTTP status codes
func renderAnchorError(err error, c *gin.Context) {
	switch err.(type) {
	case *passport.InvalidInputError:
		provide.RenderError(err.Error(), 422, c)
	case *ledger.RejectedError:
		provide.RenderError(err.Error(), 422, c)
	case *ledger.UnavailableError:
		provide.RenderError(err.Error(), 503, c)
	default:
		provide.RenderError(err.Error(), 500, c)
	}
}

// anchor a held object's passport to the ledger; each call is a deliberate new
// attempt with its own version, so re-anchoring while a prior transaction is
// still pending mints a new version rather than blocking
func anchorObjectHandler(c *gin.Context) {
	object := resolveObject(c)
	if object == nil {
		return
	}

	buf, err := c.GetRawData()
	if err != nil {
		provide.RenderError(err.Error(), 400, c)
		return
	}

	params := map[string]interface{}{}
	if len(buf) > 0 {
		err = json.Unmarshal(buf, &params)
		if err != nil {
			provide.RenderError(err.Error(), 422, c)
			return
		}
	}

	fidelity := passport.FidelityCore
	if param, paramOk := params["fidelity"].(string); paramOk {
		fidelity, err = passport.ParseFidelity(param)
		if err != nil {
			provide.RenderError(err.Error(), 422, c)
			return
		}
	}

	mode := ModeAsync
	if param, paramOk := params["mode"].(string); paramOk {
		switch Mode(param) {
		case ModeAsync, ModeSync:
			mode = Mode(param)
		default:
			provide.RenderError("invalid anchoring mode; must be one of: async, sync", 422, c)
			return
		}
	}

	uri, err := passport.ComputeURI(object, common.BaseResourceURL)
	if err != nil {
		renderAnchorError(err, c)
		return
	}

	version := object.AnchorVersion + 1

	attempt, err := requireReconciler().Anchor(c.Request.Context(), object, *uri, version, fidelity, mode)
	if err != nil {
		renderAnchorError(err, c)
		return
	}

	// persist the pending record; the stored tx hash is the durable source of
	// truth for recovery and the reconciliation consumer
	store := NewStore(dbconf.DatabaseConnection())
	updated, err := store.SetAnchoringRecord(object.ID, map[string]interface{}{
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
	if err != nil {
		provide.RenderError(err.Error(), 500, c)
		return
	}
	if !updated {
		common.Log.Warningf("pending anchoring record write superseded for held object: %s; tx hash: %s", object.ID, attempt.TxHash)
	}

	// nudge the consumer so receipt polling starts without waiting for the
	// next scheduled reconciliation pass
	payload, _ := json.Marshal(map[string]interface{}{
		"object_id": object.ID.String(),
	})
	natsutil.NatsJetstreamPublish(natsAnchorPendingSubject, payload)

	response := map[string]interface{}{
		"tx_hash":      attempt.TxHash,
		"digest":       attempt.Digest,
		"uri":          attempt.URI,
		"version":      attempt.Version,
		"fidelity":     attempt.Fidelity,
		"explorer_url": ledger.ExplorerTxURL(attempt.TxHash),
	}

	if mode == ModeSync && attempt.Receipt != nil {
		response["receipt"] = attempt.Receipt
		provide.Render(response, 200, c)
		return
	}

	provide.Render(response, 202, c)
}

// fetch the current anchoring record for a held object
func anchoringRecordHandler(c *gin.Context) {
	object := resolveObject(c)
	if object == nil {
		return
	}

	record, err := registry.GetAnchoringRecord(dbconf.DatabaseConnection(), object.ID)
	if err != nil {
		provide.RenderError("held object not found", 404, c)
		return
	}

	provide.Render(record, 200, c)
}

// verify a held object's passport against the anchoring event index; a miss
// is a valid negative result, never an error
func verifyObjectHandler(c *gin.Context) {
	object := resolveObject(c)
	if object == nil {
		return
	}

	store := NewStore(dbconf.DatabaseConnection())
	service := requireReconciler()

	var expectedDigest *string
	if digest := c.Query("digest"); digest != "" {
		expectedDigest = &digest
	}

	var fidelity *passport.Fidelity
	if param := c.Query("fidelity"); param != "" {
		parsed, fidelityErr := passport.ParseFidelity(param)
		if fidelityErr != nil {
			provide.RenderError(fidelityErr.Error(), 422, c)
			return
		}
		fidelity = &parsed
	}

	result, err := runVerification(service, store, object, expectedDigest, fidelity)
	if err != nil {
		renderAnchorError(err, c)
		return
	}

	provide.Render(result, 200, c)
}

// list the append-only anchoring event history for a held object
func objectAnchorsHandler(c *gin.Context) {
	object := resolveObject(c)
	if object == nil {
		return
	}

	db := dbconf.DatabaseConnection()
	query := EventsQuery(db, object.ID)

	var events []*Event
	provide.Paginate(c, query, &Event{}).Find(&events)
	provide.Render(events, 200, c)
}

// run one reconciliation pass inline and report how many pending records were
// scanned and finalized
func reconcileAnchorsHandler(c *gin.Context) {
	appID := util.AuthorizedSubjectID(c, "application")
	orgID := util.AuthorizedSubjectID(c, "organization")
	userID := util.AuthorizedSubjectID(c, "user")
	if appID == nil && orgID == nil && userID == nil {
		provide.RenderError("unauthorized", 401, c)
		return
	}

	var result *PassResult

	err := redisutil.WithRedlock(anchorReconcileLockKey, func() error {
		store := NewStore(dbconf.DatabaseConnection())
		result = requireReconciler().ReconcilePass(context.Background(), store)
		return nil
	})
	if err != nil {
		provide.RenderError(err.Error(), 500, c)
		return
	}

	provide.Render(result, 200, c)
}
