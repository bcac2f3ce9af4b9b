package anchor

import (
	"encoding/json"
	"fmt"

	natsutil "github.com/kthomas/go-natsutil"
	"github.com/nats-io/nats.go"

	"github.com/heldobjects/passport/common"
	"github.com/heldobjects/passport/registry"
)

const anchorNotificationConfirmed = "anchor.confirmed"
const anchorNotificationFailed = "anchor.failed"

// dispatchNotification broadcasts an anchoring status event to qualified
// subjects; the UI subscribes for live status instead of locally asserting
// confirmation
func dispatchNotification(object *registry.HeldObject, event string) (*nats.PubAck, error) {
	prefix := notificationsSubjectPrefix(object)
	if prefix == nil {
		return nil, fmt.Errorf("failed to dispatch %s notification for held object %s; nil prefix", event, object.ID.String())
	}

	subject := fmt.Sprintf("%s.%s", *prefix, event)
	payload, _ := json.Marshal(map[string]interface{}{
		"object_id":      object.ID.String(),
		"anchor_version": object.AnchorVersion,
		"tx_hash":        object.TxHash,
	})
	return natsutil.NatsJetstreamPublish(subject, payload)
}

// notificationsSubjectPrefix returns a namespaced subject prefix suitable for
// pub/sub subscriptions scoped to the owning subject
func notificationsSubjectPrefix(object *registry.HeldObject) *string {
	if object.ApplicationID != nil {
		return common.StringOrNil(fmt.Sprintf("passport.anchor.notification.%s.%s", object.ApplicationID.String(), object.ID.String()))
	} else if object.OrganizationID != nil {
		return common.StringOrNil(fmt.Sprintf("passport.anchor.notification.%s.%s", object.OrganizationID.String(), object.ID.String()))
	} else if object.UserID != nil {
		return common.StringOrNil(fmt.Sprintf("passport.anchor.notification.%s.%s", object.UserID.String(), object.ID.String()))
	}

	return nil
}
