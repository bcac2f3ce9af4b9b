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

package registry

import (
	"encoding/json"

	"github.com/gin-gonic/gin"
	"github.com/jinzhu/gorm"
	dbconf "github.com/kthomas/go-db-config"
	uuid "github.com/kthomas/go.uuid"
	provide "github.com/provideplatform/provide-go/common"
	"github.com/provideplatform/provide-go/common/util"
)

// ResolveObjectsQuery scopes a held objects query to the authorized subject
func ResolveObjectsQuery(db *gorm.DB, objectID, orgID, appID, userID *uuid.UUID) *gorm.DB {
	query := db.Select("held_objects.*")
	if objectID != nil {
		query = query.Where("held_objects.id = ?", objectID)
	}
	if orgID != nil {
		query = query.Where("held_objects.organization_id = ?", orgID)
	}
	if appID != nil {
		query = query.Where("held_objects.application_id = ?", appID)
	}
	if userID != nil {
		query = query.Where("held_objects.user_id = ?", userID)
	}
	return query
}

// InstallAPI registers the held object registry API handlers with gin
func InstallAPI(r *gin.Engine) {
	r.GET("/api/v1/objects", listObjectsHandler)
	r.POST("/api/v1/objects", createObjectHandler)
	r.GET("/api/v1/objects/:id", objectDetailsHandler)
}

// list/query held objects in the registry
func listObjectsHandler(c *gin.Context) {
	appID := util.AuthorizedSubjectID(c, "application")
	orgID := util.AuthorizedSubjectID(c, "organization")
	userID := util.AuthorizedSubjectID(c, "user")
	if appID == nil && orgID == nil && userID == nil {
		provide.RenderError("unauthorized", 401, c)
		return
	}

	db := dbconf.DatabaseConnection()
	query := ResolveObjectsQuery(db, nil, orgID, appID, userID)

	var objects []*HeldObject
	provide.Paginate(c, query, &HeldObject{}).Find(&objects)
	provide.Render(objects, 200, c)
}

// catalog a new held object
func createObjectHandler(c *gin.Context) {
	appID := util.AuthorizedSubjectID(c, "application")
	orgID := util.AuthorizedSubjectID(c, "organization")
	userID := util.AuthorizedSubjectID(c, "user")
	if appID == nil && orgID == nil && userID == nil {
		provide.RenderError("unauthorized", 401, c)
		return
	}

	buf, err := c.GetRawData()
	if err != nil {
		provide.RenderError(err.Error(), 400, c)
		return
	}

	object := &HeldObject{}
	err = json.Unmarshal(buf, object)
	if err != nil {
		provide.RenderError(err.Error(), 422, c)
		return
	}

	if appID != nil {
		object.ApplicationID = appID
	}

	if orgID != nil {
		object.OrganizationID = orgID
	}

	if userID != nil {
		object.UserID = userID
	}

	if object.Create() {
		provide.Render(object, 201, c)
	} else {
		obj := map[string]interface{}{}
		obj["errors"] = object.Errors
		provide.Render(obj, 422, c)
	}
}

// fetch held object details, including the current anchoring record
func objectDetailsHandler(c *gin.Context) {
	appID := util.AuthorizedSubjectID(c, "application")
	orgID := util.AuthorizedSubjectID(c, "organization")
	userID := util.AuthorizedSubjectID(c, "user")
	if appID == nil && orgID == nil && userID == nil {
		provide.RenderError("unauthorized", 401, c)
		return
	}

	db := dbconf.DatabaseConnection()
	objectID, err := uuid.FromString(c.Param("id"))
	if err != nil {
		provide.RenderError("bad request", 400, c)
		return
	}

	object := &HeldObject{}
	ResolveObjectsQuery(db, &objectID, orgID, appID, userID).Find(&object)

	if object == nil || object.ID == uuid.Nil {
		provide.RenderError("held object not found", 404, c)
		return
	}

	provide.Render(object, 200, c)
}
