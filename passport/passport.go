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

package passport

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gowebpki/jcs"
	uuid "github.com/kthomas/go.uuid"

	"github.com/heldobjects/passport/common"
	"github.com/heldobjects/passport/registry"
)

// Fidelity selects the field projection included in a passport digest
type Fidelity string

// FidelityCore is the minimal, universally public projection available to every
// account tier; FidelityFull adds the extended provenance fields and is gated
// to premium accounts by the caller
const (
	FidelityCore Fidelity = "core"
	FidelityFull Fidelity = "full"
)

// ParseFidelity resolves a fidelity from its string representation, rejecting
// unknown values so a typo can never silently produce a mismatched digest
func ParseFidelity(fidelity string) (Fidelity, error) {
	switch Fidelity(strings.ToLower(fidelity)) {
	case FidelityCore:
		return FidelityCore, nil
	case FidelityFull:
		return FidelityFull, nil
	default:
		return "", fmt.Errorf("invalid passport fidelity: %s", fidelity)
	}
}

// InvalidInputError indicates a held object is missing identity fields
// required for digest computation; not retryable until the input is fixed
type InvalidInputError struct {
	message string
}

func (e *InvalidInputError) Error() string {
	return e.message
}

// ComputeDigest derives the deterministic content digest for the given held
// object at the given fidelity. The projection is marshaled to RFC 8785
// canonical JSON prior to hashing; identical field values always reproduce the
// identical digest, which verification depends on.
func ComputeDigest(object *registry.HeldObject, fidelity Fidelity) (*string, error) {
	projection, err := project(object, fidelity)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(projection)
	if err != nil {
		return nil, err
	}

	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, err
	}

	digest := common.SHA256(string(canonical))
	return &digest, nil
}

// ComputeURI returns the canonical resource locator embedded in the anchoring
// payload; deterministic from the object id and base URL
func ComputeURI(object *registry.HeldObject, baseURL string) (*string, error) {
	if object == nil || object.ID == uuid.Nil {
		return nil, &InvalidInputError{"failed to compute passport URI; object id required"}
	}

	uri := fmt.Sprintf("%s/api/v1/objects/%s", strings.TrimRight(baseURL, "/"), object.ID)
	return &uri, nil
}

// project builds the normalized field projection hashed into the digest.
// Normalization rules, applied identically on the anchoring and verification
// paths: strings are whitespace-trimmed, empty and nil fields are omitted,
// image URL lists are sorted; the ownership chain preserves its order since it
// encodes custody history.
func project(object *registry.HeldObject, fidelity Fidelity) (map[string]interface{}, error) {
	if object == nil || object.ID == uuid.Nil {
		return nil, &InvalidInputError{"failed to compute passport digest; object id required"}
	}
	if object.Title == nil || strings.TrimSpace(*object.Title) == "" {
		return nil, &InvalidInputError{fmt.Sprintf("failed to compute passport digest for object %s; title required", object.ID)}
	}
	if object.Category == nil || strings.TrimSpace(*object.Category) == "" {
		return nil, &InvalidInputError{fmt.Sprintf("failed to compute passport digest for object %s; category required", object.ID)}
	}

	projection := map[string]interface{}{
		"id":       object.ID.String(),
		"fidelity": string(fidelity),
		"title":    strings.TrimSpace(*object.Title),
		"category": strings.TrimSpace(*object.Category),
	}

	if object.Maker != nil && strings.TrimSpace(*object.Maker) != "" {
		projection["maker"] = strings.TrimSpace(*object.Maker)
	}
	if object.Year != nil {
		projection["year"] = *object.Year
	}
	if object.Condition != nil && strings.TrimSpace(*object.Condition) != "" {
		projection["condition"] = strings.TrimSpace(*object.Condition)
	}
	if urls := normalizeSorted(object.ImageURLs); len(urls) > 0 {
		projection["image_urls"] = urls
	}

	if fidelity == FidelityFull {
		if object.SerialNumber != nil && strings.TrimSpace(*object.SerialNumber) != "" {
			projection["serial_number"] = strings.TrimSpace(*object.SerialNumber)
		}
		if object.AcquiredAt != nil {
			projection["acquired_at"] = object.AcquiredAt.UTC().Format(time.RFC3339)
		}
		if object.CertificateURL != nil && strings.TrimSpace(*object.CertificateURL) != "" {
			projection["certificate_url"] = strings.TrimSpace(*object.CertificateURL)
		}
		if chain := normalize(object.OwnershipChain); len(chain) > 0 {
			projection["ownership_chain"] = chain
		}
	}

	return projection, nil
}

func normalize(vals []string) []string {
	normalized := make([]string, 0, len(vals))
	for _, val := range vals {
		if trimmed := strings.TrimSpace(val); trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}

func normalizeSorted(vals []string) []string {
	normalized := normalize(vals)
	sort.Strings(normalized)
	return normalized
}
