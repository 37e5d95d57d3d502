// Package schema is the canonical V6 schema registry.
//
// It is the single source of truth for entity types, relationship types,
// property names, and semantic themes. Everything here is a closed,
// read-only table fixed at compile time; the write pipeline and the tool
// handlers resolve names through this package instead of hard-coding strings.
package schema

import (
	"fmt"
	"slices"
	"strings"
)

// SchemaVersion identifies the enforced schema generation.
const SchemaVersion = "v6"

// Canonical node labels.
const (
	LabelEntity         = "Entity"
	LabelSemanticEntity = "SemanticEntity"
	LabelObservation    = "Observation"
	LabelPerennial      = "Perennial"
	LabelDay            = "Day"
	LabelMonth          = "Month"
	LabelYear           = "Year"
	LabelConversation   = "ConversationSession"
	LabelCommunity      = "CommunitySummary"
)

// ObservationLabels is the exact label set carried by every V6 Observation.
var ObservationLabels = []string{LabelObservation, LabelPerennial, LabelEntity}

// Canonical relationship types created only by the V6 write pipeline.
const (
	RelEntityHasObservation = "ENTITY_HAS_OBSERVATION"
	RelOccurredOn           = "OCCURRED_ON"
	RelPartOfMonth          = "PART_OF_MONTH"
	RelPartOfYear           = "PART_OF_YEAR"
)

// Canonical relationship types that tool calls may create or traverse.
const (
	RelRelatesTo             = "RELATES_TO"
	RelKnows                 = "KNOWS"
	RelWorksOn               = "WORKS_ON"
	RelUses                  = "USES"
	RelPartOf                = "PART_OF"
	RelLocatedIn             = "LOCATED_IN"
	RelMentions              = "MENTIONS"
	RelDerivedFrom           = "DERIVED_FROM"
	RelMemberOfCommunity     = "MEMBER_OF_COMMUNITY"
	RelSessionAddedEntity    = "CONVERSATION_SESSION_ADDED_OBSERVATION"
	RelSessionDiscussedTopic = "CONVERSATION_SESSION_DISCUSSED"
)

// protectedRelationships may only be written by the V6 pipeline. Tool calls
// that name one of these are refused per item.
var protectedRelationships = map[string]bool{
	RelEntityHasObservation: true,
	RelOccurredOn:           true,
	RelPartOfMonth:          true,
	RelPartOfYear:           true,
}

// allowedRelationships is the closed set tools may MERGE directly.
var allowedRelationships = map[string]bool{
	RelRelatesTo:             true,
	RelKnows:                 true,
	RelWorksOn:               true,
	RelUses:                  true,
	RelPartOf:                true,
	RelLocatedIn:             true,
	RelMentions:              true,
	RelDerivedFrom:           true,
	RelMemberOfCommunity:     true,
	RelSessionAddedEntity:    true,
	RelSessionDiscussedTopic: true,
}

// entityTypes is the canonical closed set of lowercased entity types.
var entityTypes = map[string]bool{
	"person":       true,
	"organization": true,
	"project":      true,
	"technology":   true,
	"concept":      true,
	"event":        true,
	"location":     true,
	"document":     true,
	"conversation": true,
	"insight":      true,
	"tool":         true,
	"test":         true,
}

// forbiddenObservationProperties are V5 leftovers that must never be written.
// `timestamp` was replaced by `created_at`, bare `theme` by `semantic_theme`,
// and inline `observations` arrays on Entity by first-class Observation nodes.
var forbiddenObservationProperties = map[string]bool{
	"timestamp":    true,
	"theme":        true,
	"observations": true,
	"year_month":   true,
}

// observationProperties is the canonical property set for Observation nodes.
var observationProperties = []string{
	"id", "content", "created_at", "source", "created_by",
	"semantic_theme", "conversation_id", "jina_vec_v3", "has_embedding",
}

// entityProperties is the canonical property set for Entity nodes.
var entityProperties = []string{
	"name", "entityType", "created", "created_by", "has_embedding",
}

// EnforcementError is raised in strict mode when an item breaches the schema.
type EnforcementError struct {
	Item   string
	Reason string
}

func (e *EnforcementError) Error() string {
	return fmt.Sprintf("schema enforcement: %s: %s", e.Item, e.Reason)
}

// NormalizeEntityType lowercases and trims a requested entity type and
// reports whether it belongs to the canonical set.
func NormalizeEntityType(entityType string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(entityType))
	return normalized, entityTypes[normalized]
}

// EntityTypes returns the canonical entity types in sorted order.
func EntityTypes() []string {
	out := make([]string, 0, len(entityTypes))
	for t := range entityTypes {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// IsProtectedRelationship reports whether only the V6 pipeline may create the
// given relationship type.
func IsProtectedRelationship(relType string) bool {
	return protectedRelationships[strings.ToUpper(strings.TrimSpace(relType))]
}

// ProtectedRelationships returns the pipeline-owned relationship types in
// sorted order.
func ProtectedRelationships() []string {
	out := make([]string, 0, len(protectedRelationships))
	for rel := range protectedRelationships {
		out = append(out, rel)
	}
	slices.Sort(out)
	return out
}

// IsAllowedRelationship reports whether tools may create the given
// relationship type directly.
func IsAllowedRelationship(relType string) bool {
	return allowedRelationships[strings.ToUpper(strings.TrimSpace(relType))]
}

// NormalizeRelationshipType returns the canonical upper-snake form.
func NormalizeRelationshipType(relType string) string {
	return strings.ToUpper(strings.TrimSpace(relType))
}

// IsForbiddenProperty reports whether a property name is a V5 leftover that
// must be rejected on write.
func IsForbiddenProperty(name string) bool {
	return forbiddenObservationProperties[strings.ToLower(strings.TrimSpace(name))]
}

// ObservationProperties returns the canonical Observation property names.
func ObservationProperties() []string {
	return slices.Clone(observationProperties)
}

// EntityProperties returns the canonical Entity property names.
func EntityProperties() []string {
	return slices.Clone(entityProperties)
}
