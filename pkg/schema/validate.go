package schema

import (
	"fmt"
	"regexp"
	"strings"
)

// relationshipTypePattern is the shape of a legal relationship identifier
// after normalization. Types that fail it are rejected in every mode: they
// can never be spliced into a Cypher pattern.
var relationshipTypePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// EntityInput is a requested entity create, before normalization.
type EntityInput struct {
	Name         string
	EntityType   string
	Observations []ObservationInput
}

// ObservationInput is a requested observation, before normalization.
type ObservationInput struct {
	Content string
	Source  string
}

// RelationInput is a requested relationship create, before normalization.
type RelationInput struct {
	From string
	Type string
	To   string
}

// ValidateEntities normalizes a batch of entity inputs against the registry.
//
// Entity types are lowercased to their canonical form. Unknown types fail the
// item in strict mode (an *EnforcementError in itemErrors) or emit a warning
// and accept in lenient mode. A failed item never aborts the rest of the
// batch.
func ValidateEntities(items []EntityInput, strict bool) (valid []EntityInput, warnings []string, itemErrors []error) {
	for _, item := range items {
		name := strings.TrimSpace(item.Name)
		if name == "" {
			itemErrors = append(itemErrors, &EnforcementError{Item: item.Name, Reason: "entity name is required"})
			continue
		}

		normalized, known := NormalizeEntityType(item.EntityType)
		if normalized == "" {
			itemErrors = append(itemErrors, &EnforcementError{Item: name, Reason: "entityType is required"})
			continue
		}
		if !known {
			if strict {
				itemErrors = append(itemErrors, &EnforcementError{
					Item:   name,
					Reason: fmt.Sprintf("unknown entity type %q", normalized),
				})
				continue
			}
			warnings = append(warnings, fmt.Sprintf("entity %q: unknown entity type %q accepted in lenient mode", name, normalized))
		}

		observations := make([]ObservationInput, 0, len(item.Observations))
		for _, obs := range item.Observations {
			content := strings.TrimSpace(obs.Content)
			if content == "" {
				warnings = append(warnings, fmt.Sprintf("entity %q: empty observation dropped", name))
				continue
			}
			observations = append(observations, ObservationInput{Content: content, Source: obs.Source})
		}

		valid = append(valid, EntityInput{
			Name:         name,
			EntityType:   normalized,
			Observations: observations,
		})
	}
	return valid, warnings, itemErrors
}

// ValidateRelationships normalizes a batch of relationship inputs.
//
// Protected relationship types are refused per item in every mode: only the
// V6 pipeline may create them. Non-canonical types fail the item in strict
// mode or pass with a warning in lenient mode.
func ValidateRelationships(items []RelationInput, strict bool) (valid []RelationInput, warnings []string, itemErrors []error) {
	for _, item := range items {
		from := strings.TrimSpace(item.From)
		to := strings.TrimSpace(item.To)
		relType := NormalizeRelationshipType(item.Type)

		if from == "" || to == "" || relType == "" {
			itemErrors = append(itemErrors, &EnforcementError{
				Item:   fmt.Sprintf("%s-[%s]->%s", from, relType, to),
				Reason: "from, type and to are all required",
			})
			continue
		}

		if !relationshipTypePattern.MatchString(relType) {
			itemErrors = append(itemErrors, &EnforcementError{
				Item:   fmt.Sprintf("%s-[%s]->%s", from, relType, to),
				Reason: fmt.Sprintf("relationship type %q is not a valid identifier", relType),
			})
			continue
		}

		if IsProtectedRelationship(relType) {
			itemErrors = append(itemErrors, &EnforcementError{
				Item:   fmt.Sprintf("%s-[%s]->%s", from, relType, to),
				Reason: fmt.Sprintf("relationship type %s is reserved for the write pipeline", relType),
			})
			continue
		}

		if !IsAllowedRelationship(relType) {
			if strict {
				itemErrors = append(itemErrors, &EnforcementError{
					Item:   fmt.Sprintf("%s-[%s]->%s", from, relType, to),
					Reason: fmt.Sprintf("unknown relationship type %s", relType),
				})
				continue
			}
			warnings = append(warnings, fmt.Sprintf("relationship type %s accepted in lenient mode", relType))
		}

		valid = append(valid, RelationInput{From: from, Type: relType, To: to})
	}
	return valid, warnings, itemErrors
}
