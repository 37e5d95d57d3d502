package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/daydreamer-ai/daydreamer-memory/pkg/graph"
)

// temporalKeys holds the canonical date keys for one instant.
type temporalKeys struct {
	Day   string // "YYYY-MM-DD"
	Month string // "YYYY-MM", zero-padded month
	Year  int
}

func temporalKeysFor(t time.Time) temporalKeys {
	return temporalKeys{
		Day:   t.Format("2006-01-02"),
		Month: t.Format("2006-01"),
		Year:  t.Year(),
	}
}

// mergeTemporalHierarchy MERGEs the Day, Month and Year nodes for the given
// keys and links them. Month nodes carry only the canonical `date` key; the
// legacy `year_month` key is never written.
func mergeTemporalHierarchy(ctx context.Context, tx graph.Tx, keys temporalKeys) error {
	const cypher = `
		MERGE (d:Day:Perennial:Entity {date: $day})
		MERGE (m:Month:Perennial:Entity {date: $month})
		MERGE (y:Year:Perennial:Entity {year: $year})
		MERGE (d)-[:PART_OF_MONTH]->(m)
		MERGE (m)-[:PART_OF_YEAR]->(y)`

	if _, err := tx.Run(ctx, cypher, map[string]any{
		"day":   keys.Day,
		"month": keys.Month,
		"year":  keys.Year,
	}); err != nil {
		return fmt.Errorf("temporal hierarchy merge failed: %w", err)
	}
	return nil
}
