// internal/app/static_generator.go
package app

import (
	"context"
	"fmt"
	"time"

	"ritual_sync_service/internal/domain/cycle"
)

// StaticGenerator is a stand-in Generator that derives a fixed-size idea list
// from both inputs. The production generator lives behind the same interface
// in an external service; this one keeps local runs and the backstop sweep
// functional without it.
type StaticGenerator struct {
	Titles []string
}

func NewStaticGenerator() *StaticGenerator {
	return &StaticGenerator{
		Titles: []string{
			"Cook a dish neither of you has tried",
			"Evening walk with a shared playlist",
			"Board game rematch",
			"Plan next month's small adventure",
			"At-home tasting night",
		},
	}
}

func (g *StaticGenerator) Generate(_ context.Context, c *cycle.Cycle) (*cycle.Artifact, error) {
	items := make([]cycle.ArtifactItem, 0, len(g.Titles))
	for i, title := range g.Titles {
		items = append(items, cycle.ArtifactItem{
			ID:          fmt.Sprintf("%s-%d", c.ID.String()[:8], i+1),
			Title:       title,
			Description: "Suggested from both partners' inputs",
			Position:    i,
		})
	}
	return &cycle.Artifact{Items: items, GeneratedAt: time.Now()}, nil
}
