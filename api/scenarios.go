/*
scenarios.go - Demo catalog for local runs and demos

PURPOSE:
  Populates an empty catalog with a realistic set of rewards so the staff
  and customer screens have something to show.

HOW SEEDING WORKS:
 1. List the current catalog
 2. Skip every demo reward whose name is already present
 3. Create the rest through the Catalog service (same validation as admins)

Seeding is idempotent: calling it twice creates nothing the second time.

USAGE VIA API:

	POST /api/admin/seed

SEE ALSO:
  - handlers.go: Admin catalog endpoints
  - loyalty/catalog.go: Catalog service
*/
package api

import (
	"context"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/sebastianahumada1/Leal/loyalty"
)

// DemoRewards is the catalog loaded by SeedCatalog.
var DemoRewards = []loyalty.RewardInput{
	{Name: "Free Coffee", Description: "Any hot drink, any size", RequiredStamps: 5, Icon: "coffee", Active: true},
	{Name: "Pastry of the Day", Description: "One pastry from the counter", RequiredStamps: 7, Icon: "bakery_dining", Active: true},
	{Name: "Breakfast Combo", Description: "Coffee, juice and a sandwich", RequiredStamps: 12, Icon: "brunch_dining", Active: true},
	{Name: "House Mug", Description: "Ceramic mug with the house logo", RequiredStamps: 20, Icon: "redeem", Active: true},
	{Name: "Tasting Session", Description: "Guided tasting for two, on request", RequiredStamps: 30, Icon: "local_cafe", Active: false},
}

// LoadDemoCatalog creates the demo rewards missing from the catalog.
func LoadDemoCatalog(ctx context.Context, catalog *loyalty.Catalog) ([]loyalty.RewardDefinition, error) {
	existing, err := catalog.ListRewards(ctx, false)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(existing))
	for _, r := range existing {
		have[strings.ToLower(r.Name)] = true
	}

	created := []loyalty.RewardDefinition{}
	for _, in := range DemoRewards {
		if have[strings.ToLower(in.Name)] {
			continue
		}
		r, err := catalog.CreateReward(ctx, in)
		if err != nil {
			return created, err
		}
		created = append(created, *r)
	}

	log.WithField("created", len(created)).Info("Demo catalog loaded")
	return created, nil
}

// SeedCatalog loads the demo catalog.
// POST /api/admin/seed
func (h *Handler) SeedCatalog(w http.ResponseWriter, r *http.Request) {
	created, err := LoadDemoCatalog(r.Context(), h.Services.Catalog)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeOutcome(w, http.StatusCreated, toRewardDTOs(created))
}
