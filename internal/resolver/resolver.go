// Package resolver finds address-equivalent substitute unit identifiers for
// ids the cadastre does not know, by walking the buildings/units registry.
package resolver

import (
	"context"

	"go.uber.org/zap"

	"github.com/bouwdata/heritage-cli/pkg/bag"
)

// Candidate is an alternate unit at the same street address as the original.
type Candidate struct {
	OriginalID  string
	AlternateID string
	Status      string
	PostalCode  string
	HouseNumber int
	HouseLetter string
}

// Resolver walks the registry to resolve missing identifiers.
type Resolver struct {
	registry bag.Client
}

// New creates a Resolver over the given registry client.
func New(registry bag.Client) *Resolver {
	return &Resolver{registry: registry}
}

// Alternatives returns all address-equivalent alternates for originalID, in
// registry order (buildings, then units within each building). The list is
// finite and may be empty; registry lookups that merely return no data are
// logged and skipped, while fatal fetch errors propagate.
func (r *Resolver) Alternatives(ctx context.Context, originalID string) ([]Candidate, error) {
	log := zap.L().With(zap.String("unit_id", originalID))

	buildings, err := r.registry.BuildingsByUnit(ctx, originalID)
	if err != nil {
		return nil, err
	}
	if len(buildings) == 0 {
		log.Warn("resolver: no buildings found for unit")
		return nil, nil
	}

	var candidates []Candidate
	for _, buildingID := range buildings {
		units, err := r.registry.UnitsByBuilding(ctx, buildingID)
		if err != nil {
			return nil, err
		}
		if units == nil {
			log.Warn("resolver: failed to fetch units for building",
				zap.String("building_id", buildingID))
			continue
		}

		original := findUnit(units, originalID)
		if original == nil || original.Address == nil {
			log.Warn("resolver: no address found for unit in building",
				zap.String("building_id", buildingID))
			continue
		}

		for _, u := range units {
			if u.ID == originalID || u.Address == nil {
				continue
			}
			if u.Address.Equal(*original.Address) {
				candidates = append(candidates, Candidate{
					OriginalID:  originalID,
					AlternateID: u.ID,
					Status:      u.Status,
					PostalCode:  u.Address.PostalCode,
					HouseNumber: u.Address.HouseNumber,
					HouseLetter: u.Address.HouseLetter,
				})
			}
		}
	}

	if len(candidates) == 0 {
		log.Warn("resolver: no alternative found for unit")
	}
	return candidates, nil
}

func findUnit(units []bag.Unit, id string) *bag.Unit {
	for i := range units {
		if units[i].ID == id {
			return &units[i]
		}
	}
	return nil
}
