// Package bag provides a client for the buildings/units registry
// (BAG Individuele Bevragingen): buildings by addressable object, and the
// expanded unit set of a building including main addresses.
package bag

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/rotisserie/eris"
)

// Getter is the subset of the rate-limited fetcher this client needs.
// A nil body with a nil error means the registry had no data for the request.
type Getter interface {
	GetJSON(ctx context.Context, rawURL string, headers map[string]string, params url.Values) (json.RawMessage, error)
}

// Address is a unit's main address as registered.
type Address struct {
	PostalCode  string `json:"postcode"`
	HouseNumber int    `json:"huisnummer"`
	HouseLetter string `json:"huisletter"`
}

// Equal reports address equivalence: postal code and house number exact,
// house letter with absent treated as empty string.
func (a Address) Equal(b Address) bool {
	return a.PostalCode == b.PostalCode &&
		a.HouseNumber == b.HouseNumber &&
		a.HouseLetter == b.HouseLetter
}

// Unit is a single unit record with its registration status and main
// address. Address is nil when the registry holds no main address.
type Unit struct {
	ID      string
	Status  string
	Address *Address
}

// Client defines the registry lookups used by fallback resolution.
type Client interface {
	// BuildingsByUnit returns the ids of all buildings containing the given
	// addressable object. A nil slice with nil error means the registry had
	// no data.
	BuildingsByUnit(ctx context.Context, unitID string) ([]string, error)
	// UnitsByBuilding returns all unit records of a building, expanded with
	// their main addresses.
	UnitsByBuilding(ctx context.Context, buildingID string) ([]Unit, error)
}

type client struct {
	fetcher Getter
	baseURL string
	headers map[string]string
}

// NewClient creates a registry client. The API key is passed on every
// request; crs selects the coordinate reference system for geometry fields.
func NewClient(f Getter, baseURL, apiKey, crs string) Client {
	return &client{
		fetcher: f,
		baseURL: baseURL,
		headers: map[string]string{
			"Accept":      "application/hal+json",
			"Accept-Crs":  crs,
			"Content-Crs": crs,
			"X-Api-Key":   apiKey,
		},
	}
}

type buildingsEnvelope struct {
	Embedded struct {
		Buildings []struct {
			Building struct {
				ID string `json:"identificatie"`
			} `json:"pand"`
		} `json:"panden"`
	} `json:"_embedded"`
}

func (c *client) BuildingsByUnit(ctx context.Context, unitID string) ([]string, error) {
	params := url.Values{"adresseerbaarObjectIdentificatie": {unitID}}
	body, err := c.fetcher.GetJSON(ctx, c.baseURL+"/panden", c.headers, params)
	if err != nil {
		return nil, eris.Wrapf(err, "bag: buildings for unit %s", unitID)
	}
	if body == nil {
		return nil, nil
	}

	var env buildingsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, eris.Wrapf(err, "bag: decode buildings for unit %s", unitID)
	}

	ids := make([]string, 0, len(env.Embedded.Buildings))
	for _, b := range env.Embedded.Buildings {
		ids = append(ids, b.Building.ID)
	}
	return ids, nil
}

type unitsEnvelope struct {
	Embedded struct {
		Units []unitEntry `json:"verblijfsobjecten"`
	} `json:"_embedded"`
}

type unitEntry struct {
	Unit struct {
		ID     string `json:"identificatie"`
		Status string `json:"status"`
	} `json:"verblijfsobject"`
	Embedded struct {
		MainAddress *struct {
			Numbering Address `json:"nummeraanduiding"`
		} `json:"heeftAlsHoofdAdres"`
	} `json:"_embedded"`
}

func (c *client) UnitsByBuilding(ctx context.Context, buildingID string) ([]Unit, error) {
	params := url.Values{
		"expand":            {"true"},
		"pandIdentificatie": {buildingID},
	}
	body, err := c.fetcher.GetJSON(ctx, c.baseURL+"/verblijfsobjecten", c.headers, params)
	if err != nil {
		return nil, eris.Wrapf(err, "bag: units for building %s", buildingID)
	}
	if body == nil {
		return nil, nil
	}

	var env unitsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, eris.Wrapf(err, "bag: decode units for building %s", buildingID)
	}

	units := make([]Unit, 0, len(env.Embedded.Units))
	for _, entry := range env.Embedded.Units {
		u := Unit{
			ID:     entry.Unit.ID,
			Status: entry.Unit.Status,
		}
		if entry.Embedded.MainAddress != nil {
			addr := entry.Embedded.MainAddress.Numbering
			u.Address = &addr
		}
		units = append(units, u)
	}
	return units, nil
}
