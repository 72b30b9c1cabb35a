// Package kadaster provides a client for the cadastre SPARQL service that
// resolves unit identifiers to their registered geometries.
package kadaster

import (
	"context"
	"fmt"
	"strings"

	"github.com/bouwdata/heritage-cli/internal/sparql"
)

// maxInFlight caps concurrent queries against the cadastre endpoint,
// independent from the heritage endpoint's cap.
const maxInFlight = 2

// geometriesQueryTemplate selects WKT geometries for the given unit
// identifiers. %s receives a comma-separated list of quoted ids.
const geometriesQueryTemplate = `
PREFIX sor: <https://data.kkg.kadaster.nl/sor/model/def/>
PREFIX nen3610: <https://data.kkg.kadaster.nl/nen3610/model/def/>
PREFIX geo: <http://www.opengis.net/ont/geosparql#>
SELECT DISTINCT ?identificatie ?verblijfsobjectWKT
WHERE {
  ?verblijfsobject sor:geregistreerdMet/nen3610:identificatie ?identificatie .
  ?verblijfsobject geo:hasGeometry/geo:asWKT ?verblijfsobjectWKT.
  FILTER (?identificatie IN ( %s ))
}
`

// Geometry is a unit's registered geometry in well-known-text form.
type Geometry struct {
	ID  string `json:"identificatie"`
	WKT string `json:"verblijfsobjectWKT"`
}

// Client defines the cadastre service operations.
type Client interface {
	// Geometries returns the geometries of the requested ids. Only ids the
	// cadastre actually knows appear in the result; callers compute the
	// missing set themselves.
	Geometries(ctx context.Context, ids []string) ([]Geometry, error)
}

type client struct {
	endpoint *sparql.Endpoint
}

// NewClient creates a cadastre client for the given SPARQL endpoint URL.
func NewClient(endpointURL string, opts ...sparql.Option) Client {
	return &client{
		endpoint: sparql.NewEndpoint("kadaster", endpointURL, maxInFlight, opts...),
	}
}

func (c *client) Geometries(ctx context.Context, ids []string) ([]Geometry, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(geometriesQueryTemplate, strings.Join(sparql.QuoteAll(ids), ", "))
	return sparql.Select[Geometry](ctx, c.endpoint, query)
}
