// Package rce provides a client for the Cultural Heritage Agency SPARQL
// service: registered monuments by unit id, and protected townscape polygons.
package rce

import (
	"context"
	"fmt"
	"strings"

	"github.com/bouwdata/heritage-cli/internal/sparql"
)

// maxInFlight caps concurrent queries against the heritage endpoint.
const maxInFlight = 2

// monumentsQueryTemplate selects registration numbers for the given unit
// identifiers. %s receives a space-separated list of quoted ids.
const monumentsQueryTemplate = `
PREFIX ceo:<https://linkeddata.cultureelerfgoed.nl/def/ceo#>
PREFIX bag:<http://bag.basisregistraties.overheid.nl/bag/id/>
PREFIX rn:<https://data.cultureelerfgoed.nl/term/id/rn/>
SELECT DISTINCT ?identificatie ?nummer
WHERE {
    ?monument ceo:heeftJuridischeStatus rn:b2d9a59a-fe1e-4552-9a05-3c2acddff864 ;
              ceo:rijksmonumentnummer ?nummer ;
              ceo:heeftBasisregistratieRelatie ?basisregistratieRelatie .
    ?basisregistratieRelatie ceo:heeftBAGRelatie ?bagRelatie .
    ?bagRelatie ceo:verblijfsobjectIdentificatie ?identificatie .
    VALUES ?identificatie { %s }
}
`

// protectedSitesQuery selects every designated protected townscape with its
// name and WKT geometry. The set is small; no batching.
const protectedSitesQuery = `
PREFIX ceo:<https://linkeddata.cultureelerfgoed.nl/def/ceo#>
PREFIX rn:<https://data.cultureelerfgoed.nl/term/id/rn/>
PREFIX geo: <http://www.opengis.net/ont/geosparql#>
SELECT DISTINCT ?gezicht ?naam ?gezichtWKT
WHERE {
  ?gezicht
      ceo:heeftGeometrie ?gezichtGeometrie ;
      ceo:heeftGezichtsstatus rn:fd968529-bf70-4afa-8564-7c6c2fcfcc54;
      ceo:heeftNaam/ceo:naam ?naam.
  ?gezichtGeometrie geo:asWKT ?gezichtWKT.
}
`

// Site is a protected townscape polygon in well-known-text form.
type Site struct {
	Name string `json:"naam"`
	WKT  string `json:"gezichtWKT"`
}

// Client defines the heritage service operations.
type Client interface {
	// Monuments returns unit id -> monument registration number for every
	// requested id registered as a monument.
	Monuments(ctx context.Context, ids []string) (map[string]string, error)
	// ProtectedSites returns all protected townscape polygons.
	ProtectedSites(ctx context.Context) ([]Site, error)
}

type client struct {
	endpoint *sparql.Endpoint
}

// NewClient creates a heritage client for the given SPARQL endpoint URL.
func NewClient(endpointURL string, opts ...sparql.Option) Client {
	return &client{
		endpoint: sparql.NewEndpoint("rce", endpointURL, maxInFlight, opts...),
	}
}

type monumentRow struct {
	ID     string `json:"identificatie"`
	Number string `json:"nummer"`
}

func (c *client) Monuments(ctx context.Context, ids []string) (map[string]string, error) {
	if len(ids) == 0 {
		return map[string]string{}, nil
	}

	query := fmt.Sprintf(monumentsQueryTemplate, strings.Join(sparql.QuoteAll(ids), " "))
	rows, err := sparql.Select[monumentRow](ctx, c.endpoint, query)
	if err != nil {
		return nil, err
	}

	monuments := make(map[string]string, len(rows))
	for _, r := range rows {
		monuments[r.ID] = r.Number
	}
	return monuments, nil
}

func (c *client) ProtectedSites(ctx context.Context) ([]Site, error) {
	return sparql.Select[Site](ctx, c.endpoint, protectedSitesQuery)
}

// MonumentURL returns the public reference page for a registration number.
func MonumentURL(number string) string {
	return "https://www.monumenten.nl/monument/" + number
}
