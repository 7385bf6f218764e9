package registry

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/carton-run/carton/internal/cartonerr"
	"github.com/carton-run/carton/pkg/types"
)

// Catalog is the well-known remote runner catalog (spec.md §4.6): a flat
// list of CatalogEntry rows, each carrying download archives to fetch
// when no local candidate satisfies a request.
type Catalog struct {
	Entries []types.CatalogEntry
}

// FetchCatalog retrieves and decodes the catalog document at url.
func FetchCatalog(ctx context.Context, client *http.Client, url string) (*Catalog, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, cartonerr.Wrap(cartonerr.KindInstallerNetwork, "building catalog request", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, cartonerr.Wrap(cartonerr.KindInstallerNetwork, "fetching runner catalog", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, cartonerr.New(cartonerr.KindInstallerNetwork, "catalog fetch returned non-200 status")
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, cartonerr.Wrap(cartonerr.KindInstallerNetwork, "reading catalog body", err)
	}
	var entries []types.CatalogEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, cartonerr.Wrap(cartonerr.KindFormat, "decoding runner catalog", err)
	}
	return &Catalog{Entries: entries}, nil
}
