package overlayfs

import (
	toml "github.com/pelletier/go-toml/v2"

	"github.com/carton-run/carton/internal/cartonerr"
)

// LinksFile is the parsed LINKS table: content-hash -> candidate URLs
// (spec.md §3). It lives outside the manifest and does not affect model
// identity.
type LinksFile struct {
	URLs map[string][]string `toml:"urls"`
}

// ParseLinksFile parses the TOML-formatted LINKS file contents.
func ParseLinksFile(data []byte) (*LinksFile, error) {
	var lf LinksFile
	if err := toml.Unmarshal(data, &lf); err != nil {
		return nil, cartonerr.Wrap(cartonerr.KindFormat, "parsing LINKS", err)
	}
	if lf.URLs == nil {
		lf.URLs = map[string][]string{}
	}
	return &lf, nil
}

// URLsFor returns the candidate URLs for a content hash, or nil.
func (l *LinksFile) URLsFor(sha256Hex string) []string {
	return l.URLs[sha256Hex]
}
