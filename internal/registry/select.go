package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/carton-run/carton/internal/cartonerr"
	"github.com/carton-run/carton/pkg/types"
)

// Request is the (runner_name, runner_compat_version,
// required_framework_version, platform) tuple a load resolves against
// (spec.md §4.6 Selection).
type Request struct {
	RunnerName               string
	RunnerCompatVersion      uint64
	RequiredFrameworkVersion string
	PlatformTriple           string
}

func matches(req Request, d types.RunnerDescriptor) bool {
	if d.RunnerName != req.RunnerName {
		return false
	}
	if d.RunnerCompatVersion != req.RunnerCompatVersion {
		return false
	}
	if req.PlatformTriple != "" && d.PlatformTriple != "" && d.PlatformTriple != req.PlatformTriple {
		return false
	}
	if req.RequiredFrameworkVersion == "" {
		return true
	}
	constraint, err := semver.NewConstraint(req.RequiredFrameworkVersion)
	if err != nil {
		return false
	}
	v, err := semver.NewVersion(d.FrameworkVersion)
	if err != nil {
		return false
	}
	return constraint.Check(v)
}

// SelectLocal picks the best local candidate: latest release date, then
// newest framework version, among descriptors matching req.
func SelectLocal(req Request, installed []types.InstalledRunner) (*types.InstalledRunner, error) {
	var best *types.InstalledRunner
	var bestVer *semver.Version
	for i := range installed {
		d := installed[i].RunnerDescriptor
		if !matches(req, d) {
			continue
		}
		if best == nil {
			best = &installed[i]
			bestVer = parseVersionOrNil(d.FrameworkVersion)
			continue
		}
		if betterCandidate(d, best.RunnerDescriptor, &bestVer) {
			best = &installed[i]
		}
	}
	if best == nil {
		return nil, cartonerr.New(cartonerr.KindRegistryNoMatch, "no installed runner satisfies request")
	}
	return best, nil
}

// SelectRemote picks the best remote candidate from a catalog the same
// way SelectLocal does.
func SelectRemote(req Request, catalog *Catalog) (*types.CatalogEntry, error) {
	var best *types.CatalogEntry
	var bestVer *semver.Version
	for i := range catalog.Entries {
		d := catalog.Entries[i].RunnerDescriptor
		if !matches(req, d) {
			continue
		}
		if best == nil {
			best = &catalog.Entries[i]
			bestVer = parseVersionOrNil(d.FrameworkVersion)
			continue
		}
		if betterCandidate(d, best.RunnerDescriptor, &bestVer) {
			best = &catalog.Entries[i]
		}
	}
	if best == nil {
		return nil, cartonerr.New(cartonerr.KindRegistryNoMatch, "no catalog runner satisfies request")
	}
	return best, nil
}

// betterCandidate reports whether candidate should replace the current
// best: later release date wins; on a tie, newer framework version wins.
func betterCandidate(candidate, current types.RunnerDescriptor, currentVer **semver.Version) bool {
	if candidate.RunnerReleaseDate.After(current.RunnerReleaseDate) {
		*currentVer = parseVersionOrNil(candidate.FrameworkVersion)
		return true
	}
	if candidate.RunnerReleaseDate.Before(current.RunnerReleaseDate) {
		return false
	}
	cv := parseVersionOrNil(candidate.FrameworkVersion)
	if cv == nil {
		return false
	}
	if *currentVer == nil {
		*currentVer = cv
		return true
	}
	if cv.GreaterThan(*currentVer) {
		*currentVer = cv
		return true
	}
	return false
}

func parseVersionOrNil(s string) *semver.Version {
	v, err := semver.NewVersion(s)
	if err != nil {
		return nil
	}
	return v
}

// CatalogEntryID is the hash-over-sorted-(sha256,relative_path)-tuples
// identity spec.md §4.6 assigns each catalog row, used as the
// singleflight key when installing.
func CatalogEntryID(entry types.CatalogEntry) string {
	tuples := make([]string, 0, len(entry.DownloadInfo))
	for _, di := range entry.DownloadInfo {
		tuples = append(tuples, di.SHA256+"\x00"+di.RelativePath)
	}
	sort.Strings(tuples)
	h := sha256.New()
	for _, t := range tuples {
		h.Write([]byte(t))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
