// Package manifest parses and validates the MANIFEST file, carton.toml
// descriptor, and tensor_data index (spec.md §4.4).
package manifest

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/carton-run/carton/internal/cartonerr"
)

// Manifest is the parsed sorted MANIFEST file: path -> hex sha256.
// It never lists MANIFEST or LINKS themselves (spec.md §3).
type Manifest struct {
	Entries map[string]string
	// SHA256 is the sha256 of the raw MANIFEST bytes: the model identity.
	SHA256 string
}

// Parse validates the MANIFEST invariants (spec.md §3): each path appears
// exactly once, entries are in lexicographic order, and every non-empty
// line has the form "path=hash". The hash is lower-cased; its format is
// not checked.
func Parse(raw []byte) (*Manifest, error) {
	sum := sha256.Sum256(raw)

	entries := make(map[string]string)
	var lastPath string
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		idx := strings.LastIndexByte(line, '=')
		if idx < 0 {
			return nil, cartonerr.New(cartonerr.KindFormatBadManifest, "malformed MANIFEST line: "+line)
		}
		p, hash := line[:idx], line[idx+1:]
		if p == "MANIFEST" || p == "LINKS" {
			return nil, cartonerr.New(cartonerr.KindFormatBadManifest, "MANIFEST must not list itself or LINKS")
		}
		if _, dup := entries[p]; dup {
			return nil, cartonerr.New(cartonerr.KindFormatBadManifest, "duplicate MANIFEST path: "+p)
		}
		if !first && p <= lastPath {
			return nil, cartonerr.New(cartonerr.KindFormatBadManifest, "MANIFEST is not in lexicographic order at: "+p)
		}
		first = false
		lastPath = p
		entries[p] = strings.ToLower(hash)
	}
	if err := scanner.Err(); err != nil {
		return nil, cartonerr.Wrap(cartonerr.KindFormatBadManifest, "reading MANIFEST", err)
	}
	return &Manifest{Entries: entries, SHA256: hex.EncodeToString(sum[:])}, nil
}

// Build serializes entries into a sorted MANIFEST file and returns a
// Manifest holding the entries and the sha256 of that file (the model
// identity); Bytes reproduces the serialized file.
func Build(entries map[string]string) *Manifest {
	paths := make([]string, 0, len(entries))
	for p := range entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var buf bytes.Buffer
	for _, p := range paths {
		buf.WriteString(p)
		buf.WriteByte('=')
		buf.WriteString(strings.ToLower(entries[p]))
		buf.WriteByte('\n')
	}
	sum := sha256.Sum256(buf.Bytes())
	return &Manifest{Entries: entries, SHA256: hex.EncodeToString(sum[:])}
}

// Bytes re-serializes the manifest deterministically (sorted, one
// "path=hash" line per entry).
func (m *Manifest) Bytes() []byte {
	paths := make([]string, 0, len(m.Entries))
	for p := range m.Entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	var buf bytes.Buffer
	for _, p := range paths {
		buf.WriteString(p)
		buf.WriteByte('=')
		buf.WriteString(strings.ToLower(m.Entries[p]))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}
