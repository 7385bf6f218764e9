package registry

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/carton-run/carton/internal/cartonerr"
	"github.com/carton-run/carton/pkg/types"
)

// Installer downloads, verifies, and extracts catalog runners under
// runnerDir, de-duplicating concurrent installs of the same catalog
// entry with a singleflight group (spec.md §4.6, §4.10, §8 scenario 4).
type Installer struct {
	client    *http.Client
	runnerDir string
	group     singleflight.Group
}

func NewInstaller(client *http.Client, runnerDir string) *Installer {
	if client == nil {
		client = http.DefaultClient
	}
	return &Installer{client: client, runnerDir: runnerDir}
}

// Install fetches every download in entry, verifies each against its
// sha256, and extracts it under a fresh subdirectory of runnerDir named
// after entry's identity. Concurrent Install calls for the same entry
// share one download+extract; followers block on the winner and receive
// its result.
func (in *Installer) Install(ctx context.Context, entry types.CatalogEntry) (*types.InstalledRunner, error) {
	id := CatalogEntryID(entry)
	v, err, _ := in.group.Do(id, func() (any, error) {
		return in.installOnce(ctx, entry, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.InstalledRunner), nil
}

func (in *Installer) installOnce(ctx context.Context, entry types.CatalogEntry, id string) (*types.InstalledRunner, error) {
	finalDir := filepath.Join(in.runnerDir, id)
	if st, err := os.Stat(finalDir); err == nil && st.IsDir() {
		// already installed by a prior process/run
		descs, err := parseRunnerToml(filepath.Join(finalDir, "runner.toml"))
		if err == nil && len(descs) > 0 {
			return &types.InstalledRunner{RunnerDescriptor: descs[0], InstallPath: finalDir}, nil
		}
	}

	tmpDir, err := os.MkdirTemp(in.runnerDir, "install-"+uuid.NewString()+"-")
	if err != nil {
		return nil, cartonerr.Wrap(cartonerr.KindInstallerExtract, "creating install temp dir", err)
	}
	defer os.RemoveAll(tmpDir) // no-op once renamed to finalDir

	for _, di := range entry.DownloadInfo {
		if err := in.fetchVerifyExtract(ctx, di, tmpDir); err != nil {
			return nil, err
		}
	}

	if err := os.Rename(tmpDir, finalDir); err != nil {
		return nil, cartonerr.Wrap(cartonerr.KindInstallerExtract, "finalizing runner install", err)
	}

	descs, err := parseRunnerToml(filepath.Join(finalDir, "runner.toml"))
	if err != nil || len(descs) == 0 {
		os.RemoveAll(finalDir)
		return nil, cartonerr.Wrap(cartonerr.KindInstallerExtract, "installed runner has no runner.toml at its root", err)
	}
	return &types.InstalledRunner{RunnerDescriptor: descs[0], InstallPath: finalDir}, nil
}

func (in *Installer) fetchVerifyExtract(ctx context.Context, di types.DownloadInfo, destDir string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, di.URL, nil)
	if err != nil {
		return cartonerr.Wrap(cartonerr.KindInstallerNetwork, "building download request", err)
	}
	resp, err := in.client.Do(req)
	if err != nil {
		return cartonerr.Wrap(cartonerr.KindInstallerNetwork, "downloading "+di.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return cartonerr.New(cartonerr.KindInstallerNetwork, "download returned non-200: "+di.URL)
	}

	archivePath := filepath.Join(destDir, filepath.Base(di.RelativePath)+".download")
	f, err := os.Create(archivePath)
	if err != nil {
		return cartonerr.Wrap(cartonerr.KindInstallerExtract, "creating download buffer", err)
	}
	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(f, hasher), resp.Body); err != nil {
		f.Close()
		return cartonerr.Wrap(cartonerr.KindInstallerNetwork, "streaming download", err)
	}
	f.Close()

	if got := hex.EncodeToString(hasher.Sum(nil)); got != di.SHA256 {
		return cartonerr.New(cartonerr.KindInstallerVerify, "sha256 mismatch for "+di.URL)
	}

	if err := extractZip(archivePath, filepath.Join(destDir, filepath.Dir(di.RelativePath))); err != nil {
		return cartonerr.Wrap(cartonerr.KindInstallerExtract, "extracting "+di.URL, err)
	}
	return nil
}

func extractZip(archivePath, destDir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}
	for _, f := range r.File {
		targetPath := filepath.Join(destDir, f.Name)
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(targetPath, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.OpenFile(targetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode())
		if err != nil {
			rc.Close()
			return err
		}
		_, copyErr := io.Copy(out, rc)
		rc.Close()
		out.Close()
		if copyErr != nil {
			return copyErr
		}
	}
	return nil
}
