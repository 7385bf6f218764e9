package orchestrator

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"

	"github.com/carton-run/carton/internal/cartonerr"
	"github.com/carton-run/carton/internal/ipc"
	"github.com/carton-run/carton/internal/manifest"
	"github.com/carton-run/carton/internal/overlayfs"
	"github.com/carton-run/carton/internal/registry"
	"github.com/carton-run/carton/internal/vfsrpc"
	"github.com/carton-run/carton/pkg/types"
)

// packFsToken is the virtual filesystem token for the user's source
// directory during Pack, distinct from defaultFsToken used when loading
// an already-packed container.
const packFsToken = 2

// Pack spawns the runner that matches info.Runner in pack mode, hands it
// a writable view of sourceDir over IPC, and asks it to stage a directory
// tree to be zipped into a carton. The returned carton is written to
// outputPath (spec.md §4.9 "Pack is the inverse...").
func (l *Loader) Pack(ctx context.Context, sourceDir, outputPath string, opts types.PackOpts) error {
	req := registry.Request{
		RunnerName:               opts.Info.Runner.RunnerName,
		RunnerCompatVersion:      opts.Info.Runner.RunnerCompatVersion,
		RequiredFrameworkVersion: opts.Info.Runner.RequiredFrameworkVersion,
		PlatformTriple:           fmt.Sprintf("%s-%s", runtime.GOOS, runtime.GOARCH),
	}

	installed, err := l.Registry.Resolve(ctx, req)
	if err != nil {
		return cartonerr.Wrap(cartonerr.KindRegistryNoMatch, "resolving runner for pack", err)
	}

	process, err := Spawn(ctx, l.log, installed.PathToBinary, []string{"--mode=pack"})
	if err != nil {
		return err
	}
	defer process.Stop()

	sourceFs := afero.NewBasePathFs(afero.NewOsFs(), sourceDir)
	server := vfsrpc.NewServer(sourceFs, process.Channel)
	defer server.Close()

	stagingDir, err := os.MkdirTemp("", "carton-pack-*")
	if err != nil {
		return cartonerr.Wrap(cartonerr.KindInstallerExtract, "creating pack staging dir", err)
	}
	defer os.RemoveAll(stagingDir)

	packReq := ipc.PackRequest{
		FsToken:        packFsToken,
		InputPath:      "/",
		TempOutputPath: stagingDir,
	}
	var packResp ipc.PackResponse
	if err := process.Channel.Call(ctx, ipc.ChannelRpc, ipc.KindPack, packReq, &packResp); err != nil {
		return cartonerr.Wrap(cartonerr.KindModelLoadFailed, "runner pack call failed", err)
	}

	return buildCarton(packResp.OutputPath, outputPath, opts)
}

// LoadUnpacked mounts dir directly as if it were a resolved container and
// proceeds from the Loading state, skipping Pack's zip step entirely
// (spec.md §4.9 "load_unpacked fuses the two").
func (l *Loader) LoadUnpacked(ctx context.Context, dir string, loadOpts types.LoadOpts) (*Instance, error) {
	in := &Instance{log: l.log, stateCh: make(chan StateChange, 8)}
	osFs := afero.NewBasePathFs(afero.NewOsFs(), dir)

	in.publish(StateResolving, nil)
	tomlBytes, err := afero.ReadFile(osFs, "carton.toml")
	if err != nil {
		err = cartonerr.Wrap(cartonerr.KindFormatMissingEntry, "reading carton.toml", err)
		in.publish(StateFailed, err)
		return nil, err
	}
	info, err := manifest.ParseCartonToml(tomlBytes)
	if err != nil {
		in.publish(StateFailed, err)
		return nil, err
	}
	in.Info = *info

	req := registry.Request{
		RunnerName:               info.Runner.RunnerName,
		RunnerCompatVersion:      info.Runner.RunnerCompatVersion,
		RequiredFrameworkVersion: info.Runner.RequiredFrameworkVersion,
		PlatformTriple:           fmt.Sprintf("%s-%s", runtime.GOOS, runtime.GOARCH),
	}
	if loadOpts.OverrideRunnerName != "" {
		req.RunnerName = loadOpts.OverrideRunnerName
	}

	in.publish(StateSelecting, nil)
	installed, err := l.resolveWithRetry(ctx, in, req)
	if err != nil {
		in.publish(StateFailed, err)
		return nil, err
	}

	process, err := l.spawnWithRetry(ctx, in, installed.PathToBinary)
	if err != nil {
		in.publish(StateFailed, err)
		return nil, err
	}
	in.process = process

	in.publish(StateMounting, nil)
	in.fsServer = vfsrpc.NewServer(osFs, process.Channel)

	in.publish(StateLoading, nil)
	visibleDevice, _ := types.ParseDevice(loadOpts.VisibleDevice, nil)
	loadReq := ipc.LoadRequest{
		FsToken:                  defaultFsToken,
		RunnerName:               req.RunnerName,
		RequiredFrameworkVersion: req.RequiredFrameworkVersion,
		RunnerCompatVersion:      req.RunnerCompatVersion,
		RunnerOpts:               info.Runner.Opts,
		VisibleDevice:            visibleDevice,
	}
	if err := process.Channel.Call(ctx, ipc.ChannelRpc, ipc.KindLoad, loadReq, &ipc.EmptyResponse{}); err != nil {
		err = cartonerr.Wrap(cartonerr.KindModelLoadFailed, "runner rejected Load", err)
		in.publish(StateFailed, err)
		return nil, err
	}

	in.publish(StateReady, nil)
	return in, nil
}

// buildCarton deterministically zips stagedDir's contents, computes the
// resulting MANIFEST, and writes the carton to outputPath. Entries are
// written in lexicographic path order with a fixed modtime so that
// packing the same staged tree twice produces byte-identical output.
func buildCarton(stagedDir, outputPath string, opts types.PackOpts) error {
	linked := make(map[string]types.LinkedFile, len(opts.LinkedFiles))
	for _, lf := range opts.LinkedFiles {
		linked[filepath.ToSlash(lf.Path)] = lf
	}

	var paths []string
	entries := make(map[string]string)
	linksTable := overlayfs.LinksFile{URLs: map[string][]string{}}

	err := filepath.WalkDir(stagedDir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(stagedDir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "MANIFEST" || rel == "LINKS" {
			return nil
		}
		sum, err := sha256File(p)
		if err != nil {
			return err
		}
		entries[rel] = sum
		if lf, ok := linked[rel]; ok {
			linksTable.URLs[sum] = lf.URLs
		} else {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return cartonerr.Wrap(cartonerr.KindFormat, "walking staged pack output", err)
	}
	sort.Strings(paths)

	man := manifest.Build(entries)

	out, err := os.Create(outputPath)
	if err != nil {
		return cartonerr.Wrap(cartonerr.KindInstallerExtract, "creating carton output file", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, rel := range paths {
		if err := writeZipEntry(zw, filepath.Join(stagedDir, rel), rel); err != nil {
			_ = zw.Close()
			return err
		}
	}
	if err := writeZipBytes(zw, "MANIFEST", man.Bytes()); err != nil {
		_ = zw.Close()
		return err
	}
	if len(linksTable.URLs) > 0 {
		linksBytes, err := toml.Marshal(linksTable)
		if err != nil {
			_ = zw.Close()
			return cartonerr.Wrap(cartonerr.KindFormat, "marshalling LINKS", err)
		}
		if err := writeZipBytes(zw, "LINKS", linksBytes); err != nil {
			_ = zw.Close()
			return err
		}
	}
	return zw.Close()
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeZipEntry(zw *zip.Writer, srcPath, zipPath string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return cartonerr.Wrap(cartonerr.KindInstallerExtract, "opening staged file "+srcPath, err)
	}
	defer f.Close()

	header := &zip.FileHeader{Name: zipPath, Method: zip.Deflate}
	header.SetModTime(zeroTime)
	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

func writeZipBytes(zw *zip.Writer, zipPath string, data []byte) error {
	header := &zip.FileHeader{Name: zipPath, Method: zip.Deflate}
	header.SetModTime(zeroTime)
	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// zeroTime is used for every zip entry's mod time so that repacking an
// identical staged tree is byte-for-byte reproducible.
var zeroTime = time.Unix(0, 0).UTC()
