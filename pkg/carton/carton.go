// Package carton is the public, in-process API described by the runner
// protocol: load a carton, run inference against it, and manage the
// runner registry, all without going through cartond's HTTP surface.
// cmd/cartonctl is a thin CLI over this package; cartond builds its HTTP
// surface on internal/manager instead.
package carton

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/carton-run/carton/internal/bytesource"
	"github.com/carton-run/carton/internal/cartonerr"
	"github.com/carton-run/carton/internal/container"
	"github.com/carton-run/carton/internal/manifest"
	"github.com/carton-run/carton/internal/orchestrator"
	"github.com/carton-run/carton/internal/registry"
	"github.com/carton-run/carton/pkg/types"
)

// Carton is a handle to the runner registry and loader; construct one with
// New and reuse it across Load/Pack/InstallRunner calls the way a caller
// reuses an http.Client.
type Carton struct {
	registry *registry.Registry
	loader   *orchestrator.Loader
}

// Option configures New.
type Option func(*options)

type options struct {
	log        zerolog.Logger
	runnerDir  string
	catalogURL string
	httpClient *http.Client
}

// WithLogger installs a structured logger used for registry discovery and
// runner spawn/lifecycle events.
func WithLogger(log zerolog.Logger) Option { return func(o *options) { o.log = log } }

// WithRunnerDir overrides the runner install directory (default
// CARTON_RUNNER_DIR, or ~/.carton/runners).
func WithRunnerDir(dir string) Option { return func(o *options) { o.runnerDir = dir } }

// WithCatalogURL overrides the remote runner catalog used by InstallRunner.
func WithCatalogURL(url string) Option { return func(o *options) { o.catalogURL = url } }

// WithHTTPClient overrides the client used for catalog fetches and runner
// downloads.
func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.httpClient = c } }

func defaultRunnerDir() string {
	if v := os.Getenv("CARTON_RUNNER_DIR"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "runners"
	}
	return filepath.Join(home, ".carton", "runners")
}

// New builds a Carton, discovering already-installed runners under the
// configured runner directory.
func New(opts ...Option) (*Carton, error) {
	o := options{
		log:        zerolog.Nop(),
		runnerDir:  defaultRunnerDir(),
		catalogURL: os.Getenv("CARTON_CATALOG_URL"),
		httpClient: http.DefaultClient,
	}
	for _, fn := range opts {
		fn(&o)
	}
	reg := registry.New(o.log, o.runnerDir, o.catalogURL, o.httpClient)
	if err := reg.Reintern(); err != nil {
		return nil, err
	}
	return &Carton{registry: reg, loader: orchestrator.NewLoader(o.log, reg)}, nil
}

// Load resolves uri to a byte source, resolves+installs a matching runner,
// spawns it, and loads the carton, per spec.md §6.2's load(uri, load_opts).
func (c *Carton) Load(ctx context.Context, uri string, opts types.LoadOpts) (*Model, error) {
	src, err := openURI(ctx, uri)
	if err != nil {
		return nil, err
	}
	instance, err := c.loader.Load(ctx, src, opts)
	if err != nil {
		return nil, err
	}
	return &Model{instance: instance}, nil
}

// LoadUnpacked directly loads an unzipped source directory, skipping the
// carton container entirely — the local development path spec.md §6.2
// calls load_unpacked.
func (c *Carton) LoadUnpacked(ctx context.Context, dir string, opts types.LoadOpts) (*Model, error) {
	instance, err := c.loader.LoadUnpacked(ctx, dir, opts)
	if err != nil {
		return nil, err
	}
	return &Model{instance: instance}, nil
}

// Pack produces a carton file at outputPath from sourceDir and returns
// outputPath on success.
func (c *Carton) Pack(ctx context.Context, sourceDir, outputPath string, opts types.PackOpts) (string, error) {
	if err := c.loader.Pack(ctx, sourceDir, outputPath, opts); err != nil {
		return "", err
	}
	return outputPath, nil
}

// GetModelInfo reads only a carton's metadata (carton.toml), avoiding a
// full download of its linked tensor files.
func (c *Carton) GetModelInfo(ctx context.Context, uri string) (types.CartonInfo, error) {
	src, err := openURI(ctx, uri)
	if err != nil {
		return types.CartonInfo{}, err
	}
	defer src.Close()
	reader, err := container.Open(ctx, src)
	if err != nil {
		return types.CartonInfo{}, err
	}
	defer reader.Close()
	data, err := reader.ReadRange("carton.toml", 0, 1<<20)
	if err != nil {
		return types.CartonInfo{}, cartonerr.Wrap(cartonerr.KindFormatBadManifest, "reading carton.toml", err)
	}
	info, err := manifest.ParseCartonToml(data)
	if err != nil {
		return types.CartonInfo{}, err
	}
	return *info, nil
}

// openURI dispatches a caller-supplied URI to the matching byte source
// backend: a bare path or file:// URL is local, http(s):// is fetched over
// HTTP, and s3:// is read from an S3-compatible object store bucket.
func openURI(ctx context.Context, uri string) (bytesource.ByteSource, error) {
	switch {
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return bytesource.OpenHTTP(ctx, uri, bytesource.WithClient(http.DefaultClient))
	case strings.HasPrefix(uri, "file://"):
		return bytesource.OpenLocal(strings.TrimPrefix(uri, "file://"))
	case strings.HasPrefix(uri, "s3://"):
		rest := strings.TrimPrefix(uri, "s3://")
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, cartonerr.New(cartonerr.KindByteSource, "s3:// uri must be s3://bucket/key")
		}
		endpoint := os.Getenv("CARTON_S3_ENDPOINT")
		if endpoint == "" {
			endpoint = "s3.amazonaws.com"
		}
		client, err := minio.New(endpoint, &minio.Options{
			Creds:  credentials.NewEnvMinio(),
			Secure: true,
		})
		if err != nil {
			return nil, cartonerr.Wrap(cartonerr.KindByteSource, "constructing object store client", err)
		}
		return bytesource.OpenObjectStore(ctx, client, parts[0], parts[1])
	default:
		return bytesource.OpenLocal(uri)
	}
}
