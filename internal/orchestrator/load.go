package orchestrator

import (
	"context"
	"fmt"
	"runtime"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/carton-run/carton/internal/bytesource"
	"github.com/carton-run/carton/internal/cartonerr"
	"github.com/carton-run/carton/internal/container"
	"github.com/carton-run/carton/internal/ipc"
	"github.com/carton-run/carton/internal/manifest"
	"github.com/carton-run/carton/internal/overlayfs"
	"github.com/carton-run/carton/internal/registry"
	"github.com/carton-run/carton/internal/vfsrpc"
	"github.com/carton-run/carton/pkg/types"
)

// defaultFsToken identifies the single virtual filesystem mounted for a
// loaded model's own container; pack mode mounts a second, separate token
// for the source directory being packed.
const defaultFsToken = 1

// Instance is a loaded model: its container, mounted filesystem, and the
// runner subprocess that has it loaded in memory.
type Instance struct {
	log zerolog.Logger

	ManifestSHA256 string
	Info           types.CartonInfo

	reader  *container.Reader
	overlay *overlayfs.Overlay
	fsServer *vfsrpc.Server
	process *RunnerProcess

	stateCh chan StateChange
}

// Events returns a channel of state transitions for this instance's load,
// closed once the instance reaches Ready or Failed.
func (in *Instance) Events() <-chan StateChange { return in.stateCh }

// PID returns the runner subprocess's process id, or 0 before Spawning
// completes.
func (in *Instance) PID() int {
	if in.process == nil {
		return 0
	}
	return in.process.PID()
}

func (in *Instance) publish(s State, err error) {
	select {
	case in.stateCh <- StateChange{State: s, Err: err}:
	default:
	}
	if s == StateReady || s == StateFailed {
		close(in.stateCh)
	}
}

// Loader owns the runner registry and the binary directory runners are
// spawned from; it is shared by every Load call.
type Loader struct {
	log      zerolog.Logger
	Registry *registry.Registry
}

func NewLoader(log zerolog.Logger, reg *registry.Registry) *Loader {
	return &Loader{log: log, Registry: reg}
}

// Load drives a byte source through the full state machine (spec.md
// §4.9/§4.10): open the container, resolve+install a matching runner,
// spawn it, mount the model's virtual filesystem over IPC, and issue the
// Load RPC. Installing and Spawning each get one retry on a transient
// error (see isTransient) before the failure is surfaced. The handshake
// runs inside Spawn; a failed handshake is reported as
// KindRunnerIncompatible, which isTransient does not classify as
// transient, so a handshake failure is not retried.
func (l *Loader) Load(ctx context.Context, src bytesource.ByteSource, opts types.LoadOpts) (*Instance, error) {
	in := &Instance{log: l.log, stateCh: make(chan StateChange, 8)}

	in.publish(StateResolving, nil)
	reader, err := container.Open(ctx, src)
	if err != nil {
		in.publish(StateFailed, err)
		return nil, err
	}
	in.reader = reader

	manifestBytes, err := afero.ReadFile(reader, "MANIFEST")
	if err != nil {
		err = cartonerr.Wrap(cartonerr.KindFormatMissingEntry, "reading MANIFEST", err)
		in.publish(StateFailed, err)
		return nil, err
	}
	man, err := manifest.Parse(manifestBytes)
	if err != nil {
		in.publish(StateFailed, err)
		return nil, err
	}
	in.ManifestSHA256 = man.SHA256

	tomlBytes, err := afero.ReadFile(reader, "carton.toml")
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

	if err := checkPlatformSupported(info.RequiredPlatforms); err != nil {
		in.publish(StateFailed, err)
		return nil, err
	}

	req := registry.Request{
		RunnerName:               info.Runner.RunnerName,
		RunnerCompatVersion:      info.Runner.RunnerCompatVersion,
		RequiredFrameworkVersion: info.Runner.RequiredFrameworkVersion,
		PlatformTriple:           fmt.Sprintf("%s-%s", runtime.GOOS, runtime.GOARCH),
	}
	if opts.OverrideRunnerName != "" {
		req.RunnerName = opts.OverrideRunnerName
	}
	if opts.OverrideRequiredFrameworkVersion != "" {
		req.RequiredFrameworkVersion = opts.OverrideRequiredFrameworkVersion
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

	links, err := loadLinksFile(reader)
	if err != nil {
		in.publish(StateFailed, err)
		return nil, err
	}
	hashFS := overlayfs.NewHashFS(man.Entries, links, nil, l.log)
	in.overlay = overlayfs.New(reader, hashFS)

	in.publish(StateMounting, nil)
	in.fsServer = vfsrpc.NewServer(in.overlay, process.Channel)

	in.publish(StateLoading, nil)
	runnerOpts := info.Runner.Opts
	if opts.OverrideRunnerOpts != nil {
		runnerOpts = opts.OverrideRunnerOpts
	}
	visibleDevice, err := types.ParseDevice(opts.VisibleDevice, nil)
	if err != nil {
		visibleDevice = types.Device{Kind: types.DeviceCPU}
	}
	loadReq := ipc.LoadRequest{
		FsToken:                  defaultFsToken,
		RunnerName:               req.RunnerName,
		RequiredFrameworkVersion: req.RequiredFrameworkVersion,
		RunnerCompatVersion:      req.RunnerCompatVersion,
		RunnerOpts:               runnerOpts,
		VisibleDevice:            visibleDevice,
		CartonManifestHash:       man.SHA256,
	}
	if err := process.Channel.Call(ctx, ipc.ChannelRpc, ipc.KindLoad, loadReq, &ipc.EmptyResponse{}); err != nil {
		err = cartonerr.Wrap(cartonerr.KindModelLoadFailed, "runner rejected Load", err).WithModel(man.SHA256)
		in.publish(StateFailed, err)
		return nil, err
	}

	in.publish(StateReady, nil)
	return in, nil
}

// Close tears down the runner subprocess and releases the container.
func (in *Instance) Close() error {
	if in.process != nil {
		_ = in.process.Stop()
	}
	if in.fsServer != nil {
		in.fsServer.Close()
	}
	if in.reader != nil {
		return in.reader.Close()
	}
	return nil
}

// checkPlatformSupported enforces carton.toml's required_platforms
// against the platform this process is actually running on. An empty
// list means the carton claims no platform restriction.
func checkPlatformSupported(required []string) error {
	if len(required) == 0 {
		return nil
	}
	current := fmt.Sprintf("%s-%s", runtime.GOOS, runtime.GOARCH)
	for _, p := range required {
		if p == current {
			return nil
		}
	}
	return cartonerr.New(cartonerr.KindRegistryNoMatch,
		fmt.Sprintf("carton requires platforms %v, current platform is %s", required, current))
}

func (l *Loader) resolveWithRetry(ctx context.Context, in *Instance, req registry.Request) (*types.InstalledRunner, error) {
	in.publish(StateInstalling, nil)
	installed, err := l.Registry.Resolve(ctx, req)
	if err != nil && retryableStates[StateInstalling] && isTransient(err) {
		l.log.Warn().Err(err).Msg("runner resolve failed transiently, retrying once")
		installed, err = l.Registry.Resolve(ctx, req)
	}
	if err != nil {
		return nil, cartonerr.Wrap(cartonerr.KindRegistryNoMatch, "resolving runner", err)
	}
	return installed, nil
}

func (l *Loader) spawnWithRetry(ctx context.Context, in *Instance, binaryPath string) (*RunnerProcess, error) {
	in.publish(StateSpawning, nil)
	process, err := Spawn(ctx, l.log, binaryPath, nil)
	if err != nil && retryableStates[StateSpawning] && isTransient(err) {
		l.log.Warn().Err(err).Msg("runner spawn failed transiently, retrying once")
		process, err = Spawn(ctx, l.log, binaryPath, nil)
	}
	if err != nil {
		return nil, err
	}
	in.publish(StateHandshaking, nil)
	return process, nil
}

func loadLinksFile(reader *container.Reader) (*overlayfs.LinksFile, error) {
	if !reader.Has("LINKS") {
		return overlayfs.ParseLinksFile(nil)
	}
	data, err := afero.ReadFile(reader, "LINKS")
	if err != nil {
		return nil, cartonerr.Wrap(cartonerr.KindFormatMissingEntry, "reading LINKS", err)
	}
	return overlayfs.ParseLinksFile(data)
}
