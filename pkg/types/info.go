package types

// RunnerRequirement is the runner block of carton.toml: which runner
// this model was packed for, and the framework version range it needs.
type RunnerRequirement struct {
	RunnerName             string            `toml:"runner_name"`
	RequiredFrameworkVersion string          `toml:"required_framework_version"`
	RunnerCompatVersion    uint64            `toml:"runner_compat_version"`
	Opts                   map[string]RunnerOpt `toml:"-"`
}

// SelfTest is a runnable fixture bundled with a carton: known inputs and
// (optionally) the outputs a correct runner should produce.
type SelfTest struct {
	Name        string
	Description string
	Inputs      map[string]string // tensor name -> path within tensor_data/
	ExpectedOut map[string]string
}

// Example is a non-runnable fixture referencing tensor blobs or misc
// media, shown to users but never executed.
type Example struct {
	Name        string
	Description string
	Inputs      map[string]string
	SampleOut   map[string]string
}

// CartonInfo is the parsed carton.toml descriptor (spec.md §3).
type CartonInfo struct {
	SpecVersion       uint64
	ModelName         string
	ShortDescription  string
	ModelDescription  string
	License           string
	Repository        string
	Homepage          string
	RequiredPlatforms []string // target triples; empty means all platforms

	Inputs  []TensorSpec
	Outputs []TensorSpec

	SelfTests []SelfTest
	Examples  []Example

	Runner RunnerRequirement

	// MiscFiles lists normalized relative paths under misc/; presence in
	// the manifest/container is enough. ParseCartonToml leaves it empty,
	// and nothing else in this module sets it.
	MiscFiles []string
}

// CartonInfoWithExtras adds load-time context to CartonInfo.
type CartonInfoWithExtras struct {
	Info CartonInfo

	// ManifestSHA256 is the model identity; empty for unpacked models.
	ManifestSHA256 string
}

// LinkedFile is a file that pack() writes into LINKS instead of embedding.
type LinkedFile struct {
	Path  string
	URLs  []string
	SHA256 string
}

// PackOpts controls how pack() emits a carton file.
type PackOpts struct {
	Info CartonInfo

	// LinkedFiles are embedded as LINKS entries instead of being zipped
	// inline. If nil, everything is embedded.
	LinkedFiles []LinkedFile
}

// LoadOpts are the options accepted by Load/LoadUnpacked (spec.md §6.2).
type LoadOpts struct {
	OverrideRunnerName               string
	OverrideRequiredFrameworkVersion string
	OverrideRunnerOpts               map[string]RunnerOpt
	VisibleDevice                    string // "cpu" | index | uuid; see ParseDevice

	InstallTimeoutSeconds int
	LoadTimeoutSeconds    int
}
