package manifest

import (
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/carton-run/carton/internal/cartonerr"
	"github.com/carton-run/carton/pkg/types"
)

// SupportedSpecVersion is the only carton.toml spec version this core
// understands (spec.md §3).
const SupportedSpecVersion = 1

// rawCartonToml mirrors carton.toml's on-disk shape. Unknown optional
// fields are ignored by go-toml/v2's default decode behavior; the required
// spec_version and runner.runner_name are checked explicitly in
// ParseCartonToml.
type rawCartonToml struct {
	SpecVersion uint64        `toml:"spec_version"`
	Package     rawPackage    `toml:"package"`
	Input       []rawTensor   `toml:"input"`
	Output      []rawTensor   `toml:"output"`
	Runner      rawRunner     `toml:"runner"`
	SelfTest    []rawSelfTest `toml:"self_test"`
	Example     []rawExample  `toml:"example"`
}

type rawPackage struct {
	Name              string   `toml:"name"`
	ShortDescription  string   `toml:"short_description"`
	Description       string   `toml:"description"`
	License           string   `toml:"license"`
	Repository        string   `toml:"repository"`
	Homepage          string   `toml:"homepage"`
	RequiredPlatforms []string `toml:"required_platforms"`
}

type rawTensor struct {
	Name         string   `toml:"name"`
	DType        string   `toml:"dtype"`
	ShapeKind    string   `toml:"shape_kind"` // "any" | "symbolic_whole" | "sequence"
	ShapeSymbol  string   `toml:"shape_symbol"`
	Dims         []string `toml:"dims"`
	Description  string   `toml:"description"`
	InternalName string   `toml:"internal_name"`
}

type rawRunner struct {
	RunnerName               string         `toml:"runner_name"`
	RequiredFrameworkVersion string         `toml:"required_framework_version"`
	RunnerCompatVersion      uint64         `toml:"runner_compat_version"`
	Opts                     map[string]any `toml:"opts"`
}

type rawSelfTest struct {
	Name        string            `toml:"name"`
	Description string            `toml:"description"`
	Inputs      map[string]string `toml:"inputs"`
	ExpectedOut map[string]string `toml:"expected_out"`
}

type rawExample struct {
	Name        string            `toml:"name"`
	Description string            `toml:"description"`
	Inputs      map[string]string `toml:"inputs"`
	SampleOut   map[string]string `toml:"sample_out"`
}

// ParseCartonToml decodes and validates a carton.toml document.
func ParseCartonToml(data []byte) (*types.CartonInfo, error) {
	var raw rawCartonToml
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, cartonerr.Wrap(cartonerr.KindFormat, "parsing carton.toml", err)
	}
	if raw.SpecVersion != SupportedSpecVersion {
		return nil, cartonerr.New(cartonerr.KindFormatUnsupportedSpec, "unsupported carton.toml spec_version")
	}
	if strings.TrimSpace(raw.Runner.RunnerName) == "" {
		return nil, cartonerr.New(cartonerr.KindFormat, "carton.toml missing required field runner.runner_name")
	}

	inputs, err := decodeTensors(raw.Input)
	if err != nil {
		return nil, err
	}
	outputs, err := decodeTensors(raw.Output)
	if err != nil {
		return nil, err
	}
	if err := validateSymbolBinding(append(append([]types.TensorSpec{}, inputs...), outputs...)); err != nil {
		return nil, err
	}

	opts := make(map[string]types.RunnerOpt, len(raw.Runner.Opts))
	for k, v := range raw.Runner.Opts {
		opt, err := decodeRunnerOpt(v)
		if err != nil {
			return nil, cartonerr.Wrap(cartonerr.KindFormat, "runner opt "+k, err)
		}
		opts[k] = opt
	}

	info := &types.CartonInfo{
		SpecVersion:       raw.SpecVersion,
		ModelName:         raw.Package.Name,
		ShortDescription:  raw.Package.ShortDescription,
		ModelDescription:  raw.Package.Description,
		License:           raw.Package.License,
		Repository:        raw.Package.Repository,
		Homepage:          raw.Package.Homepage,
		RequiredPlatforms: raw.Package.RequiredPlatforms,
		Inputs:            inputs,
		Outputs:           outputs,
		Runner: types.RunnerRequirement{
			RunnerName:               raw.Runner.RunnerName,
			RequiredFrameworkVersion: raw.Runner.RequiredFrameworkVersion,
			RunnerCompatVersion:      raw.Runner.RunnerCompatVersion,
			Opts:                     opts,
		},
	}
	for _, st := range raw.SelfTest {
		info.SelfTests = append(info.SelfTests, types.SelfTest{
			Name: st.Name, Description: st.Description,
			Inputs: st.Inputs, ExpectedOut: st.ExpectedOut,
		})
	}
	for _, ex := range raw.Example {
		info.Examples = append(info.Examples, types.Example{
			Name: ex.Name, Description: ex.Description,
			Inputs: ex.Inputs, SampleOut: ex.SampleOut,
		})
	}
	return info, nil
}

func decodeRunnerOpt(v any) (types.RunnerOpt, error) {
	switch t := v.(type) {
	case int64:
		return types.RunnerOptFromInt(t), nil
	case float64:
		return types.RunnerOptFromFloat(t), nil
	case string:
		return types.RunnerOptFromString(t), nil
	case bool:
		return types.RunnerOptFromBool(t), nil
	default:
		return types.RunnerOpt{}, cartonerr.New(cartonerr.KindFormat, "unsupported runner opt type")
	}
}

func decodeTensors(raw []rawTensor) ([]types.TensorSpec, error) {
	out := make([]types.TensorSpec, 0, len(raw))
	for _, r := range raw {
		dtype, err := parseDType(r.DType)
		if err != nil {
			return nil, err
		}
		shape, err := decodeShapeKind(r)
		if err != nil {
			return nil, err
		}
		out = append(out, types.TensorSpec{
			Name: r.Name, DType: dtype, Shape: shape,
			Description: r.Description, InternalName: r.InternalName,
		})
	}
	return out, nil
}

func parseDType(s string) (types.DType, error) {
	switch s {
	case "float32":
		return types.DTypeFloat32, nil
	case "float64":
		return types.DTypeFloat64, nil
	case "string":
		return types.DTypeString, nil
	case "int8":
		return types.DTypeInt8, nil
	case "int16":
		return types.DTypeInt16, nil
	case "int32":
		return types.DTypeInt32, nil
	case "int64":
		return types.DTypeInt64, nil
	case "uint8":
		return types.DTypeUint8, nil
	case "uint16":
		return types.DTypeUint16, nil
	case "uint32":
		return types.DTypeUint32, nil
	case "uint64":
		return types.DTypeUint64, nil
	case "nested":
		return types.DTypeNested, nil
	default:
		return 0, cartonerr.New(cartonerr.KindFormat, "unknown dtype: "+s)
	}
}

// decodeShapeKind decodes r.ShapeKind/ShapeSymbol/Dims into a ShapeKind.
// Each dims entry is either "any" (DimAny), a base-10 integer (DimFixed),
// or any other string, interpreted as a symbol name (including the
// reserved "*", which rebinds independently at every occurrence).
func decodeShapeKind(r rawTensor) (types.ShapeKind, error) {
	switch r.ShapeKind {
	case "", "any":
		return types.ShapeKind{Tag: types.ShapeAny}, nil
	case "symbolic_whole":
		if r.ShapeSymbol == "" {
			return types.ShapeKind{}, cartonerr.New(cartonerr.KindFormat, "symbolic_whole shape requires shape_symbol")
		}
		return types.ShapeKind{Tag: types.ShapeSymbolicWhole, WholeSymbol: r.ShapeSymbol}, nil
	case "sequence":
		dims := make([]types.ShapeDim, 0, len(r.Dims))
		for _, d := range r.Dims {
			switch {
			case d == "any":
				dims = append(dims, types.ShapeDim{Kind: types.DimAny})
			default:
				if n, err := strconv.ParseUint(d, 10, 64); err == nil {
					dims = append(dims, types.ShapeDim{Kind: types.DimFixed, Fixed: n})
				} else {
					dims = append(dims, types.ShapeDim{Kind: types.DimSymbol, Symbol: d})
				}
			}
		}
		return types.ShapeKind{Tag: types.ShapeSequence, Dims: dims}, nil
	default:
		return types.ShapeKind{}, cartonerr.New(cartonerr.KindFormat, "unknown shape_kind: "+r.ShapeKind)
	}
}

// validateSymbolBinding rejects a model in which two (non-"*") symbol
// names in sequence shapes differ only by case, a common authoring
// mistake. Kept intentionally light —
// most of the enforcement happens at infer time against actual shapes
// (see internal/orchestrator).
func validateSymbolBinding(specs []types.TensorSpec) error {
	seen := map[string]string{}
	for _, s := range specs {
		if s.Shape.Tag != types.ShapeSequence {
			continue
		}
		for _, d := range s.Shape.Dims {
			if d.Kind != types.DimSymbol || d.Symbol == types.AnySymbol {
				continue
			}
			lower := strings.ToLower(d.Symbol)
			if prev, ok := seen[lower]; ok && prev != d.Symbol {
				return cartonerr.New(cartonerr.KindFormat, "symbol names differ only by case: "+prev+" vs "+d.Symbol)
			}
			seen[lower] = d.Symbol
		}
	}
	return nil
}
