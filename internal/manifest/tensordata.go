package manifest

import (
	toml "github.com/pelletier/go-toml/v2"

	"github.com/carton-run/carton/internal/cartonerr"
	"github.com/carton-run/carton/pkg/types"
)

// TensorDataIndexPath is the well-known index file under tensor_data/.
const TensorDataIndexPath = "tensor_data/index.toml"

// TensorDataEntry describes one tensor blob referenced from
// tensor_data/index.toml (spec.md §4.4).
type TensorDataEntry struct {
	Name  string
	DType types.DType
	Shape []uint64
	// File is relative to tensor_data/. Numeric tensors point at a .bin
	// file (little-endian, row-major, contiguous); string tensors point
	// at a .toml file with a `data = [...]` array.
	File string
	// InnerNames is set for DTypeNested: names of inner tensors, which
	// must themselves be non-nested (spec.md §4.4).
	InnerNames []string
}

type rawTensorDataIndex struct {
	Tensor []rawTensorDataEntry `toml:"tensor"`
}

type rawTensorDataEntry struct {
	Name  string   `toml:"name"`
	DType string   `toml:"dtype"`
	Shape []uint64 `toml:"shape"`
	File  string   `toml:"file"`
	Inner []string `toml:"inner"`
}

// ParseTensorDataIndex parses tensor_data/index.toml.
func ParseTensorDataIndex(data []byte) ([]TensorDataEntry, error) {
	var raw rawTensorDataIndex
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, cartonerr.Wrap(cartonerr.KindFormat, "parsing tensor_data/index.toml", err)
	}
	out := make([]TensorDataEntry, 0, len(raw.Tensor))
	for _, t := range raw.Tensor {
		dtype, err := parseDType(t.DType)
		if err != nil {
			return nil, err
		}
		if dtype == types.DTypeNested && len(t.Inner) == 0 {
			return nil, cartonerr.New(cartonerr.KindFormat, "nested tensor "+t.Name+" lists no inner tensors")
		}
		out = append(out, TensorDataEntry{
			Name: t.Name, DType: dtype, Shape: t.Shape, File: t.File, InnerNames: t.Inner,
		})
	}
	return out, nil
}

// rawStringTensorFile is the shape of a per-tensor string blob TOML file.
type rawStringTensorFile struct {
	Data []string `toml:"data"`
}

// ParseStringTensorFile parses a string tensor's per-tensor TOML file.
func ParseStringTensorFile(data []byte) ([]string, error) {
	var raw rawStringTensorFile
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, cartonerr.Wrap(cartonerr.KindFormatTensorDecode, "parsing string tensor file", err)
	}
	return raw.Data, nil
}
