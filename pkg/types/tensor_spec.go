package types

import "fmt"

// DType enumerates the tensor element types the core understands.
type DType int

const (
	DTypeFloat32 DType = iota
	DTypeFloat64
	DTypeString
	DTypeInt8
	DTypeInt16
	DTypeInt32
	DTypeInt64
	DTypeUint8
	DTypeUint16
	DTypeUint32
	DTypeUint64
	DTypeNested
)

func (d DType) String() string {
	switch d {
	case DTypeFloat32:
		return "float32"
	case DTypeFloat64:
		return "float64"
	case DTypeString:
		return "string"
	case DTypeInt8:
		return "int8"
	case DTypeInt16:
		return "int16"
	case DTypeInt32:
		return "int32"
	case DTypeInt64:
		return "int64"
	case DTypeUint8:
		return "uint8"
	case DTypeUint16:
		return "uint16"
	case DTypeUint32:
		return "uint32"
	case DTypeUint64:
		return "uint64"
	case DTypeNested:
		return "nested"
	default:
		return fmt.Sprintf("dtype(%d)", int(d))
	}
}

// ElemSize returns the width in bytes of one element for fixed-width
// numeric dtypes. It panics for String and Nested, which have no fixed
// element width.
func (d DType) ElemSize() int {
	switch d {
	case DTypeFloat32, DTypeInt32, DTypeUint32:
		return 4
	case DTypeFloat64, DTypeInt64, DTypeUint64:
		return 8
	case DTypeInt8, DTypeUint8:
		return 1
	case DTypeInt16, DTypeUint16:
		return 2
	default:
		panic(fmt.Sprintf("dtype %s has no fixed element size", d))
	}
}

// ShapeDimKind distinguishes the three kinds of shape dimension entries.
type ShapeDimKind int

const (
	DimAny ShapeDimKind = iota
	DimFixed
	DimSymbol
)

// ShapeDim is one entry of a Sequence-kind shape.
type ShapeDim struct {
	Kind   ShapeDimKind
	Fixed  uint64
	Symbol string
}

// AnySymbol is the reserved symbol that rebinds independently at every
// occurrence, instead of being constrained to a single value across a
// model's tensor specs.
const AnySymbol = "*"

// ShapeKindTag selects which shape constraint a TensorSpec carries.
type ShapeKindTag int

const (
	ShapeAny ShapeKindTag = iota
	ShapeSymbolicWhole
	ShapeSequence
)

// ShapeKind constrains the shape a tensor bound to a TensorSpec may take.
type ShapeKind struct {
	Tag ShapeKindTag

	// Set when Tag == ShapeSymbolicWhole: a single symbol standing for
	// the entire shape (e.g. a model that accepts any rank).
	WholeSymbol string

	// Set when Tag == ShapeSequence: one entry per dimension.
	Dims []ShapeDim
}

// TensorSpec describes one named input or output slot of a model.
type TensorSpec struct {
	Name         string
	DType        DType
	Shape        ShapeKind
	Description  string
	InternalName string
}
