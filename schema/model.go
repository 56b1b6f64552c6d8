// Package schema describes compiled struct/enum/interface definitions the
// way a schema compiler's "code generator request" would (§4.G). Parsing a
// textual schema language into this model is out of scope (§1's non-goal on
// an IDL frontend); callers build a *CodeGeneratorRequest programmatically,
// the same shape a real frontend would hand to a backend like codegen/golang.
package schema

// Kind identifies a field or list element's primitive shape.
type Kind uint8

const (
	KindVoid Kind = iota
	KindBool
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindUint8
	KindUint16
	KindUint32
	KindUint64
	KindFloat32
	KindFloat64
	KindText
	KindData
	KindList
	KindStruct
	KindEnum
	KindInterface
	KindAnyPointer
)

// IsPointer reports whether a field of this kind lives in a struct's
// pointer section rather than its data section.
func (k Kind) IsPointer() bool {
	switch k {
	case KindText, KindData, KindList, KindStruct, KindInterface, KindAnyPointer:
		return true
	}
	return false
}

// Type fully describes a field's or list element's type.
type Type struct {
	Kind Kind
	// Elem describes the element type when Kind == KindList.
	Elem *Type
	// NodeID references the Node this type names when Kind is
	// KindStruct, KindEnum, or KindInterface.
	NodeID uint64
}

// Field is one member of a struct Node.
type Field struct {
	Name    string
	GoName  string
	Ordinal uint16
	Type    Type

	// Offset is a bit offset into the data section for scalar kinds, or a
	// pointer-slot index for pointer kinds. Assigned by ComputeLayout.
	Offset uint32

	// DefaultBits is the field's default value, as raw bits XORed into
	// the stored representation (§4.C). Unused for pointer kinds.
	DefaultBits uint64

	// InUnion and DiscriminantValue place this field inside the Node's
	// (at most one) unnamed union.
	InUnion           bool
	DiscriminantValue uint16
}

// Enumerant is one value of an Enum node.
type Enumerant struct {
	Name   string
	GoName string
}

// Method is one entry in an Interface node's method table.
type Method struct {
	Name        string
	GoName      string
	Ordinal     uint16
	ParamsType  uint64
	ResultsType uint64
}

// NodeKind distinguishes what a Node declares.
type NodeKind uint8

const (
	NodeStruct NodeKind = iota
	NodeEnum
	NodeInterface
)

// Node is a single named declaration: a struct layout, an enum, or an
// interface (§4.G, §4.F for interfaces).
type Node struct {
	ID     uint64
	Name   string
	GoName string
	Kind   NodeKind

	// Struct nodes:
	Fields             []*Field
	DataWords          uint16
	PtrWords           uint16
	DiscriminantOffset uint16 // byte offset of the union tag; ignored if no field has InUnion set
	HasUnion           bool

	// Enum nodes:
	Enumerants []Enumerant

	// Interface nodes:
	Methods []Method
}

// RequestedFile is one compilation unit: the Nodes that should be rendered
// together into a single generated source file.
type RequestedFile struct {
	ID        uint64
	Filename  string
	GoPackage string
	Nodes     []*Node
}

// CodeGeneratorRequest is the root input to a language backend (§4.G),
// mirroring the role of capnp's own generated compiler-interface struct
// without requiring an actual IDL parser to produce one.
type CodeGeneratorRequest struct {
	RequestedFiles []RequestedFile
}
