package segwire

// Discriminant is the 16-bit tag Cap'n Proto stores at a union's designated
// data-section offset to select its active field (§4.C). Generated code
// wraps this in a schema-specific Which() enum and uses Discriminant/
// SetDiscriminant at the byte offset the schema compiler assigned to the
// union's tag.
type Discriminant uint16

// Discriminant reads the union tag at byteOffset.
func (r StructReader) Discriminant(byteOffset uint16) Discriminant {
	return Discriminant(r.Uint16(byteOffset))
}

// SetDiscriminant writes the union tag at byteOffset.
func (b StructBuilder) SetDiscriminant(byteOffset uint16, tag Discriminant) {
	b.SetUint16(byteOffset, uint16(tag))
}
