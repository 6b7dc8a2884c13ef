package codecfunc

// Codec - Interface that permits an implementation using the HashDB to supply a custom transformation of
// stored values, for instance an own compression or encryption scheme.
// It is only used when the database file is created with the TExCodec option.
type Codec interface {
	// Encode - Transforms a value before it is written to the record region
	Encode(value []byte) ([]byte, error)

	// Decode - Reverses Encode for a value read from the record region
	Decode(stored []byte) ([]byte, error)
}
