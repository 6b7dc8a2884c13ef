package hashfunc

// HashAlgorithm - Interface that permits an implementation using the HashDB to supply a custom bucket
// selection algorithm suited for its particular distribution of keys.
type HashAlgorithm interface {
	// SetTableSize - Sets the table size for the hash algorithm.
	// It is called both when creating a new database file and when opening an existing one. Hence, if a custom
	// hash algorithm is supplied that implements this interface and the instance is already having a table size, it
	// will be overwritten by the number of buckets that is recorded in the database file header.
	//   - tableSize is the number of buckets the database file will address
	SetTableSize(tableSize int64)

	// GetTableSize - Returns the table size the implemented hash functions are supporting
	GetTableSize() int64

	// HashFunc1 - Given key it generates an index (bucket) between 0 and table size - 1
	// Any number returned outside the table size (0 -> table size - 1) will result in an error down stream.
	HashFunc1(key []byte) int64

	// HashFunc2 - Given key it generates the one byte hash fragment stored in each record cell.
	// The fragment is compared before the key itself when walking a bucket chain, so it should be independent
	// of the value returned from HashFunc1.
	HashFunc2(key []byte) uint8
}
