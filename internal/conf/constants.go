package conf

// HeaderLength - Length of the database file header
const HeaderLength int64 = 256

// MagicData - Signature at the start of every database file
const MagicData string = "GoHashDB\x00v1.0"

// MagicOffset - Header offset to the signature - 16 bytes
const MagicOffset int64 = 0

// MagicLength - Number of bytes reserved for the signature
const MagicLength int64 = 16

// TypeOffset - Header offset to the database type - 1 byte
const TypeOffset int64 = 16

// FlagsOffset - Header offset to the additional flags - 1 byte
const FlagsOffset int64 = 17

// APowOffset - Header offset to the alignment power - 1 byte
const APowOffset int64 = 18

// FPowOffset - Header offset to the free block pool power - 1 byte
const FPowOffset int64 = 19

// OptsOffset - Header offset to the options bitmask - 1 byte
const OptsOffset int64 = 20

// HashOffset - Header offset to the internal hash algorithm flag - 1 byte
const HashOffset int64 = 21

// BNumOffset - Header offset to the number of buckets - 8 bytes
const BNumOffset int64 = 24

// RNumOffset - Header offset to the number of records - 8 bytes
const RNumOffset int64 = 32

// FSizOffset - Header offset to the file size - 8 bytes
const FSizOffset int64 = 40

// FRecOffset - Header offset to the offset of the first record - 8 bytes
const FRecOffset int64 = 48

// InodeOffset - Header offset to the inode snapshot - 8 bytes
const InodeOffset int64 = 56

// MTimeOffset - Header offset to the modification time snapshot - 8 bytes
const MTimeOffset int64 = 64

// FBPNumOffset - Header offset to the number of persisted free blocks - 8 bytes
const FBPNumOffset int64 = 72

// OpaqueOffset - Header offset to the opaque user field - 128 bytes
const OpaqueOffset int64 = 128

// OpaqueLength - Size of the opaque user field
const OpaqueLength int64 = 128

// TypeHash - Database type tag for a hash database
const TypeHash uint8 = 1

// FlagOpen - The file is, or was not properly closed by, a writer
const FlagOpen uint8 = 1 << 0

// FlagFatal - The file has a fatal error and needs repair
const FlagFatal uint8 = 1 << 1

// FlagTran - A transaction was in flight (dirty flag)
const FlagTran uint8 = 1 << 2

// FreeBlockEntryLength - Length of one persisted free block pool entry
const FreeBlockEntryLength int64 = 16

// DefaultBNum - Default number of buckets
const DefaultBNum int64 = 131071

// DefaultAPow - Default alignment power
const DefaultAPow uint8 = 4

// DefaultFPow - Default free block pool power
const DefaultFPow uint8 = 10

// MaxAPow - Highest permitted alignment power
const MaxAPow uint8 = 16

// MaxFPow - Highest permitted free block pool power
const MaxFPow uint8 = 20

// MinOptimizeBNum - Lowest bucket count chosen by an optimization without explicit bucket count
const MinOptimizeBNum int64 = 1031
