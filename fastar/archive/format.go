// Package archive encodes an index.Model into a single relocation-free byte
// buffer and reads it back in place.
//
// Every reference inside the buffer is a u32 byte offset from the start of
// the buffer, so the bytes stay valid when copied, mapped at another address
// or shared between processes. All integers are little endian.
//
//	header        64 bytes, see the hdr* offsets below
//	contig table  contigCount * 40 bytes, .fai order
//	name table    contigCount * u32 contig indices, sorted by name
//	block table   blockCount * 16 bytes, 8-byte aligned
//	string pool   contig names, then the identity tag
package archive

import "math"

const (
	// Magic identifies an archive buffer.
	Magic = "FASTARIX"
	// Version is the current archive layout version.
	Version uint32 = 1

	HeaderSize     = 64
	ContigSize     = 40
	NameIndexSize  = 4
	BlockEntrySize = 16
)

// Header field offsets
const (
	hdrMagic        = 0
	hdrVersion      = 8
	hdrContigCount  = 12
	hdrBlockCount   = 16
	hdrContigTable  = 20
	hdrNameTable    = 24
	hdrBlockTable   = 28
	hdrStringsOff   = 32
	hdrStringsLen   = 36
	hdrIdentityOff  = 40
	hdrIdentityLen  = 44
	hdrTotalLen     = 48
	hdrReservedFrom = 52
)

// Contig entry field offsets
const (
	ctgNameOff   = 0
	ctgNameLen   = 4
	ctgLength    = 8
	ctgOffset    = 16
	ctgLineBases = 24
	ctgLineWidth = 32
)

// maxOffset is the largest value a u32 reference can hold. Tests lower it to
// exercise overflow handling.
var maxOffset uint64 = math.MaxUint32
