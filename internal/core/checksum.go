package core

import "math/bits"

// checksumLookup3 is Bob Jenkins' lookup3 hashlittle with an initial value
// of zero, the checksum HDF5 stores in v2 superblocks, v2 object headers,
// fractal heap blocks and v2 B-tree nodes.
func checksumLookup3(k []byte) uint32 {
	length := len(k)
	a := 0xdeadbeef + uint32(length) //nolint:gosec // G115: metadata blocks are small
	b, c := a, a

	for length > 12 {
		a += le32(k[0:4])
		b += le32(k[4:8])
		c += le32(k[8:12])
		a, b, c = lookup3Mix(a, b, c)
		length -= 12
		k = k[12:]
	}
	if length == 0 {
		return c
	}

	var tail [12]byte
	copy(tail[:], k[:length])
	a += le32(tail[0:4])
	b += le32(tail[4:8])
	c += le32(tail[8:12])
	_, _, c = lookup3Final(a, b, c)
	return c
}

// Checksum exposes the metadata checksum to the structures package.
func Checksum(data []byte) uint32 {
	return checksumLookup3(data)
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func lookup3Mix(a, b, c uint32) (uint32, uint32, uint32) {
	a -= c
	a ^= bits.RotateLeft32(c, 4)
	c += b
	b -= a
	b ^= bits.RotateLeft32(a, 6)
	a += c
	c -= b
	c ^= bits.RotateLeft32(b, 8)
	b += a
	a -= c
	a ^= bits.RotateLeft32(c, 16)
	c += b
	b -= a
	b ^= bits.RotateLeft32(a, 19)
	a += c
	c -= b
	c ^= bits.RotateLeft32(b, 4)
	b += a
	return a, b, c
}

func lookup3Final(a, b, c uint32) (uint32, uint32, uint32) {
	c ^= b
	c -= bits.RotateLeft32(b, 14)
	a ^= c
	a -= bits.RotateLeft32(c, 11)
	b ^= a
	b -= bits.RotateLeft32(a, 25)
	c ^= b
	c -= bits.RotateLeft32(b, 16)
	a ^= c
	a -= bits.RotateLeft32(c, 4)
	b ^= a
	b -= bits.RotateLeft32(a, 14)
	c ^= b
	c -= bits.RotateLeft32(b, 24)
	return a, b, c
}
