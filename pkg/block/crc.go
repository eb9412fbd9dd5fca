package block

import "hash/crc32"

// castagnoli is the CRC32C table. hash/crc32 dispatches to the hardware
// CRC32 instruction for this polynomial on amd64 and arm64.
var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Checksum computes the CRC32C of data. seed chains a previous checksum for
// incremental computation; pass 0 to start fresh.
func Checksum(data []byte, seed uint32) uint32 {
	return crc32.Update(seed, castagnoli, data)
}
