// Package crc implements the checksum used by the Ogg container format.
//
// Ogg's CRC-32 is not the familiar IEEE/zlib variant: it uses polynomial
// 0x04C11DB7 with no bit reflection, an initial value of zero and no final
// XOR. The standard library's hash/crc32 package only exposes reflected
// polynomials, so this is hand-rolled the same way the reference Ogg/Opus
// tooling in this codebase's lineage does it.
package crc

// table is the 256-entry lookup table for the Ogg CRC-32 polynomial.
var table [256]uint32

func init() {
	const poly = 0x04C11DB7
	for i := 0; i < 256; i++ {
		r := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if r&0x80000000 != 0 {
				r = (r << 1) ^ poly
			} else {
				r <<= 1
			}
		}
		table[i] = r
	}
}

// Checksum computes the Ogg CRC-32 of data, starting from zero.
func Checksum(data []byte) uint32 {
	return Update(0, data)
}

// Update folds data into an in-progress checksum, so callers can feed a page
// header, segment table and segment payloads incrementally.
func Update(crc uint32, data []byte) uint32 {
	for _, b := range data {
		crc = ((crc & 0x00FFFFFF) << 8) ^ table[byte(crc>>24)^b]
	}
	return crc
}
