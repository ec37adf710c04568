package walletkit

// fletcher16 computes the 16-bit Fletcher checksum used by Account
// serialization (§6.4). No pack library exposes this specific checksum, so
// it is hand-rolled against stdlib only; the algorithm itself is a handful
// of lines and has no meaningful "library" to reach for.
func fletcher16(data []byte) uint16 {
	var sum1, sum2 uint32
	for _, b := range data {
		sum1 = (sum1 + uint32(b)) % 255
		sum2 = (sum2 + sum1) % 255
	}
	return uint16(sum2<<8 | sum1)
}
