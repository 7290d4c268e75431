package api

import "bytes"

// Binarycmp is like bytes.Compare, with a partial variant that treats
// limit as a key prefix.
func Binarycmp(key, limit []byte, partial bool) int {
	if ln := len(limit); partial && ln < len(key) {
		return bytes.Compare(key[:ln], limit[:ln])
	}
	return bytes.Compare(key, limit)
}
