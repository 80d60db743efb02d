package settlement

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common"
)

// normalize canonicalizes an address string so map lookups are insensitive to
// case and checksum form.
func normalize(addr string) string {
	return common.HexToAddress(addr).Hex()
}

// decodeRecipient pulls the recipient address back out of transfer(to,amount)
// calldata. Returns false for anything that is not an ERC-20 transfer call.
func decodeRecipient(data []byte) (string, bool) {
	if len(data) != 4+32+32 || !bytes.Equal(data[:4], transferSelector) {
		return "", false
	}
	return common.BytesToAddress(data[16:36]).Hex(), true
}
