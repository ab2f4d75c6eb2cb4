package allowlist

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"
)

const addressHexLength = 40

// IsAddress reports whether s is a valid Ethereum address: 40 hex digits with
// an optional 0x prefix. Single case addresses are accepted as is, mixed case
// addresses must carry a valid EIP-55 checksum.
func IsAddress(s string) bool {
	body, ok := addressBody(s)
	if !ok {
		return false
	}

	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return true
	}

	return checksumBody(body) == body
}

// ToChecksumAddress returns the 0x prefixed EIP-55 form of a valid address.
// It returns an InvalidAddressError otherwise.
func ToChecksumAddress(s string) (string, error) {
	if !IsAddress(s) {
		return "", InvalidAddressError(s)
	}
	body, _ := addressBody(s)
	return "0x" + checksumBody(body), nil
}

func addressBody(s string) (string, bool) {
	body := s
	if strings.HasPrefix(body, "0x") || strings.HasPrefix(body, "0X") {
		body = body[2:]
	}

	if len(body) != addressHexLength {
		return "", false
	}

	if _, err := hex.DecodeString(body); err != nil {
		return "", false
	}

	return body, true
}

func checksumBody(body string) string {
	lower := strings.ToLower(body)

	hasher := sha3.NewLegacyKeccak256()
	hasher.Write([]byte(lower))
	digest := hex.EncodeToString(hasher.Sum(nil))

	out := []byte(lower)
	for i, c := range out {
		if c < 'a' || c > 'f' {
			continue
		}
		if digest[i] >= '8' {
			out[i] = c - 'a' + 'A'
		}
	}

	return string(out)
}
