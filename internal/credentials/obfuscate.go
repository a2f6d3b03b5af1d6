package credentials

import "encoding/base64"

// xorKey is the rolling key for at-rest obfuscation. This is best-effort
// masking against casual inspection of the storage file, not cryptographic
// confidentiality: the storage medium is inside the trust boundary and the
// key necessarily ships with the binary.
var xorKey = []byte("repo-review-dashboard")

func obfuscate(secret string) string {
	b := []byte(secret)
	for i := range b {
		b[i] ^= xorKey[i%len(xorKey)]
	}
	return base64.StdEncoding.EncodeToString(b)
}

func deobfuscate(stored string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", err
	}
	for i := range b {
		b[i] ^= xorKey[i%len(xorKey)]
	}
	return string(b), nil
}
