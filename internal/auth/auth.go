// Package auth computes the credential scrambles for the MySQL
// authentication plugins the driver supports.
package auth

import (
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
)

// Plugin names accepted by Scramble.
const (
	NativePassword = "mysql_native_password"
	CachingSHA2    = "caching_sha2_password"
)

// Scramble hashes password against the server seed for the given
// plugin. An empty password always produces an empty response.
func Scramble(plugin string, seed []byte, password string) ([]byte, error) {
	if password == "" {
		return nil, nil
	}
	switch plugin {
	case NativePassword, "":
		return nativePassword(seed, []byte(password)), nil
	case CachingSHA2:
		return cachingSHA2(seed, []byte(password)), nil
	default:
		return nil, fmt.Errorf("unsupported auth plugin %q", plugin)
	}
}

// nativePassword computes
// SHA1(password) XOR SHA1(seed + SHA1(SHA1(password))).
func nativePassword(seed, password []byte) []byte {
	h := sha1.New()
	h.Write(password)
	stage1 := h.Sum(nil)

	h.Reset()
	h.Write(stage1)
	stage2 := h.Sum(nil)

	h.Reset()
	h.Write(seed)
	h.Write(stage2)
	token := h.Sum(nil)

	for i := range token {
		token[i] ^= stage1[i]
	}
	return token
}

// cachingSHA2 computes the fast-path scramble
// XOR(SHA256(password), SHA256(SHA256(SHA256(password)) + seed)).
func cachingSHA2(seed, password []byte) []byte {
	h := sha256.New()
	h.Write(password)
	stage1 := h.Sum(nil)

	h.Reset()
	h.Write(stage1)
	stage2 := h.Sum(nil)

	h.Reset()
	h.Write(stage2)
	h.Write(seed)
	token := h.Sum(nil)

	for i := range token {
		token[i] ^= stage1[i]
	}
	return token
}
