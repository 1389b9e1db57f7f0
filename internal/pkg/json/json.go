//go:build amd64 || arm64

package json // Package json provides a unified interface for JSON encoding and decoding operations

import (
	"github.com/bytedance/sonic"
)

const Library = "github.com/bytedance/sonic"

// api is the Sonic configuration used on AMD64 and ARM64, matching encoding/json semantics.
var api = sonic.ConfigStd

// Marshal encodes v into JSON using the high-performance Sonic encoder
func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

// Unmarshal decodes JSON data into v using the high-performance Sonic decoder
func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}
