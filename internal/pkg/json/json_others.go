//go:build !amd64 && !arm64

// This file is used when building for architectures Sonic does not support, utilizing the go-json library for JSON operations

package json // Package json provides a unified interface for JSON encoding and decoding operations

import (
	"github.com/goccy/go-json"
)

const Library = "github.com/goccy/go-json"

// Marshal encodes v into JSON using the go-json library
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal decodes JSON data into v using the go-json library
func Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
