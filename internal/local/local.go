// Package local keeps the on-disk mirror of remote files.
package local

import (
	"net/url"
	"strings"
)

const (
	// BlobSuffix marks cache entries holding the bytes exactly as transmitted.
	BlobSuffix = ".blob"
	// LockSuffix marks cache entries recording a lock taken by this process.
	LockSuffix = ".lock"
	// TempSuffix marks scratch entries that are renamed into place once complete.
	TempSuffix = ".partial"
)

var reservedSuffixes = []string{BlobSuffix, LockSuffix, TempSuffix}

// FileEntry returns the cache entry holding the readable bytes of name.
func FileEntry(name string) string {
	return encodeID(name)
}

// BlobEntry returns the cache entry holding the transmitted bytes of name.
func BlobEntry(name string) string {
	return encodeID(name) + BlobSuffix
}

// LockEntry returns the cache entry tracking the lock for name.
func LockEntry(name string) string {
	return encodeID(name) + LockSuffix
}

// encodeID maps a file name onto a single path element. url.PathUnescape
// reverses it, and the result never ends in a reserved suffix, so two names
// never share an entry and a plain entry never shadows a derived one.
func encodeID(id string) string {
	enc := url.PathEscape(id)
	if enc == "." || enc == ".." {
		return strings.ReplaceAll(enc, ".", "%2E")
	}

	for _, suffix := range reservedSuffixes {
		if strings.HasSuffix(enc, suffix) {
			return enc[:len(enc)-len(suffix)] + "%2E" + suffix[1:]
		}
	}

	return enc
}
