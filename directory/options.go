package directory

import (
	"fmt"
	"path"
	"strings"

	"github.com/mazrean/blobdir/lock"
)

// CompressPolicy reports whether the file name should be compressed before upload.
type CompressPolicy func(name string) bool

// DefaultCompressExtensions lists the index file kinds that compress well.
var DefaultCompressExtensions = []string{
	".cfs", ".fdt", ".fdx", ".frq", ".tis", ".tii", ".nrm", ".tvx", ".tvd", ".tvf", ".prx",
}

// CompressExtensions matches names by their extension, ignoring case.
func CompressExtensions(exts ...string) CompressPolicy {
	set := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[strings.ToLower(ext)] = struct{}{}
	}

	return func(name string) bool {
		_, ok := set[strings.ToLower(path.Ext(name))]
		return ok
	}
}

// CompressPatterns matches names against path.Match patterns.
func CompressPatterns(patterns ...string) (CompressPolicy, error) {
	for _, pattern := range patterns {
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
	}

	return func(name string) bool {
		for _, pattern := range patterns {
			if ok, _ := path.Match(pattern, name); ok {
				return true
			}
		}
		return false
	}, nil
}

type options struct {
	cacheDir string
	codec    string
	policy   CompressPolicy
	lockOpts []lock.Option
}

type Option func(*options)

// WithCacheDir sets the local cache directory. Defaults to <user cache dir>/blobdir/<catalog>.
func WithCacheDir(dir string) Option {
	return func(o *options) {
		o.cacheDir = dir
	}
}

// WithCompression enables compression of eligible files with the named codec (zstd, s2, lz4 or gzip).
// An empty name disables compression.
func WithCompression(codec string) Option {
	return func(o *options) {
		o.codec = codec
	}
}

// WithCompressPolicy replaces the default extension based eligibility check.
func WithCompressPolicy(policy CompressPolicy) Option {
	return func(o *options) {
		o.policy = policy
	}
}

// WithLockOptions sets the options applied to every lock made by the directory.
func WithLockOptions(opts ...lock.Option) Option {
	return func(o *options) {
		o.lockOpts = append(o.lockOpts, opts...)
	}
}

func newOptions(opts []Option) options {
	o := options{
		policy: CompressExtensions(DefaultCompressExtensions...),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return o
}
