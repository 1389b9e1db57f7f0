package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/alecthomas/kong"
	"github.com/mazrean/blobdir/directory"
	"github.com/mazrean/blobdir/lock"
	"github.com/mazrean/blobdir/remote"
)

const FileName = ".blobdir.json"

// Config holds the flags shared by every command. Values come from flags,
// BLOBDIR_* environment variables and .blobdir.json files, in that order.
type Config struct {
	Version  kong.VersionFlag `kong:"short='v',help='Show version and exit.'"`
	Dir      string           `kong:"short='d',optional,help='Directory to store cache files',env='BLOBDIR_DIR'"`
	Catalog  string           `kong:"short='c',required,help='Catalog (bucket or container) name',env='BLOBDIR_CATALOG'"`
	LogLevel string           `kong:"short='l',default='info',enum='debug,info,warn,error,silent',help='Log level',env='BLOBDIR_LOG_LEVEL'"`
	Metrics  string           `kong:"optional,help='Write remote latency metrics as CSV to this file on exit',type='path',env='BLOBDIR_METRICS'"`
	Remote   string           `kong:"short='r',default='s3',enum='s3,azure',help='Remote backend',env='BLOBDIR_REMOTE'"`
	S3       struct {
		Region          string `kong:"help='AWS region',env='BLOBDIR_S3_REGION'"`
		AccessKey       string `kong:"help='AWS access key',env='BLOBDIR_S3_ACCESS_KEY'"`
		SecretAccessKey string `kong:"help='AWS secret access key',env='BLOBDIR_S3_SECRET_ACCESS_KEY'"`
		Endpoint        string `kong:"help='S3 endpoint',env='BLOBDIR_S3_ENDPOINT',default='s3.amazonaws.com'"`
		DisableSSL      bool   `kong:"help='Disable SSL for S3 connection',env='BLOBDIR_S3_DISABLE_SSL'"`
		UsePathStyle    bool   `kong:"help='Use path style for S3 connection',env='BLOBDIR_S3_USE_PATH_STYLE'"`
	} `kong:"optional,group='s3',embed,prefix='s3.'"`
	Azure struct {
		AccountName      string `kong:"help='Storage account name',env='BLOBDIR_AZURE_ACCOUNT_NAME,AZURE_STORAGE_ACCOUNT'"`
		AccountKey       string `kong:"help='Storage account key',env='BLOBDIR_AZURE_ACCOUNT_KEY,AZURE_STORAGE_KEY'"`
		ConnectionString string `kong:"help='Storage connection string',env='BLOBDIR_AZURE_CONNECTION_STRING,AZURE_STORAGE_CONNECTION_STRING'"`
		ServiceURL       string `kong:"help='Blob service URL',env='BLOBDIR_AZURE_SERVICE_URL'"`
	} `kong:"optional,group='azure',embed,prefix='azure.'"`
	Compression struct {
		Codec      string   `kong:"default='none',enum='none,zstd,s2,lz4,gzip',help='Codec for compressible files',env='BLOBDIR_COMPRESSION_CODEC'"`
		Extensions []string `kong:"help='Extensions of compressible files',env='BLOBDIR_COMPRESSION_EXTENSIONS'"`
		Patterns   []string `kong:"help='Name patterns of compressible files, overriding extensions',env='BLOBDIR_COMPRESSION_PATTERNS'"`
	} `kong:"optional,group='compression',embed,prefix='compression.'"`
	Lock struct {
		Timeout          time.Duration `kong:"default='10s',help='How long to retry obtaining a lock',env='BLOBDIR_LOCK_TIMEOUT'"`
		StaleAfter       time.Duration `kong:"default='10m',help='Age after which a lock marker is considered abandoned',env='BLOBDIR_LOCK_STALE_AFTER'"`
		RetryInterval    time.Duration `kong:"default='100ms',help='Initial retry interval',env='BLOBDIR_LOCK_RETRY_INTERVAL'"`
		MaxRetryInterval time.Duration `kong:"default='1s',help='Maximum retry interval',env='BLOBDIR_LOCK_MAX_RETRY_INTERVAL'"`
	} `kong:"optional,group='lock',embed,prefix='lock.'"`
}

type Version struct {
	Version  string
	Revision string
}

// Paths returns the configuration files looked up in the working and home directories.
func Paths() []string {
	var paths []string
	if wd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(wd, FileName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, FileName))
	}

	return paths
}

// Parse parses args into grammar, a struct embedding Config alongside commands.
func Parse(grammar any, version Version, args []string, paths ...string) (*kong.Context, error) {
	parser, err := kong.New(grammar,
		kong.Name("blobdir"),
		kong.Description("A file directory on top of S3 and Azure Blob Storage"),
		kong.Configuration(kong.JSON, paths...),
		kong.Vars{"version": fmt.Sprintf("%s (%s)", version.Version, version.Revision)},
		kong.UsageOnError(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create parser: %w", err)
	}

	ctx, err := parser.Parse(args)
	if err != nil {
		return nil, fmt.Errorf("failed to parse arguments: %w", err)
	}

	return ctx, nil
}

// Credentials returns the credentials of the selected backend.
func (c *Config) Credentials() remote.Credentials {
	creds := remote.Credentials{Backend: c.Remote}

	switch c.Remote {
	case remote.BackendS3:
		creds.S3 = remote.S3Credentials{
			Endpoint:        c.S3.Endpoint,
			Region:          c.S3.Region,
			AccessKey:       c.S3.AccessKey,
			SecretAccessKey: c.S3.SecretAccessKey,
			UseSSL:          !c.S3.DisableSSL,
			UsePathStyle:    c.S3.UsePathStyle,
		}
	case remote.BackendAzure:
		creds.Azure = remote.AzureCredentials{
			ConnectionString: c.Azure.ConnectionString,
			AccountName:      c.Azure.AccountName,
			AccountKey:       c.Azure.AccountKey,
			ServiceURL:       c.Azure.ServiceURL,
		}
	}

	return creds
}

// DirectoryOptions translates the cache, compression and lock settings.
func (c *Config) DirectoryOptions() ([]directory.Option, error) {
	opts := []directory.Option{
		directory.WithLockOptions(
			lock.WithTimeout(c.Lock.Timeout),
			lock.WithStaleAfter(c.Lock.StaleAfter),
			lock.WithRetryInterval(c.Lock.RetryInterval, c.Lock.MaxRetryInterval),
		),
	}

	if c.Dir != "" {
		opts = append(opts, directory.WithCacheDir(c.Dir))
	}

	if c.Compression.Codec != "" && c.Compression.Codec != "none" {
		opts = append(opts, directory.WithCompression(c.Compression.Codec))
	}

	switch {
	case len(c.Compression.Patterns) > 0:
		policy, err := directory.CompressPatterns(c.Compression.Patterns...)
		if err != nil {
			return nil, fmt.Errorf("compression patterns: %w", err)
		}
		opts = append(opts, directory.WithCompressPolicy(policy))
	case len(c.Compression.Extensions) > 0:
		opts = append(opts, directory.WithCompressPolicy(directory.CompressExtensions(c.Compression.Extensions...)))
	}

	return opts, nil
}
