package remote

import (
	"context"
	"fmt"

	"github.com/mazrean/blobdir/log"
)

const (
	BackendS3    = "s3"
	BackendAzure = "azure"
)

// Credentials describes how to reach the object store.
type Credentials struct {
	// Backend is either BackendS3 or BackendAzure.
	Backend string
	S3      S3Credentials
	Azure   AzureCredentials
}

type S3Credentials struct {
	Endpoint        string
	Region          string
	AccessKey       string
	SecretAccessKey string
	UseSSL          bool
	UsePathStyle    bool
}

type AzureCredentials struct {
	// ConnectionString takes precedence over the account fields when set.
	ConnectionString string
	AccountName      string
	AccountKey       string
	// ServiceURL defaults to https://<account>.blob.core.windows.net/.
	ServiceURL string
}

// NewOpener validates creds and returns an Opener for the selected backend.
// The underlying client is created once and shared by every opened Store.
func NewOpener(logger log.Logger, creds Credentials) (Opener, error) {
	switch creds.Backend {
	case BackendS3:
		client, err := newS3Client(creds.S3)
		if err != nil {
			return nil, err
		}

		return func(_ context.Context, container string) (Store, error) {
			return NewS3(logger, client, container), nil
		}, nil
	case BackendAzure:
		client, err := newAzureClient(creds.Azure)
		if err != nil {
			return nil, err
		}

		return func(_ context.Context, container string) (Store, error) {
			return NewAzure(logger, client, container), nil
		}, nil
	}

	return nil, fmt.Errorf("unknown remote backend: %q", creds.Backend)
}
