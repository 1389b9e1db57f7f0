package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/mazrean/blobdir/internal/metrics"
	myhttp "github.com/mazrean/blobdir/internal/pkg/http"
	myio "github.com/mazrean/blobdir/internal/pkg/io"
	"github.com/mazrean/blobdir/log"
)

var _ Store = &Azure{}

var azureLatencyGauge = metrics.NewGauge("azure_blob_storage_latency")

// Azure implements the Store interface with block blobs in one Azure Blob Storage container.
type Azure struct {
	logger    log.Logger
	container *container.Client
	name      string
}

func newAzureClient(creds AzureCredentials) (*azblob.Client, error) {
	serviceURL := creds.ServiceURL
	if serviceURL == "" && creds.AccountName != "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net/", creds.AccountName)
	}

	opts := &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Transport: myhttp.NewClient(),
			// Azurite and other emulators are served over plain HTTP
			InsecureAllowCredentialWithHTTP: strings.HasPrefix(serviceURL, "http://"),
		},
	}

	if creds.ConnectionString != "" {
		client, err := azblob.NewClientFromConnectionString(creds.ConnectionString, opts)
		if err != nil {
			return nil, fmt.Errorf("create client from connection string: %w", err)
		}
		return client, nil
	}

	if serviceURL == "" {
		return nil, errors.New("azure account name or service URL is required")
	}

	cred, err := azblob.NewSharedKeyCredential(creds.AccountName, creds.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("create shared key credential: %w", err)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, opts)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	return client, nil
}

// NewAzure returns a store backed by the named container. The container is not created until CreateContainer is called.
func NewAzure(logger log.Logger, client *azblob.Client, containerName string) *Azure {
	logger.Debugf("Azure store bound to container %q", containerName)

	return &Azure{
		logger:    logger,
		container: client.ServiceClient().NewContainerClient(containerName),
		name:      containerName,
	}
}

func (a *Azure) CreateContainer(ctx context.Context) error {
	var err error
	azureLatencyGauge.Stopwatch(func() {
		_, err = a.container.Create(ctx, nil)
	}, "create_container")
	if err != nil {
		if bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
			return nil
		}
		return fmt.Errorf("create container: %w", err)
	}

	a.logger.Infof("created container %q", a.name)

	return nil
}

func (a *Azure) List(ctx context.Context, prefix string) ([]string, error) {
	pager := a.container.NewListBlobsFlatPager(&container.ListBlobsFlatOptions{
		Prefix: &prefix,
	})

	var names []string
	for pager.More() {
		var (
			page container.ListBlobsFlatResponse
			err  error
		)
		azureLatencyGauge.Stopwatch(func() {
			page, err = pager.NextPage(ctx)
		}, "list_blobs")
		if err != nil {
			return nil, fmt.Errorf("list blobs: %w", err)
		}

		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			names = append(names, *item.Name)
		}
	}

	return names, nil
}

func (a *Azure) Stat(ctx context.Context, name string) (*ObjectInfo, error) {
	var (
		props blob.GetPropertiesResponse
		err   error
	)
	azureLatencyGauge.Stopwatch(func() {
		props, err = a.container.NewBlockBlobClient(name).GetProperties(ctx, nil)
	}, "get_properties")
	if err != nil {
		return nil, fmt.Errorf("get properties: %w", translateAzureError(err))
	}

	info := &ObjectInfo{
		Name:     name,
		Metadata: make(map[string]string, len(props.Metadata)),
	}
	if props.ContentLength != nil {
		info.Size = *props.ContentLength
	}
	if props.LastModified != nil {
		info.LastModified = *props.LastModified
	}
	if props.ETag != nil {
		info.ETag = string(*props.ETag)
	}
	for k, v := range props.Metadata {
		if v != nil {
			info.Metadata[k] = *v
		}
	}

	return info, nil
}

func (a *Azure) SetMetadata(ctx context.Context, name string, metadata map[string]string) error {
	var err error
	azureLatencyGauge.Stopwatch(func() {
		_, err = a.container.NewBlockBlobClient(name).SetMetadata(ctx, toAzureMetadata(metadata), nil)
	}, "set_metadata")
	if err != nil {
		return fmt.Errorf("set metadata: %w", translateAzureError(err))
	}

	return nil
}

func (a *Azure) Get(ctx context.Context, name string, w io.Writer) error {
	var (
		res blob.DownloadStreamResponse
		err error
	)
	azureLatencyGauge.Stopwatch(func() {
		res, err = a.container.NewBlockBlobClient(name).DownloadStream(ctx, nil)
	}, "download_stream")
	if err != nil {
		return fmt.Errorf("download stream: %w", translateAzureError(err))
	}
	defer res.Body.Close()

	if _, err := io.Copy(w, res.Body); err != nil {
		return fmt.Errorf("copy: %w", err)
	}

	return nil
}

func (a *Azure) Put(ctx context.Context, name string, r io.ReadSeeker, _ int64, metadata map[string]string) error {
	var err error
	azureLatencyGauge.Stopwatch(func() {
		_, err = a.container.NewBlockBlobClient(name).Upload(ctx, myio.NopSeekCloser(r), &blockblob.UploadOptions{
			Metadata: toAzureMetadata(metadata),
		})
	}, "upload")
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	return nil
}

func (a *Azure) PutIfAbsent(ctx context.Context, name string, r io.ReadSeeker, _ int64, metadata map[string]string) error {
	var err error
	azureLatencyGauge.Stopwatch(func() {
		_, err = a.container.NewBlockBlobClient(name).Upload(ctx, myio.NopSeekCloser(r), &blockblob.UploadOptions{
			Metadata: toAzureMetadata(metadata),
			AccessConditions: &blob.AccessConditions{
				ModifiedAccessConditions: &blob.ModifiedAccessConditions{
					IfNoneMatch: to.Ptr(azcore.ETagAny),
				},
			},
		})
	}, "upload_if_absent")
	if err != nil {
		return fmt.Errorf("conditional upload: %w", translateAzureError(err))
	}

	return nil
}

func (a *Azure) Delete(ctx context.Context, name string) error {
	var err error
	azureLatencyGauge.Stopwatch(func() {
		_, err = a.container.NewBlockBlobClient(name).Delete(ctx, nil)
	}, "delete")
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil
		}
		return fmt.Errorf("delete: %w", err)
	}

	return nil
}

func (a *Azure) DeleteIfMatch(ctx context.Context, name string, etag string) error {
	var err error
	azureLatencyGauge.Stopwatch(func() {
		_, err = a.container.NewBlockBlobClient(name).Delete(ctx, &blob.DeleteOptions{
			AccessConditions: &blob.AccessConditions{
				ModifiedAccessConditions: &blob.ModifiedAccessConditions{
					IfMatch: to.Ptr(azcore.ETag(etag)),
				},
			},
		})
	}, "delete_if_match")
	if err != nil {
		var respErr *azcore.ResponseError
		if bloberror.HasCode(err, bloberror.ConditionNotMet) || (errors.As(err, &respErr) && respErr.StatusCode == http.StatusPreconditionFailed) {
			return fmt.Errorf("conditional delete: %w", errors.Join(ErrModified, err))
		}
		return fmt.Errorf("conditional delete: %w", translateAzureError(err))
	}

	return nil
}

func toAzureMetadata(metadata map[string]string) map[string]*string {
	if metadata == nil {
		return nil
	}

	m := make(map[string]*string, len(metadata))
	for k, v := range metadata {
		m[k] = to.Ptr(v)
	}

	return m
}

func translateAzureError(err error) error {
	var respErr *azcore.ResponseError
	hasStatus := func(status int) bool {
		return errors.As(err, &respErr) && respErr.StatusCode == status
	}

	switch {
	case bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound), hasStatus(http.StatusNotFound):
		return errors.Join(ErrNotFound, err)
	case bloberror.HasCode(err, bloberror.BlobAlreadyExists, bloberror.ConditionNotMet), hasStatus(http.StatusPreconditionFailed), hasStatus(http.StatusConflict):
		return errors.Join(ErrExists, err)
	}

	return err
}
