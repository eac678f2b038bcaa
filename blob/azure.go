package blob

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	azblobblob "github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/NVIDIA/mediaorch/cmn"
)

// AzureStore backs blob.Store with an Azure Blob Storage container,
// selected via config.Blob.Backend == "azure" for multi-cloud deployments.
type AzureStore struct {
	container string
	client    *azblob.Client
}

func NewAzureStore(accountURL, containerName string, cred *azblob.SharedKeyCredential) (*AzureStore, error) {
	client, err := azblob.NewClientWithSharedKeyCredential(accountURL, cred, nil)
	if err != nil {
		return nil, cmn.Wrap(err, "create azure blob client")
	}
	return &AzureStore{container: containerName, client: client}, nil
}

func (a *AzureStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := a.client.UploadBuffer(ctx, a.container, key, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &azblobblob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return "", cmn.NewErrBlobUnreachable("azure put failed", err)
	}
	return a.client.ServiceClient().NewContainerClient(a.container).NewBlobClient(key).URL(), nil
}

func (a *AzureStore) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := a.client.DownloadStream(ctx, a.container, key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, cmn.NewErrNotFound("azure blob not found")
		}
		return nil, cmn.NewErrBlobUnreachable("azure get failed", err)
	}
	defer resp.Body.Close()
	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, resp.Body); err != nil {
		return nil, cmn.Wrap(err, "read azure blob body")
	}
	return buf.Bytes(), nil
}

func (a *AzureStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := a.client.ServiceClient().NewContainerClient(a.container).NewBlobClient(key).GetProperties(ctx, nil)
	if err == nil {
		return true, nil
	}
	var respErr *azblob.InternalError
	if errors.As(err, &respErr) {
		return false, cmn.NewErrBlobUnreachable("azure head failed", err)
	}
	// azblob surfaces a 404 as a generic *azcore.ResponseError; treat any
	// non-internal error on GetProperties as "not found" per the blob
	// gateway's NotFound/Unreachable split (spec §4.1).
	return false, nil
}

func (a *AzureStore) DeletePrefix(ctx context.Context, prefix string, _ int) (int, error) {
	cc := a.client.ServiceClient().NewContainerClient(a.container)
	var removed int
	pager := cc.NewListBlobsFlatPager(&container.ListBlobsFlatOptions{Prefix: &prefix})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return removed, cmn.NewErrBlobUnreachable("azure list failed", err)
		}
		for _, item := range page.Segment.BlobItems {
			bc := cc.NewBlobClient(*item.Name)
			if _, err := bc.Delete(ctx, nil); err != nil {
				continue
			}
			removed++
		}
	}
	return removed, nil
}

var _ Store = (*AzureStore)(nil)
