package blob

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/NVIDIA/mediaorch/cmn"
	"github.com/NVIDIA/mediaorch/cmn/config"
)

// NewFromConfig builds the Store selected by cfg.Backend; this is the one
// place that knows about all three cloud backends, so cmd/mediaorchd stays
// backend-agnostic.
func NewFromConfig(ctx context.Context, cfg config.Blob) (Store, error) {
	switch cfg.Backend {
	case "s3", "":
		return NewS3Store(ctx, cfg.Bucket, cfg.Region, cfg.Endpoint)
	case "azure":
		cred, err := azblob.NewSharedKeyCredential(cfg.AzureAccountName, cfg.AzureAccountKey)
		if err != nil {
			return nil, cmn.Wrap(err, "build azure shared key credential")
		}
		return NewAzureStore(cfg.AzureAccountURL, cfg.Bucket, cred)
	case "gcs":
		return NewGCSStore(ctx, cfg.Bucket)
	default:
		return nil, cmn.NewErrBadRequest("unknown blob.backend: " + cfg.Backend)
	}
}
