package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/semmidev/dbkeeper/internal/domain"
)

type azureObjects struct {
	client    *azblob.Client
	container string
}

func NewAzure(logger domain.Logger) *RemoteStorage {
	return newRemote(domain.BackendAzure, dialAzure, logger)
}

// dialAzure uses a shared key when account name and key are given, and the
// default credential chain otherwise. The container is created if missing.
func dialAzure(ctx context.Context, cfg domain.StorageConfig) (ObjectClient, error) {
	if cfg.Bucket == "" {
		return nil, &domain.ValidationError{Field: "cloud-bucket", Reason: "container name required for azure storage"}
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		if cfg.Key == "" {
			return nil, &domain.ValidationError{Field: "cloud-key", Reason: "storage account name or endpoint required for azure storage"}
		}
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.Key)
	}

	var client *azblob.Client
	if cfg.Key != "" && cfg.Secret != "" {
		cred, err := azblob.NewSharedKeyCredential(cfg.Key, cfg.Secret)
		if err != nil {
			return nil, fmt.Errorf("invalid shared key: %w", err)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(endpoint, cred, nil)
		if err != nil {
			return nil, err
		}
	} else {
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to load azure credentials: %w", err)
		}
		client, err = azblob.NewClient(endpoint, cred, nil)
		if err != nil {
			return nil, err
		}
	}

	if _, err := client.CreateContainer(ctx, cfg.Bucket, nil); err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return nil, fmt.Errorf("ensure container %q: %w", cfg.Bucket, err)
	}
	return &azureObjects{client: client, container: cfg.Bucket}, nil
}

func (a *azureObjects) Upload(ctx context.Context, key string, r io.Reader, _ int64) error {
	_, err := a.client.UploadStream(ctx, a.container, key, r, nil)
	return err
}

func (a *azureObjects) Download(ctx context.Context, key string, w io.Writer) error {
	resp, err := a.client.DownloadStream(ctx, a.container, key, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	_, err = io.Copy(w, resp.Body)
	return err
}

func (a *azureObjects) List(ctx context.Context, prefix string) ([]domain.ObjectInfo, error) {
	pager := a.client.NewListBlobsFlatPager(a.container, &azblob.ListBlobsFlatOptions{
		Prefix: to.Ptr(prefix),
	})

	var objects []domain.ObjectInfo
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		if page.Segment == nil {
			continue
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			info := domain.ObjectInfo{Name: *item.Name}
			if p := item.Properties; p != nil {
				if p.ContentLength != nil {
					info.Size = *p.ContentLength
				}
				if p.LastModified != nil {
					info.LastModified = *p.LastModified
				}
			}
			objects = append(objects, info)
		}
	}
	return objects, nil
}

func (a *azureObjects) Delete(ctx context.Context, key string) error {
	_, err := a.client.DeleteBlob(ctx, a.container, key, nil)
	return err
}
