package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	"google.golang.org/api/option"
	gcs "google.golang.org/api/storage/v1"

	"github.com/semmidev/dbkeeper/internal/domain"
)

type gcsObjects struct {
	service *gcs.Service
	bucket  string
}

func NewGCS(logger domain.Logger) *RemoteStorage {
	return newRemote(domain.BackendGCS, dialGCS, logger)
}

// dialGCS authenticates with, in order: a service account file, a client
// email and private key pair, or application default credentials.
func dialGCS(ctx context.Context, cfg domain.StorageConfig) (ObjectClient, error) {
	if cfg.Bucket == "" {
		return nil, &domain.ValidationError{Field: "cloud-bucket", Reason: "required for gcs storage"}
	}

	var opts []option.ClientOption
	switch {
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	case cfg.Key != "" && cfg.Secret != "":
		conf := &jwt.Config{
			Email:      cfg.Key,
			PrivateKey: []byte(cfg.Secret),
			Scopes:     []string{gcs.DevstorageReadWriteScope},
			TokenURL:   google.JWTTokenURL,
		}
		opts = append(opts, option.WithTokenSource(conf.TokenSource(ctx)))
	case cfg.Endpoint != "":
		opts = append(opts, option.WithoutAuthentication())
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	service, err := gcs.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage service: %w", err)
	}
	return &gcsObjects{service: service, bucket: cfg.Bucket}, nil
}

func (g *gcsObjects) Upload(ctx context.Context, key string, r io.Reader, _ int64) error {
	_, err := g.service.Objects.Insert(g.bucket, &gcs.Object{Name: key}).
		Media(r).
		Context(ctx).
		Do()
	return err
}

func (g *gcsObjects) Download(ctx context.Context, key string, w io.Writer) error {
	resp, err := g.service.Objects.Get(g.bucket, key).Context(ctx).Download()
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	_, err = io.Copy(w, resp.Body)
	return err
}

func (g *gcsObjects) List(ctx context.Context, prefix string) ([]domain.ObjectInfo, error) {
	var objects []domain.ObjectInfo
	err := g.service.Objects.List(g.bucket).
		Prefix(prefix).
		Fields("nextPageToken", "items(name,size,updated)").
		Pages(ctx, func(page *gcs.Objects) error {
			for _, obj := range page.Items {
				updated, _ := time.Parse(time.RFC3339, obj.Updated)
				objects = append(objects, domain.ObjectInfo{
					Name:         obj.Name,
					Size:         int64(obj.Size),
					LastModified: updated,
				})
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	return objects, nil
}

func (g *gcsObjects) Delete(ctx context.Context, key string) error {
	return g.service.Objects.Delete(g.bucket, key).Context(ctx).Do()
}
