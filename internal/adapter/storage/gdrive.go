package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/semmidev/dbkeeper/internal/domain"
)

// Drive has no key hierarchy, so object keys are stored as file names inside
// one folder.
type driveObjects struct {
	service  *drive.Service
	folderID string
}

func NewGDrive(logger domain.Logger) *RemoteStorage {
	return newRemote(domain.BackendGDrive, dialGDrive, logger)
}

// dialGDrive authenticates with an OAuth token file written by gdrive-auth
// (CredentialsFile then holds the OAuth client secret) or with a service
// account file. A custom endpoint without credentials is used anonymously.
func dialGDrive(ctx context.Context, cfg domain.StorageConfig) (ObjectClient, error) {
	if cfg.CredentialsFile == "" && cfg.Endpoint == "" {
		return nil, &domain.ValidationError{Field: "cloud-credentials", Reason: "required for gdrive storage"}
	}

	var opts []option.ClientOption
	switch {
	case cfg.CredentialsFile != "" && cfg.TokenFile != "":
		ts, err := tokenSourceFromFiles(ctx, cfg.CredentialsFile, cfg.TokenFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, option.WithTokenSource(ts))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	default:
		opts = append(opts, option.WithoutAuthentication())
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	service, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}

	folder := cfg.FolderID
	if folder == "" {
		folder = cfg.Bucket
	}
	return &driveObjects{service: service, folderID: folder}, nil
}

func tokenSourceFromFiles(ctx context.Context, secretFile, tokenFile string) (oauth2.TokenSource, error) {
	secret, err := os.ReadFile(secretFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret: %w", err)
	}
	conf, err := google.ConfigFromJSON(secret, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret: %w", err)
	}

	raw, err := os.ReadFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read token file: %w", err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, fmt.Errorf("unable to parse token file: %w", err)
	}
	return conf.TokenSource(ctx, &token), nil
}

func (g *driveObjects) Upload(ctx context.Context, key string, r io.Reader, _ int64) error {
	meta := &drive.File{Name: key}
	if g.folderID != "" {
		meta.Parents = []string{g.folderID}
	}

	_, err := g.service.Files.Create(meta).
		Media(r).
		Context(ctx).
		Do()
	return err
}

func (g *driveObjects) Download(ctx context.Context, key string, w io.Writer) error {
	id, err := g.find(ctx, key)
	if err != nil {
		return err
	}

	resp, err := g.service.Files.Get(id).Context(ctx).Download()
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	_, err = io.Copy(w, resp.Body)
	return err
}

func (g *driveObjects) List(ctx context.Context, prefix string) ([]domain.ObjectInfo, error) {
	var objects []domain.ObjectInfo
	err := g.service.Files.List().
		Q(g.query("")).
		Fields("nextPageToken", "files(id, name, size, modifiedTime)").
		Pages(ctx, func(page *drive.FileList) error {
			for _, f := range page.Files {
				if !strings.HasPrefix(f.Name, prefix) {
					continue
				}
				modified, _ := time.Parse(time.RFC3339, f.ModifiedTime)
				objects = append(objects, domain.ObjectInfo{
					Name:         f.Name,
					Size:         f.Size,
					LastModified: modified,
				})
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	return objects, nil
}

func (g *driveObjects) Delete(ctx context.Context, key string) error {
	id, err := g.find(ctx, key)
	if err != nil {
		return err
	}
	return g.service.Files.Delete(id).Context(ctx).Do()
}

func (g *driveObjects) find(ctx context.Context, name string) (string, error) {
	fileList, err := g.service.Files.List().
		Q(g.query(name)).
		Fields("files(id)").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("failed to find file: %w", err)
	}
	if len(fileList.Files) == 0 {
		return "", fmt.Errorf("file not found: %s", name)
	}
	return fileList.Files[0].Id, nil
}

func (g *driveObjects) query(name string) string {
	q := []string{"trashed=false"}
	if g.folderID != "" {
		q = append(q, fmt.Sprintf("'%s' in parents", escapeQuery(g.folderID)))
	}
	if name != "" {
		q = append(q, fmt.Sprintf("name='%s'", escapeQuery(name)))
	}
	return strings.Join(q, " and ")
}

func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
