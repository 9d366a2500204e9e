package storage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/dbkeeper/internal/domain"
	"github.com/semmidev/dbkeeper/internal/infrastructure/logger"
)

var (
	driveNameTerm   = regexp.MustCompile(`name='((?:[^'\\]|\\.)*)'`)
	driveParentTerm = regexp.MustCompile(`'((?:[^'\\]|\\.)*)' in parents`)
	driveUnescape   = strings.NewReplacer(`\'`, `'`, `\\`, `\`)
)

// driveHandler serves the Drive v3 file calls the client makes. It honours
// the name and parent terms of the q parameter and ignores the rest.
func (b *fakeBucket) driveHandler() http.Handler {
	const files = "/drive/v3/files"

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/upload"+files:
			meta, media, err := readMultipart(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			var file struct {
				Name    string   `json:"name"`
				Parents []string `json:"parents"`
			}
			if err := json.Unmarshal(meta, &file); err != nil || file.Name == "" {
				http.Error(w, "file name required", http.StatusBadRequest)
				return
			}
			parent := ""
			if len(file.Parents) > 0 {
				parent = file.Parents[0]
			}
			obj := b.put(file.Name, parent, media)
			writeJSON(w, map[string]string{"id": obj.id, "name": file.Name})

		case r.Method == http.MethodGet && r.URL.Path == files:
			q := r.URL.Query().Get("q")
			var name, parent string
			if m := driveNameTerm.FindStringSubmatch(q); m != nil {
				name = driveUnescape.Replace(m[1])
			}
			if m := driveParentTerm.FindStringSubmatch(q); m != nil {
				parent = driveUnescape.Replace(m[1])
			}
			names, next := b.page(r.URL.Query().Get("pageToken"), func(n string, obj *fakeObject) bool {
				return (name == "" || n == name) && (parent == "" || obj.parent == parent)
			})
			list := []map[string]string{}
			for _, n := range names {
				obj := b.objects[n]
				list = append(list, map[string]string{
					"id":           obj.id,
					"name":         n,
					"size":         strconv.Itoa(len(obj.data)),
					"modifiedTime": obj.updated.Format(time.RFC3339),
				})
			}
			writeJSON(w, map[string]interface{}{"files": list, "nextPageToken": next})

		case strings.HasPrefix(r.URL.Path, files+"/"):
			name, obj, ok := b.byID(strings.TrimPrefix(r.URL.Path, files+"/"))
			if !ok {
				writeAPIError(w, http.StatusNotFound)
				return
			}
			switch r.Method {
			case http.MethodGet:
				w.Write(obj.data)
			case http.MethodDelete:
				delete(b.objects, name)
				w.WriteHeader(http.StatusNoContent)
			default:
				writeAPIError(w, http.StatusMethodNotAllowed)
			}

		default:
			writeAPIError(w, http.StatusNotFound)
		}
	})
}

func TestGDriveStorage(t *testing.T) {
	Convey("Given Drive storage against a fake v3 API", t, func() {
		ctx := context.Background()
		bucket := newFakeBucket()
		bucket.put("nightly/other_folder.sql.gz", "folder-other", []byte("stray"))
		bucket.put("elsewhere/stray.sql.gz", "folder-backups", []byte("stray"))

		srv := httptest.NewServer(bucket.driveHandler())
		defer srv.Close()

		cfg := domain.StorageConfig{
			Backend:  domain.BackendGDrive,
			Prefix:   "nightly",
			FolderID: "folder-backups",
			Endpoint: srv.URL + "/drive/v3/",
		}

		Convey("Artifacts round trip and list newest first within the folder", func() {
			exerciseProvider(ctx, NewGDrive(logger.NewNop()), cfg, t.TempDir())

			bucket.mu.Lock()
			defer bucket.mu.Unlock()
			So(bucket.objects, ShouldContainKey, "nightly/other_folder.sql.gz")
			So(bucket.objects["nightly/app_full_2024-05-02T00-00-00-000Z.sql.gz"].parent, ShouldEqual, "folder-backups")
		})

		Convey("File names with quotes are escaped in queries", func() {
			drive := NewGDrive(logger.NewNop())
			So(drive.Initialize(ctx, cfg), ShouldBeNil)
			bucket.mu.Lock()
			bucket.put("nightly/it's.sql.gz", "folder-backups", []byte("q"))
			bucket.mu.Unlock()

			So(drive.Delete(ctx, "it's.sql.gz"), ShouldBeNil)
			So(drive.Delete(ctx, "it's.sql.gz"), ShouldNotBeNil)
		})

		Convey("Credentials are required without a custom endpoint", func() {
			err := NewGDrive(logger.NewNop()).Initialize(ctx, domain.StorageConfig{FolderID: "f"})
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "cloud-credentials")
		})
	})
}
