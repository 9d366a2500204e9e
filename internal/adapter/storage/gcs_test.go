package storage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/dbkeeper/internal/domain"
	"github.com/semmidev/dbkeeper/internal/infrastructure/logger"
)

// gcsHandler serves the slice of the Cloud Storage JSON API the client uses.
func (b *fakeBucket) gcsHandler(bucket string) http.Handler {
	objects := "/storage/v1/b/" + bucket + "/o"

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/upload"+objects:
			meta, media, err := readMultipart(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			var obj struct {
				Name string `json:"name"`
			}
			if err := json.Unmarshal(meta, &obj); err != nil || obj.Name == "" {
				http.Error(w, "object name required", http.StatusBadRequest)
				return
			}
			b.put(obj.Name, bucket, media)
			writeJSON(w, map[string]string{"bucket": bucket, "name": obj.Name})

		case r.Method == http.MethodGet && r.URL.Path == objects:
			prefix := r.URL.Query().Get("prefix")
			names, next := b.page(r.URL.Query().Get("pageToken"), func(name string, _ *fakeObject) bool {
				return strings.HasPrefix(name, prefix)
			})
			items := []map[string]string{}
			for _, name := range names {
				obj := b.objects[name]
				items = append(items, map[string]string{
					"name":    name,
					"size":    strconv.Itoa(len(obj.data)),
					"updated": obj.updated.Format(time.RFC3339),
				})
			}
			writeJSON(w, map[string]interface{}{"items": items, "nextPageToken": next})

		case strings.HasPrefix(r.URL.Path, objects+"/"):
			name := strings.TrimPrefix(r.URL.Path, objects+"/")
			obj, ok := b.objects[name]
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

func TestGCSStorage(t *testing.T) {
	Convey("Given GCS storage against a fake JSON API", t, func() {
		ctx := context.Background()
		bucket := newFakeBucket()
		bucket.put("elsewhere/stray.sql.gz", "archive", []byte("stray"))

		srv := httptest.NewServer(bucket.gcsHandler("archive"))
		defer srv.Close()

		cfg := domain.StorageConfig{
			Backend:  domain.BackendGCS,
			Bucket:   "archive",
			Prefix:   "nightly",
			Endpoint: srv.URL + "/storage/v1/",
		}

		Convey("Artifacts round trip and list newest first", func() {
			exerciseProvider(ctx, NewGCS(logger.NewNop()), cfg, t.TempDir())

			bucket.mu.Lock()
			defer bucket.mu.Unlock()
			So(bucket.objects, ShouldContainKey, "elsewhere/stray.sql.gz")
			So(bucket.objects, ShouldContainKey, "nightly/app_full_2024-05-02T00-00-00-000Z.sql.gz")
		})

		Convey("Listings span several pages", func() {
			for i := 0; i < 5; i++ {
				bucket.put("nightly/app_full_"+strconv.Itoa(i)+".sql.gz", "archive", []byte("x"))
			}
			gcs := NewGCS(logger.NewNop())
			So(gcs.Initialize(ctx, cfg), ShouldBeNil)

			objects, err := gcs.List(ctx)
			So(err, ShouldBeNil)
			So(len(objects), ShouldEqual, 5)
			So(objects[0].Name, ShouldEqual, "app_full_4.sql.gz")
		})

		Convey("A bucket is required", func() {
			err := NewGCS(logger.NewNop()).Initialize(ctx, domain.StorageConfig{Endpoint: cfg.Endpoint})
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "cloud-bucket")
		})
	})
}
