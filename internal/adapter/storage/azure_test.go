package storage

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/dbkeeper/internal/domain"
	"github.com/semmidev/dbkeeper/internal/infrastructure/logger"
)

type azureBlobList struct {
	XMLName         xml.Name   `xml:"EnumerationResults"`
	ServiceEndpoint string     `xml:"ServiceEndpoint,attr"`
	ContainerName   string     `xml:"ContainerName,attr"`
	Prefix          string     `xml:"Prefix"`
	Blobs           azureBlobs `xml:"Blobs"`
	NextMarker      string     `xml:"NextMarker"`
}

type azureBlobs struct {
	Blob []azureBlob `xml:"Blob"`
}

type azureBlob struct {
	Name       string              `xml:"Name"`
	Properties azureBlobProperties `xml:"Properties"`
}

type azureBlobProperties struct {
	LastModified  string `xml:"Last-Modified"`
	Etag          string `xml:"Etag"`
	ContentLength int    `xml:"Content-Length"`
	BlobType      string `xml:"BlobType"`
}

func azureError(w http.ResponseWriter, code int, errorCode string) {
	w.Header().Set("x-ms-error-code", errorCode)
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(code)
	io.WriteString(w, `<?xml version="1.0" encoding="utf-8"?><Error><Code>`+errorCode+`</Code><Message>fake</Message></Error>`)
}

// azureHandler serves the Blob service REST calls the client makes for one
// container. The container starts out missing.
func (b *fakeBucket) azureHandler(container string) http.Handler {
	created := false

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()

		q := r.URL.Query()
		path := strings.TrimPrefix(r.URL.Path, "/")

		switch {
		case path == container && q.Get("restype") == "container" && r.Method == http.MethodPut:
			if created {
				azureError(w, http.StatusConflict, "ContainerAlreadyExists")
				return
			}
			created = true
			w.WriteHeader(http.StatusCreated)

		case path == container && q.Get("comp") == "list":
			prefix := q.Get("prefix")
			names, next := b.page(q.Get("marker"), func(name string, _ *fakeObject) bool {
				return strings.HasPrefix(name, prefix)
			})
			out := azureBlobList{ServiceEndpoint: "http://" + r.Host + "/", ContainerName: container, Prefix: prefix, NextMarker: next}
			for _, name := range names {
				obj := b.objects[name]
				out.Blobs.Blob = append(out.Blobs.Blob, azureBlob{
					Name: name,
					Properties: azureBlobProperties{
						LastModified:  obj.updated.Format(http.TimeFormat),
						Etag:          `"` + obj.id + `"`,
						ContentLength: len(obj.data),
						BlobType:      "BlockBlob",
					},
				})
			}
			w.Header().Set("Content-Type", "application/xml")
			io.WriteString(w, xml.Header)
			xml.NewEncoder(w).Encode(out)

		case strings.HasPrefix(path, container+"/"):
			name := strings.TrimPrefix(path, container+"/")
			if r.Method == http.MethodPut {
				data, err := io.ReadAll(r.Body)
				if err != nil {
					azureError(w, http.StatusBadRequest, "InvalidInput")
					return
				}
				obj := b.put(name, container, data)
				w.Header().Set("ETag", `"`+obj.id+`"`)
				w.Header().Set("Last-Modified", obj.updated.Format(http.TimeFormat))
				w.WriteHeader(http.StatusCreated)
				return
			}

			obj, ok := b.objects[name]
			if !ok {
				azureError(w, http.StatusNotFound, "BlobNotFound")
				return
			}
			switch r.Method {
			case http.MethodGet:
				w.Header().Set("Content-Length", strconv.Itoa(len(obj.data)))
				w.Header().Set("ETag", `"`+obj.id+`"`)
				w.Header().Set("Last-Modified", obj.updated.Format(http.TimeFormat))
				w.Header().Set("x-ms-blob-type", "BlockBlob")
				w.Write(obj.data)
			case http.MethodDelete:
				delete(b.objects, name)
				w.WriteHeader(http.StatusAccepted)
			default:
				azureError(w, http.StatusMethodNotAllowed, "UnsupportedHttpVerb")
			}

		default:
			azureError(w, http.StatusBadRequest, "UnsupportedQueryParameter")
		}
	})
}

func TestAzureStorage(t *testing.T) {
	Convey("Given Azure storage against a fake blob endpoint", t, func() {
		ctx := context.Background()
		bucket := newFakeBucket()
		bucket.put("elsewhere/stray.sql.gz", "dumps", []byte("stray"))

		srv := httptest.NewServer(bucket.azureHandler("dumps"))
		defer srv.Close()

		cfg := domain.StorageConfig{
			Backend:  domain.BackendAzure,
			Bucket:   "dumps",
			Prefix:   "nightly",
			Endpoint: srv.URL + "/",
			Key:      "devstoreaccount1",
			Secret:   "c2VjcmV0LWtleQ==",
		}

		Convey("Artifacts round trip and list newest first", func() {
			exerciseProvider(ctx, NewAzure(logger.NewNop()), cfg, t.TempDir())

			bucket.mu.Lock()
			defer bucket.mu.Unlock()
			So(bucket.objects, ShouldContainKey, "elsewhere/stray.sql.gz")
		})

		Convey("An existing container is reused", func() {
			So(NewAzure(logger.NewNop()).Initialize(ctx, cfg), ShouldBeNil)
			So(NewAzure(logger.NewNop()).Initialize(ctx, cfg), ShouldBeNil)
		})

		Convey("Listings follow the continuation marker", func() {
			for i := 0; i < 5; i++ {
				bucket.put("nightly/app_full_"+strconv.Itoa(i)+".sql.gz", "dumps", []byte("xy"))
			}
			az := NewAzure(logger.NewNop())
			So(az.Initialize(ctx, cfg), ShouldBeNil)

			objects, err := az.List(ctx)
			So(err, ShouldBeNil)
			So(len(objects), ShouldEqual, 5)
			So(objects[0].Name, ShouldEqual, "app_full_4.sql.gz")
			So(objects[0].Size, ShouldEqual, 2)
		})

		Convey("Without an endpoint the account name is required", func() {
			err := NewAzure(logger.NewNop()).Initialize(ctx, domain.StorageConfig{Bucket: "dumps"})
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "cloud-key")
		})
	})
}
