package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/dbkeeper/internal/domain"
)

type fakeObject struct {
	id      string
	parent  string
	data    []byte
	updated time.Time
}

// fakeBucket is the object store behind the fake cloud APIs. Every write
// moves its clock forward a minute so listings have a stable order. Handlers
// hold mu for the whole request.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]*fakeObject
	clock   time.Time
	seq     int
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{
		objects: map[string]*fakeObject{},
		clock:   time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (b *fakeBucket) put(name, parent string, data []byte) *fakeObject {
	b.clock = b.clock.Add(time.Minute)
	b.seq++
	obj := &fakeObject{id: "obj-" + strconv.Itoa(b.seq), parent: parent, data: data, updated: b.clock}
	b.objects[name] = obj
	return obj
}

func (b *fakeBucket) byID(id string) (string, *fakeObject, bool) {
	for name, obj := range b.objects {
		if obj.id == id {
			return name, obj, true
		}
	}
	return "", nil, false
}

// page returns up to two names matching keep, in name order, starting at the
// offset encoded in token.
func (b *fakeBucket) page(token string, keep func(name string, obj *fakeObject) bool) ([]string, string) {
	var names []string
	for name, obj := range b.objects {
		if keep(name, obj) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	start, _ := strconv.Atoi(token)
	if start > len(names) {
		start = len(names)
	}
	end := start + 2
	if end >= len(names) {
		return names[start:], ""
	}
	return names[start:end], strconv.Itoa(end)
}

// readMultipart splits a multipart/related upload into its JSON metadata and
// media parts.
func readMultipart(r *http.Request) ([]byte, []byte, error) {
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, nil, err
	}
	mr := multipart.NewReader(r.Body, params["boundary"])

	var parts [][]byte
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		data, err := io.ReadAll(part)
		if err != nil {
			return nil, nil, err
		}
		parts = append(parts, data)
	}
	if len(parts) != 2 {
		return nil, nil, fmt.Errorf("expected metadata and media parts, got %d", len(parts))
	}
	return parts[0], parts[1], nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{"code": code, "message": http.StatusText(code)},
	})
}

// exerciseProvider runs the store, list, retrieve and delete cycle against an
// initialized provider whose prefix is "nightly/". Anything stored under
// another prefix must stay invisible.
func exerciseProvider(ctx context.Context, p domain.Provider, cfg domain.StorageConfig, dir string) {
	So(p.Initialize(ctx, cfg), ShouldBeNil)

	older := filepath.Join(dir, "app_full_2024-05-01T00-00-00-000Z.sql.gz")
	newer := filepath.Join(dir, "app_full_2024-05-02T00-00-00-000Z.sql.gz")
	So(os.WriteFile(older, []byte("one"), 0644), ShouldBeNil)
	So(os.WriteFile(newer, []byte("second"), 0644), ShouldBeNil)

	key, err := p.Store(ctx, older, filepath.Base(older))
	So(err, ShouldBeNil)
	So(key, ShouldEqual, "nightly/"+filepath.Base(older))
	_, err = p.Store(ctx, newer, filepath.Base(newer))
	So(err, ShouldBeNil)

	objects, err := p.List(ctx)
	So(err, ShouldBeNil)
	So(len(objects), ShouldEqual, 2)
	So(objects[0].Name, ShouldEqual, filepath.Base(newer))
	So(objects[0].Size, ShouldEqual, 6)
	So(objects[1].Name, ShouldEqual, filepath.Base(older))
	So(objects[1].Size, ShouldEqual, 3)
	So(objects[0].LastModified.After(objects[1].LastModified), ShouldBeTrue)
	So(objects[1].LastModified.IsZero(), ShouldBeFalse)

	dest := filepath.Join(dir, "restore", "artifact.sql.gz")
	path, err := p.Retrieve(ctx, filepath.Base(older), dest)
	So(err, ShouldBeNil)
	So(path, ShouldEqual, dest)
	data, err := os.ReadFile(dest)
	So(err, ShouldBeNil)
	So(string(data), ShouldEqual, "one")

	missing := filepath.Join(dir, "restore", "missing.sql.gz")
	_, err = p.Retrieve(ctx, "missing.sql.gz", missing)
	So(err, ShouldNotBeNil)
	_, statErr := os.Stat(missing)
	So(os.IsNotExist(statErr), ShouldBeTrue)

	So(p.Delete(ctx, filepath.Base(older)), ShouldBeNil)
	objects, err = p.List(ctx)
	So(err, ShouldBeNil)
	So(len(objects), ShouldEqual, 1)
	So(objects[0].Name, ShouldEqual, filepath.Base(newer))
}
