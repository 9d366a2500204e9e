package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/dbkeeper/internal/domain"
	"github.com/semmidev/dbkeeper/internal/infrastructure/logger"
)

type memObject struct {
	data     []byte
	modified time.Time
}

// memObjects is an in-memory ObjectClient. Each upload is stamped one
// minute after the previous one.
type memObjects struct {
	mu      sync.Mutex
	objects map[string]memObject
	clock   time.Time
}

func newMemObjects() *memObjects {
	return &memObjects{objects: map[string]memObject{}, clock: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
}

func (m *memObjects) put(key string, data []byte, modified time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memObject{data: data, modified: modified}
}

func (m *memObjects) Upload(_ context.Context, key string, r io.Reader, _ int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = m.clock.Add(time.Minute)
	m.objects[key] = memObject{data: data, modified: m.clock}
	return nil
}

func (m *memObjects) Download(_ context.Context, key string, w io.Writer) error {
	m.mu.Lock()
	obj, ok := m.objects[key]
	m.mu.Unlock()
	if !ok {
		return errors.New("no such key")
	}
	_, err := io.Copy(w, bytes.NewReader(obj.data))
	return err
}

func (m *memObjects) List(_ context.Context, prefix string) ([]domain.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ObjectInfo
	for k, o := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.ObjectInfo{Name: k, Size: int64(len(o.data)), LastModified: o.modified})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memObjects) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return errors.New("no such key")
	}
	delete(m.objects, key)
	return nil
}

func TestObjectHelpers(t *testing.T) {
	Convey("Given prefix and key helpers", t, func() {
		So(normalizePrefix(""), ShouldEqual, "backups/")
		So(normalizePrefix("nightly"), ShouldEqual, "nightly/")
		So(normalizePrefix("/team/db//"), ShouldEqual, "team/db/")

		So(objectKey("backups/", "a.sql"), ShouldEqual, "backups/a.sql")
		So(objectKey("backups/", "backups/a.sql"), ShouldEqual, "backups/a.sql")
		So(objectKey("backups/", "/a.sql"), ShouldEqual, "backups/a.sql")
	})

	Convey("Given raw objects with equal timestamps", t, func() {
		ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		out := listing("p/", []domain.ObjectInfo{
			{Name: "p/", LastModified: ts.Add(time.Hour)},
			{Name: "p/b", LastModified: ts},
			{Name: "p/a", LastModified: ts},
			{Name: "p/c", LastModified: ts.Add(time.Minute)},
		})

		Convey("They are sorted newest first with names breaking ties", func() {
			So(len(out), ShouldEqual, 3)
			So(out[0].Name, ShouldEqual, "c")
			So(out[1].Name, ShouldEqual, "a")
			So(out[2].Name, ShouldEqual, "b")
		})
	})
}

func TestRemoteStorage(t *testing.T) {
	Convey("Given a remote storage over an in-memory client", t, func() {
		ctx := context.Background()
		client := newMemObjects()
		remote := newWithClient(domain.BackendS3, client, logger.NewNop())

		Convey("Operations before Initialize fail", func() {
			_, err := remote.Store(ctx, "x", "y")
			So(err, ShouldEqual, errNotInitialized)
		})

		Convey("Once initialized with a prefix", func() {
			cfg := domain.StorageConfig{Bucket: "bkt", Prefix: "nightly"}
			So(remote.Initialize(ctx, cfg), ShouldBeNil)
			So(remote.Backend(), ShouldEqual, domain.BackendS3)

			dir := t.TempDir()
			first := filepath.Join(dir, "app_full_1.sql.gz")
			second := filepath.Join(dir, "app_full_2.sql.gz")
			So(os.WriteFile(first, []byte("one"), 0644), ShouldBeNil)
			So(os.WriteFile(second, []byte("two"), 0644), ShouldBeNil)

			key, err := remote.Store(ctx, first, "app_full_1.sql.gz")
			So(err, ShouldBeNil)
			So(key, ShouldEqual, "nightly/app_full_1.sql.gz")
			_, err = remote.Store(ctx, second, "app_full_2.sql.gz")
			So(err, ShouldBeNil)

			Convey("Rebinding to another configuration is refused", func() {
				So(remote.Initialize(ctx, domain.StorageConfig{Bucket: "other"}), ShouldNotBeNil)
				So(remote.Initialize(ctx, cfg), ShouldBeNil)
			})

			Convey("List strips the prefix and puts the newest first", func() {
				client.put("nightly/", nil, time.Now())
				client.put("elsewhere/x.sql", []byte("x"), time.Now())

				objects, err := remote.List(ctx)
				So(err, ShouldBeNil)
				So(len(objects), ShouldEqual, 2)
				So(objects[0].Name, ShouldEqual, "app_full_2.sql.gz")
				So(objects[0].Size, ShouldEqual, 3)
				So(objects[1].Name, ShouldEqual, "app_full_1.sql.gz")
			})

			Convey("Retrieve accepts references with or without the prefix", func() {
				dest := filepath.Join(dir, "restore", "a.sql.gz")
				path, err := remote.Retrieve(ctx, "app_full_1.sql.gz", dest)
				So(err, ShouldBeNil)
				So(path, ShouldEqual, dest)
				data, _ := os.ReadFile(dest)
				So(string(data), ShouldEqual, "one")

				_, err = remote.Retrieve(ctx, "nightly/app_full_2.sql.gz", dest)
				So(err, ShouldBeNil)
				data, _ = os.ReadFile(dest)
				So(string(data), ShouldEqual, "two")
			})

			Convey("A failed download leaves no partial file", func() {
				dest := filepath.Join(dir, "missing.sql.gz")
				_, err := remote.Retrieve(ctx, "missing.sql.gz", dest)
				So(err, ShouldNotBeNil)
				_, statErr := os.Stat(dest)
				So(os.IsNotExist(statErr), ShouldBeTrue)
			})

			Convey("Delete removes the object", func() {
				So(remote.Delete(ctx, "app_full_1.sql.gz"), ShouldBeNil)
				objects, err := remote.List(ctx)
				So(err, ShouldBeNil)
				So(len(objects), ShouldEqual, 1)
			})
		})
	})
}

func TestNew(t *testing.T) {
	Convey("Given the provider registry", t, func() {
		for _, b := range []domain.Backend{domain.BackendLocal, domain.BackendS3, domain.BackendGCS, domain.BackendAzure, domain.BackendGDrive} {
			p, err := New(b, logger.NewNop())
			So(err, ShouldBeNil)
			So(p.Backend(), ShouldEqual, b)
		}

		_, err := New(domain.Backend("ftp"), logger.NewNop())
		var ub *domain.UnsupportedBackendError
		So(errors.As(err, &ub), ShouldBeTrue)
	})
}
