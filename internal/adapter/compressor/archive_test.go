package compressor

import (
	stdzip "archive/zip"
	"errors"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/dbkeeper/internal/domain"
	"github.com/semmidev/dbkeeper/internal/infrastructure/logger"
)

func writeZip(t *testing.T, path string, entries map[string]string, order []string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	defer f.Close()
	zw := stdzip.NewWriter(f)
	for _, name := range order {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip entry: %v", err)
		}
		if _, err := w.Write([]byte(entries[name])); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
}

func TestArchive(t *testing.T) {
	Convey("Given an Archive backed by gzip", t, func() {
		archive := NewArchive(NewGzip(), logger.NewNop())
		dir := t.TempDir()

		Convey("CompressFile writes a .gz sibling and keeps the source", func() {
			src := filepath.Join(dir, "app_full_2024.sql")
			So(os.WriteFile(src, []byte("select 1;"), 0644), ShouldBeNil)

			out, err := archive.CompressFile(src)
			So(err, ShouldBeNil)
			So(out, ShouldEqual, src+".gz")
			_, err = os.Stat(src)
			So(err, ShouldBeNil)

			Convey("and Extract restores the original bytes into another directory", func() {
				outDir := filepath.Join(dir, "restore")
				extracted, err := archive.Extract(out, outDir)
				So(err, ShouldBeNil)
				So(extracted, ShouldEqual, filepath.Join(outDir, "app_full_2024.sql"))

				content, err := os.ReadFile(extracted)
				So(err, ShouldBeNil)
				So(string(content), ShouldEqual, "select 1;")
			})
		})

		Convey("CompressFile reports a CompressionError for a missing source", func() {
			_, err := archive.CompressFile(filepath.Join(dir, "missing.sql"))
			var ce *domain.CompressionError
			So(errors.As(err, &ce), ShouldBeTrue)
			_, statErr := os.Stat(filepath.Join(dir, "missing.sql.gz"))
			So(os.IsNotExist(statErr), ShouldBeTrue)
		})

		Convey("Extract unpacks a zip and returns the first file", func() {
			zipPath := filepath.Join(dir, "bundle.zip")
			writeZip(t, zipPath, map[string]string{"first.db": "one", "second.db": "two"}, []string{"first.db", "second.db"})

			out, err := archive.Extract(zipPath, filepath.Join(dir, "x"))
			So(err, ShouldBeNil)
			So(filepath.Base(out), ShouldEqual, "first.db")
			_, err = os.Stat(filepath.Join(dir, "x", "second.db"))
			So(err, ShouldBeNil)
		})

		Convey("Extract rejects zip entries escaping the output directory", func() {
			zipPath := filepath.Join(dir, "evil.zip")
			writeZip(t, zipPath, map[string]string{"../escape.db": "x"}, []string{"../escape.db"})

			_, err := archive.Extract(zipPath, filepath.Join(dir, "x"))
			So(err, ShouldNotBeNil)
		})

		Convey("Extract rejects an empty zip", func() {
			zipPath := filepath.Join(dir, "empty.zip")
			writeZip(t, zipPath, nil, nil)

			_, err := archive.Extract(zipPath, filepath.Join(dir, "x"))
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "zip file is empty")
		})

		Convey("Unrecognized suffixes pass through unchanged", func() {
			So(archive.IsCompressed("dump.archive"), ShouldBeFalse)
			So(archive.IsCompressed("dump.sql.GZ"), ShouldBeTrue)

			out, err := archive.Extract("/data/app.dump", dir)
			So(err, ShouldBeNil)
			So(out, ShouldEqual, "/data/app.dump")
		})
	})
}
