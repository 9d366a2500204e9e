package compressor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/semmidev/dbkeeper/internal/domain"
)

const (
	gzipSuffix = ".gz"
	zipSuffix  = ".zip"
)

// Archive turns a dump file into a compressed artifact and back. Containers are
// recognized by suffix only; anything else is treated as not compressed.
type Archive struct {
	gzip   domain.Compressor
	logger domain.Logger
}

func NewArchive(gzip domain.Compressor, logger domain.Logger) *Archive {
	return &Archive{gzip: gzip, logger: logger}
}

// CompressFile writes path+".gz" next to path and returns it. The source is left in place.
func (a *Archive) CompressFile(path string) (string, error) {
	compressedPath := path + gzipSuffix
	a.logger.Infof("Compressing file: %s -> %s", path, compressedPath)

	if err := a.gzip.Compress(path, compressedPath); err != nil {
		_ = os.Remove(compressedPath)
		return "", &domain.CompressionError{Path: path, Err: err}
	}
	return compressedPath, nil
}

func (a *Archive) IsCompressed(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, gzipSuffix) || strings.HasSuffix(lower, zipSuffix)
}

// Extract decompresses path into outputDir and returns the extracted file.
// Unrecognized suffixes return path unchanged.
func (a *Archive) Extract(path, outputDir string) (string, error) {
	lower := strings.ToLower(path)

	switch {
	case strings.HasSuffix(lower, gzipSuffix):
		out := filepath.Join(outputDir, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
		a.logger.Infof("Decompressing gzip file: %s -> %s", path, out)
		if err := os.MkdirAll(outputDir, 0755); err != nil {
			return "", &domain.CompressionError{Path: path, Err: err}
		}
		if err := a.gzip.Decompress(path, out); err != nil {
			return "", &domain.CompressionError{Path: path, Err: err}
		}
		return out, nil

	case strings.HasSuffix(lower, zipSuffix):
		out, err := extractZip(path, outputDir)
		if err != nil {
			return "", &domain.CompressionError{Path: path, Err: err}
		}
		a.logger.Infof("Decompressed zip file: %s -> %s", path, out)
		return out, nil

	default:
		return path, nil
	}
}

// extractZip unpacks every entry and returns the first regular file.
func extractZip(path, outputDir string) (string, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("failed to open zip: %w", err)
	}
	defer reader.Close()

	root, err := filepath.Abs(outputDir)
	if err != nil {
		return "", err
	}

	first := ""
	for _, entry := range reader.File {
		dest := filepath.Join(root, entry.Name)
		if dest != root && !strings.HasPrefix(dest, root+string(os.PathSeparator)) {
			return "", fmt.Errorf("zip entry escapes output directory: %s", entry.Name)
		}

		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0755); err != nil {
				return "", err
			}
			continue
		}

		if err := writeZipEntry(entry, dest); err != nil {
			return "", err
		}
		if first == "" {
			first = dest
		}
	}

	if first == "" {
		return "", errors.New("zip file is empty")
	}
	return first, nil
}

func writeZipEntry(entry *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}

	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("failed to open zip entry %s: %w", entry.Name, err)
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}

	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("failed to extract %s: %w", entry.Name, err)
	}
	return out.Close()
}
