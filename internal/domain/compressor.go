package domain

type Compressor interface {
	Compress(sourcePath, destPath string) error
	Decompress(sourcePath, destPath string) error
}

// Archiver works on whole artifacts: it names the compressed sibling and
// recognizes containers by suffix.
type Archiver interface {
	CompressFile(path string) (string, error)
	IsCompressed(path string) bool
	Extract(path, outputDir string) (string, error)
}
