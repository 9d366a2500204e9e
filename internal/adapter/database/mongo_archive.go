package database

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/juju/mgo/v3/bson"
	"github.com/klauspost/compress/gzip"
)

const (
	archiveMagic      = 0x8199e26d
	archiveTerminator = -1
	maxBSONSize       = 16 * 1024 * 1024
)

type archiveHeader struct {
	ConcurrentCollections int32  `bson:"concurrent_collections"`
	FormatVersion         string `bson:"version"`
	ServerVersion         string `bson:"server_version"`
	ToolVersion           string `bson:"tool_version"`
}

type archiveNamespace struct {
	Database   string `bson:"db"`
	Collection string `bson:"collection"`
	Metadata   string `bson:"metadata"`
	Size       int    `bson:"size"`
	Type       string `bson:"type"`
}

type archivePrelude struct {
	Header     archiveHeader
	Namespaces []archiveNamespace
}

// readArchivePrelude reads the namespace catalogue at the head of a
// mongodump archive. Gzipped archives are detected by their magic bytes.
func readArchivePrelude(path string) (*archivePrelude, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var r io.Reader = br
	if sig, err := br.Peek(2); err == nil && sig[0] == 0x1f && sig[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	var magic uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("failed to read archive magic: %w", err)
	}
	if magic != archiveMagic {
		return nil, fmt.Errorf("not a mongodump archive (magic %#x)", magic)
	}

	prelude := &archivePrelude{}
	doc, err := readBSONDocument(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive header: %w", err)
	}
	if err := bson.Unmarshal(doc, &prelude.Header); err != nil {
		return nil, fmt.Errorf("failed to decode archive header: %w", err)
	}

	for {
		doc, err := readBSONDocument(r)
		if errors.Is(err, errTerminator) {
			return prelude, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read collection metadata: %w", err)
		}
		var ns archiveNamespace
		if err := bson.Unmarshal(doc, &ns); err != nil {
			return nil, fmt.Errorf("failed to decode collection metadata: %w", err)
		}
		prelude.Namespaces = append(prelude.Namespaces, ns)
	}
}

var errTerminator = errors.New("archive terminator")

func readBSONDocument(r io.Reader) ([]byte, error) {
	var size int32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return nil, err
	}
	if size == archiveTerminator {
		return nil, errTerminator
	}
	if size < 5 || size > maxBSONSize {
		return nil, fmt.Errorf("invalid document size %d", size)
	}

	doc := make([]byte, size)
	binary.LittleEndian.PutUint32(doc, uint32(size))
	if _, err := io.ReadFull(r, doc[4:]); err != nil {
		return nil, err
	}
	return doc, nil
}

// databases returns the distinct source databases in archive order.
func (p *archivePrelude) databases() []string {
	seen := map[string]bool{}
	var out []string
	for _, ns := range p.Namespaces {
		if ns.Database != "" && !seen[ns.Database] {
			seen[ns.Database] = true
			out = append(out, ns.Database)
		}
	}
	return out
}

// find returns the namespace for a collection, preferring the given database.
func (p *archivePrelude) find(collection, preferDB string) (archiveNamespace, bool) {
	var found archiveNamespace
	ok := false
	for _, ns := range p.Namespaces {
		if ns.Collection != collection {
			continue
		}
		if ns.Database == preferDB {
			return ns, true
		}
		if !ok {
			found, ok = ns, true
		}
	}
	return found, ok
}
