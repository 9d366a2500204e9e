package storage

import (
	"errors"
	"sort"
	"strings"

	"github.com/semmidev/dbkeeper/internal/domain"
)

var errNotInitialized = errors.New("storage provider is not initialized")

// normalizePrefix returns the key prefix with exactly one trailing slash and
// no leading one. An empty prefix falls back to the default.
func normalizePrefix(prefix string) string {
	prefix = strings.TrimLeft(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return domain.DefaultPrefix
	}
	return strings.TrimRight(prefix, "/") + "/"
}

// objectKey accepts a reference with or without the prefix.
func objectKey(prefix, ref string) string {
	ref = strings.TrimLeft(ref, "/")
	if strings.HasPrefix(ref, prefix) {
		return ref
	}
	return prefix + ref
}

// listing turns raw backend objects into the listing callers see: prefix
// stripped, the bare prefix entry dropped, newest first and ties by name.
func listing(prefix string, objects []domain.ObjectInfo) []domain.ObjectInfo {
	out := make([]domain.ObjectInfo, 0, len(objects))
	for _, o := range objects {
		name := strings.TrimPrefix(o.Name, prefix)
		if name == "" || strings.HasSuffix(name, "/") {
			continue
		}
		o.Name = name
		out = append(out, o)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LastModified.Equal(out[j].LastModified) {
			return out[i].LastModified.After(out[j].LastModified)
		}
		return out[i].Name < out[j].Name
	})
	return out
}
