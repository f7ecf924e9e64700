package pipeline

import (
	"context"
	"iter"
	"path"
	"strings"

	"github.com/dunamismax/imageq/internal/domain"
)

var sourceExtensions = map[string]struct{}{
	"tif":  {},
	"tiff": {},
}

// Stems ending in one of these mark backup copies of a master image.
var backupSuffixes = []string{"original", "orig"}

// Lister lists object keys under a prefix.
type Lister interface {
	List(ctx context.Context, bucket, prefix string) iter.Seq2[string, error]
}

// SourcePrefix returns the "<root>/<bag>/data/" listing prefix.
func SourcePrefix(root, bag string) string {
	return path.Join(strings.Trim(root, "/"), bag, "data") + "/"
}

// ClassifyKey reports whether key is a usable source image. Hidden files,
// backup copies and non-TIFF files are rejected.
func ClassifyKey(bag, key string) (domain.SourceObject, bool) {
	name := path.Base(key)
	if name == "" || name == "." || name == "/" || strings.HasPrefix(name, ".") {
		return domain.SourceObject{}, false
	}

	dot := strings.LastIndex(name, ".")
	if dot <= 0 {
		return domain.SourceObject{}, false
	}
	stem, ext := name[:dot], strings.ToLower(name[dot+1:])
	if _, ok := sourceExtensions[ext]; !ok {
		return domain.SourceObject{}, false
	}

	lowerStem := strings.ToLower(stem)
	for _, suffix := range backupSuffixes {
		if strings.HasSuffix(lowerStem, suffix) {
			return domain.SourceObject{}, false
		}
	}

	return domain.SourceObject{
		Key:       key,
		Bag:       bag,
		Stem:      stem,
		Extension: ext,
	}, true
}

// EnumerateSources lists prefix and yields the keys that survive
// ClassifyKey, in listing order. Re-running it re-lists the bucket.
func EnumerateSources(ctx context.Context, lister Lister, bucket, bag, prefix string) iter.Seq2[domain.SourceObject, error] {
	return func(yield func(domain.SourceObject, error) bool) {
		for key, err := range lister.List(ctx, bucket, prefix) {
			if err != nil {
				yield(domain.SourceObject{}, err)
				return
			}
			src, ok := ClassifyKey(bag, key)
			if !ok {
				continue
			}
			if !yield(src, nil) {
				return
			}
		}
	}
}
