// Package naming derives derivative filenames and the parameter tag that
// groups derivatives produced with identical transform settings.
package naming

import (
	"fmt"
	"math"
	"path"
	"strconv"
	"strings"

	"github.com/dunamismax/imageq/internal/domain"
)

var extensions = map[string]string{
	"jpeg": "jpg",
	"tiff": "tif",
}

// ExtensionFor maps a format name onto its filename extension. Unknown
// formats pass through lower-cased.
func ExtensionFor(format string) string {
	format = strings.ToLower(strings.TrimSpace(format))
	if ext, ok := extensions[format]; ok {
		return ext
	}
	return format
}

// TagFor encodes format, scale, filter and crop into a path-safe tag. The
// filter only takes part when a scale is given. Scale percentages round half
// to even (0.125 encodes as "012").
func TagFor(format, filter string, scale *float64, crop *domain.Crop) string {
	parts := []string{pathToken(format)}

	if scale != nil {
		parts = append(parts, fmt.Sprintf("%03d", int(math.RoundToEven(*scale*100))))
		if f := pathToken(filter); f != "" {
			parts = append(parts, f)
		}
	} else {
		parts = append(parts, "100")
	}

	if crop != nil {
		for _, v := range crop.Values() {
			parts = append(parts, strconv.Itoa(v))
		}
	}

	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "_")
}

// TagForRequest is TagFor applied to a request's transform parameters.
func TagForRequest(req domain.DerivativeRequest) string {
	return TagFor(req.Format, req.Filter, req.Scale, req.Crop)
}

// DerivativeFilename returns "<stem-lowercased>.<extension>".
func DerivativeFilename(stem, format string) string {
	return strings.ToLower(stem) + "." + ExtensionFor(format)
}

// DerivativeKey joins the destination prefix, bag, tag and filename.
func DerivativeKey(prefix, bag, tag, filename string) string {
	return path.Join(strings.Trim(prefix, "/"), bag, tag, filename)
}

func pathToken(in string) string {
	in = strings.ToLower(strings.TrimSpace(in))

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}
