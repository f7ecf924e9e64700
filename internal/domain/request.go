package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

const (
	SourceStyleDirect  = "direct"
	SourceStyleCatalog = "catalog"

	DefaultFilter = "antialias"

	// MaxScale bounds the resize factor accepted on a request.
	MaxScale = 10.0
)

// Filters lists the accepted resample filter names. Aliases map onto the
// same kernel in each transformer.
var Filters = []string{
	"nearest",
	"box",
	"bilinear",
	"linear",
	"hamming",
	"bicubic",
	"catmullrom",
	"mitchell",
	"antialias",
	"lanczos",
}

// DerivativeRequest describes one derivative generation task.
type DerivativeRequest struct {
	Bags        []string `json:"bags"`
	Format      string   `json:"format"`
	Filter      string   `json:"filter,omitempty"`
	Scale       *float64 `json:"scale,omitempty"`
	Crop        *Crop    `json:"crop,omitempty"`
	Upload      bool     `json:"upload"`
	UseCatalog  bool     `json:"use_catalog"`
	SourceStyle string   `json:"source_style,omitempty"`
	WebhookURL  string   `json:"webhook_url,omitempty"`
}

// Crop is a pixel box (X0,Y0)-(X1,Y1). It marshals as a 4-element array.
type Crop struct {
	X0, Y0, X1, Y1 int
}

func (c Crop) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]int{c.X0, c.Y0, c.X1, c.Y1})
}

func (c *Crop) UnmarshalJSON(data []byte) error {
	var box []int
	if err := json.Unmarshal(data, &box); err != nil {
		return fmt.Errorf("crop must be an array of 4 integers: %w", err)
	}
	if len(box) != 4 {
		return fmt.Errorf("%w: crop must have 4 values, got %d", ErrConfiguration, len(box))
	}
	*c = Crop{X0: box[0], Y0: box[1], X1: box[2], Y1: box[3]}
	return nil
}

func (c Crop) Validate() error {
	if c.X0 < 0 || c.Y0 < 0 || c.X1 < 0 || c.Y1 < 0 {
		return fmt.Errorf("%w: crop values must be non-negative: %v", ErrConfiguration, c.Values())
	}
	if c.X0 >= c.X1 || c.Y0 >= c.Y1 {
		return fmt.Errorf("%w: crop requires x0<x1 and y0<y1: %v", ErrConfiguration, c.Values())
	}
	return nil
}

func (c Crop) Values() [4]int {
	return [4]int{c.X0, c.Y0, c.X1, c.Y1}
}

func (c Crop) Width() int  { return c.X1 - c.X0 }
func (c Crop) Height() int { return c.Y1 - c.Y0 }

// NormalizeFilter lower-cases a filter name and reports whether it is known.
// An empty name resolves to DefaultFilter.
func NormalizeFilter(name string) (string, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return DefaultFilter, true
	}
	for _, known := range Filters {
		if name == known {
			return name, true
		}
	}
	return name, false
}

// Normalized returns a copy with trimmed bags, a resolved filter and a
// defaulted source style. It does not validate.
func (r DerivativeRequest) Normalized() DerivativeRequest {
	out := r
	out.Bags = make([]string, 0, len(r.Bags))
	for _, bag := range r.Bags {
		if bag = strings.TrimSpace(bag); bag != "" {
			out.Bags = append(out.Bags, bag)
		}
	}
	out.Format = strings.TrimSpace(r.Format)
	out.Filter, _ = NormalizeFilter(r.Filter)
	out.SourceStyle = strings.ToLower(strings.TrimSpace(r.SourceStyle))
	if out.SourceStyle == "" {
		out.SourceStyle = SourceStyleDirect
	}
	out.WebhookURL = strings.TrimSpace(r.WebhookURL)
	return out
}

func (r DerivativeRequest) Validate() error {
	if len(r.Bags) == 0 {
		return fmt.Errorf("%w: bags must contain at least one bag", ErrConfiguration)
	}
	for i, bag := range r.Bags {
		bag = strings.TrimSpace(bag)
		if bag == "" {
			return fmt.Errorf("%w: bags[%d] is empty", ErrConfiguration, i)
		}
		if strings.Contains(bag, "/") || bag == "." || bag == ".." {
			return fmt.Errorf("%w: bags[%d] is not a valid bag name: %q", ErrConfiguration, i, bag)
		}
	}
	if err := validateTransform(r.Format, r.Filter, r.Scale, r.Crop); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(r.SourceStyle)) {
	case "", SourceStyleDirect, SourceStyleCatalog:
	default:
		return fmt.Errorf("%w: unsupported source_style %q", ErrConfiguration, r.SourceStyle)
	}
	return nil
}

// validateTransform checks the settings shared by bag and single-file
// requests.
func validateTransform(format, filter string, scale *float64, crop *Crop) error {
	if strings.TrimSpace(format) == "" {
		return fmt.Errorf("%w: format is required", ErrConfiguration)
	}
	if _, ok := NormalizeFilter(filter); !ok {
		return fmt.Errorf("%w: unsupported resample filter %q", ErrConfiguration, filter)
	}
	if scale != nil {
		if v := *scale; math.IsNaN(v) || v <= 0 || v > MaxScale {
			return fmt.Errorf("%w: scale must be in (0, %g], got %g", ErrConfiguration, MaxScale, v)
		}
	}
	if crop != nil {
		return crop.Validate()
	}
	return nil
}
