package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dunamismax/imageq/internal/domain"
	"github.com/spf13/cobra"
)

// requestFlags binds the derivative parameters shared by every command.
type requestFlags struct {
	bags        []string
	format      string
	filter      string
	scale       float64
	crop        string
	upload      bool
	useCatalog  bool
	sourceStyle string
	webhookURL  string
}

func (f *requestFlags) bind(cmd *cobra.Command, withBags bool) {
	flags := cmd.Flags()
	if withBags {
		flags.StringSliceVarP(&f.bags, "bag", "b", nil, "Bag to process (repeatable or comma separated)")
		flags.BoolVar(&f.upload, "upload", false, "Upload derivatives to the destination bucket")
		flags.BoolVar(&f.useCatalog, "catalog", false, "Record derivatives in the metadata catalog")
		flags.StringVar(&f.sourceStyle, "source-style", domain.SourceStyleDirect, "Where to find sources: direct or catalog")
		flags.StringVar(&f.webhookURL, "webhook-url", "", "Webhook notified when the task finishes")
	}
	flags.StringVarP(&f.format, "format", "f", "", "Output format, for example jpeg, png or tiff")
	flags.StringVar(&f.filter, "filter", "", "Resample filter used when scaling (default antialias)")
	flags.Float64VarP(&f.scale, "scale", "s", 0, "Resize factor applied to both dimensions")
	flags.StringVar(&f.crop, "crop", "", "Crop box as x0,y0,x1,y1")
	_ = cmd.MarkFlagRequired("format")
}

func (f *requestFlags) request(cmd *cobra.Command) (domain.DerivativeRequest, error) {
	req := domain.DerivativeRequest{
		Bags:        f.bags,
		Format:      f.format,
		Filter:      f.filter,
		Upload:      f.upload,
		UseCatalog:  f.useCatalog,
		SourceStyle: f.sourceStyle,
		WebhookURL:  f.webhookURL,
	}
	if cmd.Flags().Changed("scale") {
		scale := f.scale
		req.Scale = &scale
	}
	if strings.TrimSpace(f.crop) != "" {
		crop, err := parseCrop(f.crop)
		if err != nil {
			return domain.DerivativeRequest{}, err
		}
		req.Crop = &crop
	}
	return req.Normalized(), nil
}

func parseCrop(value string) (domain.Crop, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 4 {
		return domain.Crop{}, fmt.Errorf("%w: crop must be x0,y0,x1,y1, got %q", domain.ErrConfiguration, value)
	}
	var values [4]int
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return domain.Crop{}, fmt.Errorf("%w: crop value %q is not an integer", domain.ErrConfiguration, part)
		}
		values[i] = n
	}
	return domain.Crop{X0: values[0], Y0: values[1], X1: values[2], Y1: values[3]}, nil
}
