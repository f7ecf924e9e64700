//go:build !govips || !cgo

package pipeline

func Startup() error {
	return nil
}

func Shutdown() {}

func newTransformer(fallback DecodeFallback) Transformer {
	return imagingTransformer{fallback: fallback}
}
