//go:build !govips || !cgo

package pipeline

// Startup and Shutdown are no-ops without libvips; decoding uses the
// image/* and x/image codecs.
func Startup() error { return nil }

func Shutdown() {}

func newDecoder() Decoder { return stdlibDecoder{} }
