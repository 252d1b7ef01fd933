//go:build govips && cgo

package pipeline

import (
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

// libvips may be started once per process; after Shutdown it stays down.
var vipsRuntime struct {
	sync.Mutex
	running bool
	stopped bool
}

// Startup brings up libvips for the decoder. Every conversion decodes a
// different file exactly once, so the operation cache is kept small.
func Startup() error {
	vipsRuntime.Lock()
	defer vipsRuntime.Unlock()
	if vipsRuntime.running || vipsRuntime.stopped {
		return nil
	}

	vips.LoggingSettings(nil, vips.LogLevelWarning)
	vips.Startup(&vips.Config{
		MaxCacheFiles: 0,
		MaxCacheMem:   32 << 20,
		MaxCacheSize:  16,
	})
	vipsRuntime.running = true
	return nil
}

func Shutdown() {
	vipsRuntime.Lock()
	defer vipsRuntime.Unlock()
	if !vipsRuntime.running {
		return
	}
	vips.Shutdown()
	vipsRuntime.running = false
	vipsRuntime.stopped = true
}

func newDecoder() Decoder {
	return govipsDecoder{}
}
