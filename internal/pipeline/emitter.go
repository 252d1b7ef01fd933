package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// LocalFileEmitter writes the tensor through a temporary file that is
// renamed over the destination, so a failed run never leaves a truncated
// file behind. An existing destination is replaced. With an OutputDir,
// every job writes below OutputDir/<job id>/.
type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(ctx context.Context, req Request, data []byte) (Output, error) {
	select {
	case <-ctx.Done():
		return Output{}, ctx.Err()
	default:
	}

	fullPath, err := localOutputPath(e.OutputDir, req)
	if err != nil {
		return Output{}, err
	}
	if dir := filepath.Dir(fullPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Output{}, fmt.Errorf("%w: create output dir: %v", ErrIO, err)
		}
	}
	if err := renameio.WriteFile(fullPath, data, 0o644); err != nil {
		return Output{}, fmt.Errorf("%w: write %s: %v", ErrIO, fullPath, err)
	}

	return Output{
		Path:  fullPath,
		Bytes: len(data),
	}, nil
}
