package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/dunamismax/pixeltensor/internal/domain"
	"github.com/dunamismax/pixeltensor/internal/storage"
)

const (
	SourceTypeObjectStore = domain.SourceTypeObjectStore

	tensorContentType = "application/octet-stream"
)

type ObjectStoreFetcher struct {
	Storage *storage.Client
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if f.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	if !strings.EqualFold(req.SourceType, SourceTypeObjectStore) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	if _, err := classifySource(req.ObjectKey); err != nil {
		return nil, err
	}
	data, err := f.Storage.ReadObject(ctx, req.ObjectKey)
	if errors.Is(err, storage.ErrObjectTooLarge) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInputFile, err)
	}
	return data, err
}

// ObjectStoreEmitter uploads the tensor as a single object. The object only
// becomes visible once the upload completes.
type ObjectStoreEmitter struct {
	Storage      *storage.Client
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req Request, data []byte) (Output, error) {
	if e.Storage == nil {
		return Output{}, errors.New("storage client is required")
	}

	if err := CheckOutputKey(req.OutputKey); err != nil {
		return Output{}, err
	}
	objectKey := path.Join(defaultOutputPrefix(e.OutputPrefix), outputName(req))
	if strings.TrimSpace(req.OutputKey) != "" {
		objectKey = path.Join(defaultOutputPrefix(e.OutputPrefix), sanitizePathToken(req.JobID), outputName(req))
	}

	if err := e.Storage.WriteObject(ctx, objectKey, data, tensorContentType); err != nil {
		return Output{}, fmt.Errorf("%w: %v", ErrIO, err)
	}

	return Output{
		Path:  objectKey,
		Bytes: len(data),
	}, nil
}

func defaultOutputPrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "tensors"
	}
	return prefix
}
