package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/pixeltensor/internal/tensor"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	SourceTypeLocalFile = "local_file"

	DefaultOutputName = "converted_image.dat"
)

// Options fix the tensor a source file is converted into.
type Options struct {
	Shape       tensor.Shape
	Type        tensor.ElementType
	Layout      tensor.Layout
	Resize      string
	Photometric Photometric
}

func (o Options) Validate() error {
	if err := o.Shape.Validate(); err != nil {
		return err
	}
	if !o.Type.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidElementType, o.Type)
	}
	if _, err := tensor.ParseOutputLayout(string(o.Layout)); err != nil {
		return err
	}
	if _, err := NewResizer(o.Resize); err != nil {
		return err
	}
	return nil
}

type Request struct {
	JobID      string
	SourceType string
	ObjectKey  string
	// OutputKey is the destination path or object key. Empty lets the
	// emitter pick one from JobID.
	OutputKey string
	Options   Options
}

type Output struct {
	Path           string
	Bytes          int
	Elements       int
	Type           tensor.ElementType
	Layout         tensor.Layout
	Dims           []int
	SourceWidth    int
	SourceHeight   int
	SourceChannels int
}

type Result struct {
	SourceBytes int
	Output      Output
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

type Emitter interface {
	Emit(ctx context.Context, req Request, data []byte) (Output, error)
}

// Processor converts one source into one tensor per call. It keeps no
// state between calls.
type Processor struct {
	fetcher Fetcher
	decoder Decoder
	emitter Emitter
	logger  *log.Logger
	tracer  trace.Tracer
}

func NewLocalProcessor(outputDir string, logger *log.Logger) (*Processor, error) {
	return NewProcessor(LocalFileFetcher{}, LocalFileEmitter{OutputDir: outputDir}, logger)
}

func NewProcessor(fetcher Fetcher, emitter Emitter, logger *log.Logger) (*Processor, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if emitter == nil {
		return nil, errors.New("emitter is required")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	return &Processor{
		fetcher: fetcher,
		decoder: newDecoder(),
		emitter: emitter,
		logger:  logger,
		tracer:  otel.Tracer("pixeltensor/pipeline"),
	}, nil
}

func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return Result{}, errors.New("job_id is required")
	}
	if err := req.Options.Validate(); err != nil {
		return Result{}, fmt.Errorf("validate options: %w", err)
	}

	sourceBytes, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}

	final, native, err := p.Convert(ctx, req.ObjectKey, sourceBytes, req.Options)
	if err != nil {
		return Result{}, err
	}

	_, span := p.tracer.Start(ctx, "pipeline.serialize")
	raw, err := Serialize(final)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "serialize failed")
		span.End()
		return Result{}, fmt.Errorf("serialize stage: %w", err)
	}
	span.SetAttributes(attribute.Int("tensor.bytes", len(raw)))
	span.End()

	written, err := p.emitter.Emit(ctx, req, raw)
	if err != nil {
		return Result{}, fmt.Errorf("emit stage: %w", err)
	}
	written.Elements = final.Len()
	written.Type = final.Type
	written.Layout = final.Layout
	written.Dims = append([]int(nil), final.Dims...)
	written.SourceHeight = native.Dims[0]
	written.SourceWidth = native.Dims[1]
	written.SourceChannels = 1
	if native.Layout == tensor.LayoutHWC {
		written.SourceChannels = native.Dims[2]
	}

	return Result{SourceBytes: len(sourceBytes), Output: written}, nil
}

// Convert runs decode, geometry, layout and photometric stages on an
// in-memory source. It returns the tensor in its terminal layout and the
// decoded source buffer.
func (p *Processor) Convert(ctx context.Context, name string, source []byte, opts Options) (*tensor.Buffer, *tensor.Buffer, error) {
	layout, err := tensor.ParseOutputLayout(string(opts.Layout))
	if err != nil {
		return nil, nil, err
	}
	resizer, err := NewResizer(opts.Resize)
	if err != nil {
		return nil, nil, err
	}

	native, err := p.stage(ctx, "decode", func(ctx context.Context) (*tensor.Buffer, error) {
		return p.decoder.Decode(ctx, name, source, opts.Type, opts.Shape)
	})
	if err != nil {
		return nil, nil, err
	}

	if h, w := native.Dims[0], native.Dims[1]; h != opts.Shape.H || w != opts.Shape.W {
		c := 1
		if native.Layout == tensor.LayoutHWC {
			c = native.Dims[2]
		}
		p.logger.Printf("resizing source from (%d, %d, %d) to (%d, %d, %d)", h, w, c, opts.Shape.H, opts.Shape.W, opts.Shape.C)
	}
	sized, err := p.stage(ctx, "geometry", func(context.Context) (*tensor.Buffer, error) {
		return NormalizeGeometry(native, opts.Shape, resizer)
	})
	if err != nil {
		return nil, nil, err
	}

	canonical, err := p.stage(ctx, "layout", func(context.Context) (*tensor.Buffer, error) {
		return ToCanonical(sized)
	})
	if err != nil {
		return nil, nil, err
	}

	adjusted, err := p.stage(ctx, "photometric", func(context.Context) (*tensor.Buffer, error) {
		return opts.Photometric.Apply(canonical)
	})
	if err != nil {
		return nil, nil, err
	}

	final, err := p.stage(ctx, "output_layout", func(context.Context) (*tensor.Buffer, error) {
		return ToOutputLayout(adjusted, layout)
	})
	if err != nil {
		return nil, nil, err
	}
	return final, native, nil
}

func (p *Processor) stage(ctx context.Context, name string, run func(context.Context) (*tensor.Buffer, error)) (*tensor.Buffer, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	ctx, span := p.tracer.Start(ctx, "pipeline."+name)
	defer span.End()

	out, err := run(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, name+" failed")
		return nil, fmt.Errorf("%s stage: %w", name, err)
	}
	span.SetAttributes(
		attribute.String("tensor.layout", string(out.Layout)),
		attribute.String("tensor.type", out.Type.String()),
		attribute.Int("tensor.elements", out.Len()),
	)
	return out, nil
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if !strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	if _, err := classifySource(req.ObjectKey); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(req.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", req.ObjectKey, err)
	}
	return data, nil
}

func outputName(req Request) string {
	if key := strings.TrimSpace(req.OutputKey); key != "" {
		return key
	}
	if strings.TrimSpace(req.JobID) == "" {
		return DefaultOutputName
	}
	return sanitizePathToken(req.JobID) + ".dat"
}

// localOutputPath resolves where a tensor is written. Without a directory
// the key is used verbatim. With one, the tensor lands in dir/<job id>/
// and an explicit key must stay inside it.
func localOutputPath(dir string, req Request) (string, error) {
	name := outputName(req)
	if strings.TrimSpace(dir) == "" {
		return name, nil
	}
	if err := CheckOutputKey(req.OutputKey); err != nil {
		return "", err
	}
	return filepath.Join(dir, sanitizePathToken(req.JobID), filepath.FromSlash(name)), nil
}

// CheckOutputKey accepts an empty key or a relative, slash separated path
// that does not climb out of its directory.
func CheckOutputKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") || !filepath.IsLocal(filepath.FromSlash(key)) {
		return fmt.Errorf("%w: %q must be a relative path without '..'", ErrInvalidOutputKey, key)
	}
	return nil
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
