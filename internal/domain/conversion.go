package domain

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dunamismax/pixeltensor/internal/tensor"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeObjectStore = "object_store"
)

// ConvertSpec is the wire form of a conversion: target tensor geometry,
// element type and the photometric steps applied before serialization.
// At most one of MeanFile, MeanRGB and MeanValue may be set.
type ConvertSpec struct {
	Shape       string    `json:"shape"`
	DType       string    `json:"dtype"`
	Scale       float64   `json:"scale,omitempty"`
	MeanFile    string    `json:"mean_file,omitempty"`
	MeanRGB     []float64 `json:"mean_rgb,omitempty"`
	MeanValue   *float64  `json:"mean_value,omitempty"`
	ChannelSwap []int     `json:"channel_swap,omitempty"`
	Layout      string    `json:"layout,omitempty"`
	Resize      string    `json:"resize,omitempty"`
}

func (s ConvertSpec) Validate() error {
	shape, err := tensor.ParseShape(s.Shape)
	if err != nil {
		return err
	}
	if _, err := tensor.ParseElementType(s.DType); err != nil {
		return err
	}
	if _, err := tensor.ParseOutputLayout(s.Layout); err != nil {
		return err
	}
	if s.Scale < 0 {
		return fmt.Errorf("scale must not be negative, got %v", s.Scale)
	}
	if s.MeanSources() > 1 {
		return errors.New("at most one of mean_file, mean_rgb and mean_value may be set")
	}
	if len(s.MeanRGB) > 0 && len(s.MeanRGB) != 3 {
		return fmt.Errorf("mean_rgb needs 3 values, got %d", len(s.MeanRGB))
	}
	if len(s.ChannelSwap) > 0 && len(s.ChannelSwap) != shape.C {
		return fmt.Errorf("channel_swap has %d entries for %d channels", len(s.ChannelSwap), shape.C)
	}
	return nil
}

// MeanSources counts how many mean fields are set.
func (s ConvertSpec) MeanSources() int {
	n := 0
	if strings.TrimSpace(s.MeanFile) != "" {
		n++
	}
	if len(s.MeanRGB) > 0 {
		n++
	}
	if s.MeanValue != nil {
		n++
	}
	return n
}

type CreateConversionRequest struct {
	SourceType string `json:"source_type"`
	WebhookURL string `json:"webhook_url,omitempty"`
	// ObjectKey is the source path for local_file sources.
	ObjectKey string `json:"object_key,omitempty"`
	// FileName names the upload for object_store sources. Its extension
	// selects the decoder.
	FileName  string      `json:"file_name,omitempty"`
	OutputKey string      `json:"output_key,omitempty"`
	Convert   ConvertSpec `json:"convert"`
}

func (r CreateConversionRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	switch sourceType {
	case "":
		return errors.New("source_type is required")
	case SourceTypeLocalFile:
		if strings.TrimSpace(r.ObjectKey) == "" {
			return errors.New("object_key is required for source_type=local_file")
		}
	case SourceTypeObjectStore:
		name := strings.TrimSpace(r.FileName)
		if name == "" {
			return errors.New("file_name is required for source_type=object_store")
		}
		if path.Ext(name) == "" {
			return fmt.Errorf("file_name %q has no extension", name)
		}
	default:
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}
	if err := validOutputKey(r.OutputKey); err != nil {
		return err
	}
	if err := r.Convert.Validate(); err != nil {
		return fmt.Errorf("convert: %w", err)
	}
	return nil
}

// validOutputKey allows only relative, slash separated keys that stay
// inside the job's output directory.
func validOutputKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") || !filepath.IsLocal(filepath.FromSlash(key)) {
		return fmt.Errorf("output_key %q must be a relative path without '..'", key)
	}
	return nil
}

type Job struct {
	ID         string
	UserID     string
	Status     string
	SourceType string
	WebhookURL string
	ObjectKey  string
	OutputKey  string
	Convert    ConvertSpec
	// Failure holds the last error message of a failed job.
	Failure   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal reports whether the job reached a final status.
func (j Job) Terminal() bool {
	return j.Status == JobStatusSucceeded || j.Status == JobStatusFailed
}
