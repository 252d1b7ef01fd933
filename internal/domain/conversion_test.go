package domain

import (
	"strings"
	"testing"
)

func validSpec() ConvertSpec {
	return ConvertSpec{Shape: "1,3,224,224", DType: "u8"}
}

func TestCreateConversionRequestValidate(t *testing.T) {
	valid := CreateConversionRequest{
		SourceType: SourceTypeObjectStore,
		FileName:   "cat.png",
		Convert:    validSpec(),
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid request, got error: %v", err)
	}

	invalid := CreateConversionRequest{}
	if err := invalid.Validate(); err == nil {
		t.Fatal("expected validation error for empty request")
	}

	missingObjectKey := CreateConversionRequest{
		SourceType: SourceTypeLocalFile,
		Convert:    validSpec(),
	}
	if err := missingObjectKey.Validate(); err == nil {
		t.Fatal("expected validation error for local_file object_key")
	}

	noExtension := CreateConversionRequest{
		SourceType: SourceTypeObjectStore,
		FileName:   "upload",
		Convert:    validSpec(),
	}
	if err := noExtension.Validate(); err == nil {
		t.Fatal("expected validation error for file_name without extension")
	}

	unsupportedSourceType := CreateConversionRequest{
		SourceType: "http_url",
		Convert:    validSpec(),
	}
	if err := unsupportedSourceType.Validate(); err == nil {
		t.Fatal("expected validation error for unsupported source_type")
	}
}

func TestCreateConversionRequestOutputKey(t *testing.T) {
	for _, key := range []string{"", "tensor.dat", "batch/7/tensor.dat"} {
		req := CreateConversionRequest{SourceType: SourceTypeLocalFile, ObjectKey: "/data/in.png", OutputKey: key, Convert: validSpec()}
		if err := req.Validate(); err != nil {
			t.Fatalf("output_key %q: unexpected error %v", key, err)
		}
	}
	for _, key := range []string{"/etc/cron.d/job", "../escaped.dat", "a/../../b.dat", "..", `..\\x.dat`} {
		req := CreateConversionRequest{SourceType: SourceTypeLocalFile, ObjectKey: "/data/in.png", OutputKey: key, Convert: validSpec()}
		err := req.Validate()
		if err == nil {
			t.Fatalf("output_key %q: expected rejection", key)
		}
		if !strings.Contains(err.Error(), "output_key") {
			t.Fatalf("output_key %q: error should name the field, got %v", key, err)
		}
	}
}

func TestConvertSpecValidate(t *testing.T) {
	zero := 0.0
	cases := map[string]ConvertSpec{
		"bad shape":      {Shape: "1,3,224", DType: "u8"},
		"batch of two":   {Shape: "2,3,8,8", DType: "u8"},
		"bad dtype":      {Shape: "1,3,8,8", DType: "f64"},
		"bad layout":     {Shape: "1,3,8,8", DType: "u8", Layout: "chw"},
		"two means":      {Shape: "1,3,8,8", DType: "u8", MeanFile: "m.npy", MeanValue: &zero},
		"short rgb":      {Shape: "1,3,8,8", DType: "u8", MeanRGB: []float64{1, 2}},
		"swap length":    {Shape: "1,3,8,8", DType: "u8", ChannelSwap: []int{1, 0}},
		"negative scale": {Shape: "1,3,8,8", DType: "u8", Scale: -1},
	}
	for name, spec := range cases {
		if err := spec.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}

	ok := ConvertSpec{Shape: "1,3,8,8", DType: "fp16", MeanValue: &zero, Layout: "nhwc", ChannelSwap: []int{2, 1, 0}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("expected valid spec, got %v", err)
	}
	if ok.MeanSources() != 1 {
		t.Fatalf("expected one mean source, got %d", ok.MeanSources())
	}
}

func TestConvertRequestErrorNamesField(t *testing.T) {
	req := CreateConversionRequest{
		SourceType: SourceTypeLocalFile,
		ObjectKey:  "input.png",
		Convert:    ConvertSpec{Shape: "1,3,8,8"},
	}
	err := req.Validate()
	if err == nil || !strings.HasPrefix(err.Error(), "convert:") {
		t.Fatalf("expected convert-prefixed error, got %v", err)
	}
}
