package domain

import "time"

type UsageLog struct {
	UserID         string
	JobID          string
	SourcePixels   int64
	TensorElements int64
	OutputBytes    int64
	ComputeTimeMS  int64
	CreatedAt      time.Time
}
