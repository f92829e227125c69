// Package metrics provides shared constants for metric collectors.
package metrics

// Histogram bucket configuration constants.
const (
	// BucketStart100us is the starting bucket for sub-millisecond operations (100 microseconds)
	BucketStart100us = 0.0001
	// BucketStart1ms is the starting bucket for fast operations (1 millisecond)
	BucketStart1ms = 0.001
	// BucketStart10ms is the starting bucket for medium operations (10 milliseconds)
	BucketStart10ms = 0.01

	// BucketFactor2 doubles each bucket size
	BucketFactor2 = 2.0

	// BucketCount10 provides 10 buckets
	BucketCount10 = 10
	// BucketCount12 provides 12 buckets for finer resolution
	BucketCount12 = 12

	// SizeBucketStart64 is the starting bucket for payload sizes (64 bytes)
	SizeBucketStart64 = 64
	// SizeBucketFactor4 quadruples each size bucket
	SizeBucketFactor4 = 4.0
	// SizeBucketCount8 provides 8 size buckets (64B to ~1MB)
	SizeBucketCount8 = 8
)
