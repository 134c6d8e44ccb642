package logging

// ProgressSampler suppresses repetitive progress logs. It emits when the
// percentage crosses a bucket boundary or, for transfers of unknown size,
// when the byte count crosses the next fixed step.
type ProgressSampler struct {
	bucketSize float64
	byteStep   int64
	lastBucket int
	nextBytes  int64
}

// NewProgressSampler constructs a sampler that emits every bucketSize percent
// (default 10) or every byteStep bytes when the total is unknown (default 64 MiB).
func NewProgressSampler(bucketSize float64, byteStep int64) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 10
	}
	if byteStep <= 0 {
		byteStep = 64 << 20
	}
	return &ProgressSampler{bucketSize: bucketSize, byteStep: byteStep, lastBucket: -1, nextBytes: byteStep}
}

// ShouldLog reports whether progress at written of total bytes should be
// logged. A total <= 0 means the size is unknown.
func (s *ProgressSampler) ShouldLog(written, total int64) bool {
	if s == nil {
		return true
	}
	if total <= 0 {
		if written >= s.nextBytes {
			for s.nextBytes <= written {
				s.nextBytes += s.byteStep
			}
			return true
		}
		return false
	}
	percent := float64(written) * 100 / float64(total)
	bucket := int(percent / s.bucketSize)
	if percent >= 100 {
		bucket = int(100 / s.bucketSize)
	}
	if bucket > s.lastBucket {
		s.lastBucket = bucket
		return true
	}
	return false
}

// Reset clears the sampler state (e.g. when a new transfer starts).
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	s.lastBucket = -1
	s.nextBytes = s.byteStep
}
