package logging

// ProgressSampler suppresses repetitive per-item progress logs while still
// reporting when a batch crosses percentage buckets.
type ProgressSampler struct {
	bucketSize float64
	lastBucket int
}

// NewProgressSampler constructs a sampler that emits when completion crosses
// bucket boundaries (default 10%).
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 10
	}
	return &ProgressSampler{bucketSize: bucketSize, lastBucket: -1}
}

// ShouldLog reports whether done-of-total should be logged. The first call
// and the final item always log.
func (s *ProgressSampler) ShouldLog(done, total int) bool {
	if s == nil || total <= 0 {
		return true
	}
	if done >= total {
		done = total
	}
	percent := float64(done) * 100 / float64(total)
	bucket := int(percent / s.bucketSize)
	if bucket > s.lastBucket || done == total {
		s.lastBucket = bucket
		return true
	}
	return false
}

// Reset clears the sampler state before a new batch.
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	s.lastBucket = -1
}
