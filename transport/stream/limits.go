package stream

// DefaultMaxFrame is the default largest encoded frame (3.5 MiB).
const DefaultMaxFrame int = 3_670_016

// MaxFrameHardLimit bounds every frame regardless of configured limits.
const MaxFrameHardLimit int = 16_777_216

// Limits bounds what a peer will read or write.
type Limits struct {
	MaxFrame int `cbor:"max_frame"`
}

// DefaultLimits returns the default limits.
func DefaultLimits() Limits {
	return Limits{MaxFrame: DefaultMaxFrame}
}

// NegotiateLimits returns the smaller of two limit sets.
func NegotiateLimits(a, b Limits) Limits {
	return Limits{MaxFrame: minInt(a.MaxFrame, b.MaxFrame)}
}

func (l Limits) check(size int) error {
	if size > l.MaxFrame {
		return &FrameSizeError{Size: size, Limit: l.MaxFrame}
	}
	if size > MaxFrameHardLimit {
		return &FrameSizeError{Size: size, Limit: MaxFrameHardLimit, Hard: true}
	}
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
