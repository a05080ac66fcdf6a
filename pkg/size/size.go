package size

import (
	"fmt"
	"time"
)

// Size is a number of bytes
type Size uint64

const (
	KiB = 1024
	MiB = 1024 * KiB
	GiB = 1024 * MiB
)

func (s Size) KiB() float64 {
	return float64(s) / KiB
}

func (s Size) MiB() float64 {
	return float64(s) / MiB
}

func (s Size) GiB() float64 {
	return float64(s) / GiB
}

func (s Size) String() string {
	switch {
	case s < KiB:
		return fmt.Sprintf("%d B", s)
	case s < MiB:
		return fmt.Sprintf("%.2f KiB", s.KiB())
	case s < GiB:
		return fmt.Sprintf("%.2f MiB", s.MiB())
	default:
		return fmt.Sprintf("%.2f GiB", s.GiB())
	}
}

// Rate returns the number of bytes per second if s bytes
// were transferred over d
func Rate(s Size, d time.Duration) Size {
	if d <= 0 {
		return 0
	}

	return Size(float64(s) / d.Seconds())
}
