package size_test

import (
	"testing"
	"time"

	"github.com/namvu9/seedbox/pkg/size"
)

func TestString(t *testing.T) {
	for i, test := range []struct {
		size size.Size
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.00 KiB"},
		{3 * size.MiB / 2, "1.50 MiB"},
		{2 * size.GiB, "2.00 GiB"},
	} {
		if got := test.size.String(); got != test.want {
			t.Errorf("%d: want %q got %q", i, test.want, got)
		}
	}
}

func TestRate(t *testing.T) {
	if got := size.Rate(10*size.KiB, 2*time.Second); got != 5*size.KiB {
		t.Errorf("want %s got %s", size.Size(5*size.KiB), got)
	}

	if got := size.Rate(10, 0); got != 0 {
		t.Errorf("want 0 got %s", got)
	}
}
