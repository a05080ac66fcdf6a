package bits_test

import (
	"reflect"
	"testing"

	"github.com/namvu9/seedbox/pkg/bits"
)

func TestIndices(t *testing.T) {
	for i, test := range []struct {
		bitField bits.BitField
		want     []int
	}{
		{bits.BitField{0b11001101}, []int{0, 1, 4, 5, 7}},
		{bits.BitField{0, 0b11001101}, []int{8, 9, 12, 13, 15}},
		{bits.BitField{128, 128}, []int{0, 8}},
		{bits.BitField{0, 0}, nil},
	} {
		if got := test.bitField.Indices(); !reflect.DeepEqual(got, test.want) {
			t.Errorf("%d: Want %v got %v", i, test.want, got)
		}

		if got := test.bitField.Count(); got != len(test.want) {
			t.Errorf("%d: Count want %d got %d", i, len(test.want), got)
		}
	}
}

func TestIndexSet(t *testing.T) {
	for i, test := range []struct {
		bitField bits.BitField
		index    int
		want     bool
	}{
		{
			bitField: []byte{0b11111111, 0b10000000},
			index:    8,
			want:     true,
		},
		{
			bitField: []byte{0b11111111, 0b10000000},
			index:    9,
			want:     false,
		},
		{
			bitField: []byte{0b11111110, 0b10000000},
			index:    7,
			want:     false,
		},
		{
			bitField: []byte{0b11111111},
			index:    8,
			want:     false,
		},
		{
			bitField: []byte{0b11111111},
			index:    -1,
			want:     false,
		},
	} {
		if got := test.bitField.Get(test.index); got != test.want {
			t.Errorf("%d: Want %v got %v", i, test.want, got)
		}
	}
}

func TestSetUnset(t *testing.T) {
	bf := bits.NewBitField(10)
	if got := len(bf); got != 2 {
		t.Fatalf("len want %d got %d", 2, got)
	}

	for _, idx := range []int{0, 3, 9} {
		if err := bf.Set(idx); err != nil {
			t.Fatal(err)
		}
	}

	if err := bf.Set(16); err == nil {
		t.Errorf("Set(16) want error got nil")
	}

	if err := bf.Unset(3); err != nil {
		t.Fatal(err)
	}

	if want, got := []int{0, 9}, bf.Indices(); !reflect.DeepEqual(want, got) {
		t.Errorf("Want %v got %v", want, got)
	}

	if got := bits.Ones(10).Count(); got != 10 {
		t.Errorf("Ones(10).Count() want %d got %d", 10, got)
	}
}
