package arinc429

import (
	"errors"
	"math"
	"testing"
)

func TestDecodeBNR_LiteralWords(t *testing.T) {
	// Bits=3 leaves a 2-bit magnitude at bits 20..19; divisor is 2^3-1=7.
	spec := BNR{Bits: 3, Scale: 7}
	cases := []struct {
		name string
		word uint32
		want float64
	}{
		{name: "Zero", word: 0x000000, want: 0},
		{name: "PositiveOne", word: 1 << 19, want: 1},
		{name: "PositiveMax", word: 3 << 19, want: 3},
		{name: "NegativeMin", word: 1 << 21, want: -4},
		{name: "NegativeOne", word: 1<<21 | 3<<19, want: -1},
		{name: "SSMIgnored", word: 0xC00000 | 1<<19, want: 1},
		{name: "ParityAbove24Ignored", word: 1<<24 | 1<<19, want: 1},
		{name: "PadBitsIgnored", word: 1<<19 | 0x7FFFF, want: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeBNR(tc.word, spec)
			if err != nil {
				t.Fatalf("DecodeBNR() error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("DecodeBNR(%#06x)=%v want %v", tc.word, got, tc.want)
			}
		})
	}
}

func TestDecodeBNR_DivisorIsTwoPowBitsMinusOne(t *testing.T) {
	spec := BNR{Bits: 20, Scale: 180}
	got, err := DecodeBNR(1<<2, spec) // magnitude LSB for Bits=20 sits at bit 2
	if err != nil {
		t.Fatalf("DecodeBNR() error: %v", err)
	}
	want := 180.0 / (math.Exp2(20) - 1)
	if math.Abs(got-want) > 1e-15 {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestDecodeBNR_ResolutionFloors(t *testing.T) {
	spec := BNR{Bits: 3, Scale: 1, Resolution: 0.1}

	got, err := DecodeBNR(1<<19, spec) // 1/7
	if err != nil {
		t.Fatalf("DecodeBNR() error: %v", err)
	}
	if math.Abs(got-0.1) > 1e-12 {
		t.Fatalf("positive got %v want 0.1", got)
	}

	got, err = DecodeBNR(1<<21|3<<19, spec) // -1/7
	if err != nil {
		t.Fatalf("DecodeBNR() error: %v", err)
	}
	if math.Abs(got+0.2) > 1e-12 {
		t.Fatalf("negative got %v want -0.2", got)
	}
}

func TestDecodeBNR_SignRanges(t *testing.T) {
	for _, bits := range []int{2, 11, 15, 20, 22} {
		spec := BNR{Bits: bits, Scale: 180}
		mask := spec.magMask()
		step := mask/97 + 1
		for f := uint32(0); f <= mask; f += step {
			pos, err := DecodeBNR(f<<spec.magShift(), spec)
			if err != nil {
				t.Fatalf("bits=%d: %v", bits, err)
			}
			if pos < 0 || pos > spec.Scale {
				t.Fatalf("bits=%d field=%d positive value %v outside [0,%v]", bits, f, pos, spec.Scale)
			}
			neg, err := DecodeBNR(1<<bnrSignBit|f<<spec.magShift(), spec)
			if err != nil {
				t.Fatalf("bits=%d: %v", bits, err)
			}
			if neg >= 0 || neg < -spec.Scale {
				t.Fatalf("bits=%d field=%d negative value %v outside [-%v,0)", bits, f, neg, spec.Scale)
			}
		}
	}
}

func TestBNR_RoundTripWithinOneLSB(t *testing.T) {
	cases := []struct {
		spec BNR
		vals []float64
	}{
		{spec: BNR{Bits: 20, Scale: 180}, vals: []float64{0, 48.1173, -122.3, 11.5167, -0.0001, 89.9}},
		{spec: BNR{Bits: 15, Scale: 4096}, vals: []float64{250.5, -17.25, 1000}},
		{spec: BNR{Bits: 11, Scale: 32768}, vals: []float64{-1500, 700, 0}},
		{spec: BNR{Bits: 14, Scale: 180}, vals: []float64{-5.5, 12.25, 45}},
	}
	for _, tc := range cases {
		lsb := tc.spec.Scale / tc.spec.divisor()
		for _, v := range tc.vals {
			w, err := EncodeBNR(v, tc.spec)
			if err != nil {
				t.Fatalf("EncodeBNR(%v): %v", v, err)
			}
			got, err := DecodeBNR(w, tc.spec)
			if err != nil {
				t.Fatalf("DecodeBNR(%#06x): %v", w, err)
			}
			if math.Abs(got-v) > lsb {
				t.Fatalf("bits=%d scale=%v: round trip %v -> %#06x -> %v exceeds lsb %v", tc.spec.Bits, tc.spec.Scale, v, w, got, lsb)
			}
		}
	}
}

func TestDecodeBNR_InvalidBits(t *testing.T) {
	for _, bits := range []int{0, 1, 23, 32} {
		_, err := DecodeBNR(0, BNR{Bits: bits, Scale: 1})
		if !errors.Is(err, ErrInvalidDecodeSpec) {
			t.Fatalf("bits=%d err=%v want ErrInvalidDecodeSpec", bits, err)
		}
	}
}

func TestDecodeBCD_UTCTime(t *testing.T) {
	// 12:35:19 as hours(5) minutes(6) seconds(6) behind a 1-bit spare digit.
	spec := BCD{Digits: []int{1, 5, 6, 6}, Scales: []float64{0, 3600, 60, 1}}
	word := uint32(12<<15 | 35<<9 | 19<<3)

	got, err := DecodeBCD(word, spec)
	if err != nil {
		t.Fatalf("DecodeBCD() error: %v", err)
	}
	if got != 45319 {
		t.Fatalf("got %v want 45319", got)
	}

	// Parity and SSM do not participate.
	got, err = DecodeBCD(word|0xE00000, spec)
	if err != nil {
		t.Fatalf("DecodeBCD() error: %v", err)
	}
	if got != 45319 {
		t.Fatalf("with P/SSM got %v want 45319", got)
	}
}

func TestDecodeBCD_LinearCombination(t *testing.T) {
	partitions := [][]int{
		{21},
		{4, 4, 4, 4, 4},
		{3, 4, 4, 4, 4},
		{1, 5, 6, 6},
		{2, 2, 2, 2, 2, 2, 2, 2, 2, 2},
	}
	for _, digits := range partitions {
		scales := make([]float64, len(digits))
		groups := make([]uint32, len(digits))
		want := 0.0
		for i, n := range digits {
			scales[i] = float64(i+1) * 0.5
			groups[i] = uint32((i*7 + 3) % (1 << uint(n)))
			want += float64(groups[i]) * scales[i]
		}
		word, err := EncodeBCD(groups, digits)
		if err != nil {
			t.Fatalf("EncodeBCD(%v): %v", digits, err)
		}
		got, err := DecodeBCD(word, BCD{Digits: digits, Scales: scales})
		if err != nil {
			t.Fatalf("DecodeBCD(%v): %v", digits, err)
		}
		if math.Abs(got-want) > 1e-9 {
			t.Fatalf("digits=%v got %v want %v", digits, got, want)
		}
	}
}

func TestDecodeBCD_InvalidSpec(t *testing.T) {
	cases := []BCD{
		{Digits: []int{4, 4}, Scales: []float64{1}},
		{Digits: []int{0}, Scales: []float64{1}},
		{Digits: []int{11, 11}, Scales: []float64{1, 1}},
	}
	for _, spec := range cases {
		_, err := DecodeBCD(0, spec)
		if !errors.Is(err, ErrInvalidDecodeSpec) {
			t.Fatalf("spec=%+v err=%v want ErrInvalidDecodeSpec", spec, err)
		}
	}
}
