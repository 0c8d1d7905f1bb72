package audio

import (
	"testing"
	"time"
)

func TestNewFrame_CopiesInput(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	f := NewFrame(pcm)
	pcm[0] = 99

	if f.Bytes()[0] != 1 {
		t.Error("expected frame to be unaffected by later writes to the input")
	}

	b := f.Bytes()
	b[1] = 99
	if f.Bytes()[1] != 2 {
		t.Error("expected Bytes to return a copy")
	}
}

func TestNewFrame_DropsOddTrailingByte(t *testing.T) {
	f := NewFrame([]byte{1, 2, 3})
	if f.Len() != 2 {
		t.Errorf("expected 2 bytes, got %d", f.Len())
	}
}

func TestFrameFromSamples_RoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768, 1234}
	out := FrameFromSamples(in).Samples()
	if len(out) != len(in) {
		t.Fatalf("expected %d samples, got %d", len(in), len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("sample %d: expected %d, got %d", i, in[i], out[i])
		}
	}
}

func TestSilence(t *testing.T) {
	f := Silence(2240)
	if f.Len() != 2240 {
		t.Errorf("expected 2240 bytes, got %d", f.Len())
	}
	for i, b := range f.Bytes() {
		if b != 0 {
			t.Fatalf("byte %d not zero", i)
		}
	}
	if Silence(-5).Len() != 0 {
		t.Error("expected negative length to produce an empty frame")
	}
}

func TestFrameDuration(t *testing.T) {
	f := Silence(FrameSamples * BytesPerSample)
	if got := f.Duration(SampleRate); got != 64*time.Millisecond {
		t.Errorf("expected 64ms, got %v", got)
	}
	if got := BytesDuration(32000, 16000); got != time.Second {
		t.Errorf("expected 1s, got %v", got)
	}
}

func TestRMS(t *testing.T) {
	tests := []struct {
		name    string
		samples []int16
		want    float64
	}{
		{"empty", nil, 0},
		{"silence", make([]int16, 1024), 0},
		{"constant", []int16{200, 200, 200, 200}, 200},
		{"alternating", []int16{300, -300, 300, -300}, 300},
		{"mixed", []int16{3, 4}, 3.5355339059327378},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RMS(FrameFromSamples(tt.samples))
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("RMS = %v, want %v", got, tt.want)
			}
		})
	}
}
