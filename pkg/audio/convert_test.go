package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/MrWong99/veritas/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestFloat32ToPCM16(t *testing.T) {
	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{"zero", 0, 0},
		{"full positive", 1, 32767},
		{"full negative", -1, -32767},
		{"half", 0.5, 16384},
		{"clamps above", 1.5, 32767},
		{"clamps below", -2, -32768},
		{"rounds", 0.00002, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := bytesToSamples(audio.Float32ToPCM16([]float32{tc.in}))
			if len(got) != 1 {
				t.Fatalf("len = %d, want 1", len(got))
			}
			if got[0] != tc.want {
				t.Errorf("Float32ToPCM16(%v) = %d, want %d", tc.in, got[0], tc.want)
			}
		})
	}
}

func TestPCM16RoundTrip(t *testing.T) {
	in := []float32{0, 0.25, -0.25, 1, -1}
	out := audio.PCM16ToFloat32(audio.Float32ToPCM16(in))
	for i := range in {
		diff := in[i] - out[i]
		if diff < -1e-4 || diff > 1e-4 {
			t.Errorf("sample %d: got %v, want %v", i, out[i], in[i])
		}
	}
}

func TestIsSilent(t *testing.T) {
	if !audio.IsSilent([]float32{0, 0.0005, -0.001}, 0.001) {
		t.Error("frame at or below threshold should be silent")
	}
	if audio.IsSilent([]float32{0, -0.002}, 0.001) {
		t.Error("frame with a loud sample should not be silent")
	}
	if got := audio.Peak([]float32{0.1, -0.7, 0.3}); got != 0.7 {
		t.Errorf("Peak = %v, want 0.7", got)
	}
}

func TestStereoToMono(t *testing.T) {
	stereo := samplesToBytes([]int16{100, 200, -100, -200})
	got := bytesToSamples(audio.StereoToMono(stereo))
	want := []int16{150, -150}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestStereoToMono_NoOverflow(t *testing.T) {
	stereo := samplesToBytes([]int16{32767, 32767, -32768, -32768})
	got := bytesToSamples(audio.StereoToMono(stereo))
	if got[0] != 32767 || got[1] != -32768 {
		t.Errorf("got %v, want [32767 -32768]", got)
	}
}

func TestResampleMono16_Halves(t *testing.T) {
	in := samplesToBytes([]int16{0, 100, 200, 300, 400, 500, 600, 700})
	got := bytesToSamples(audio.ResampleMono16(in, 32000, 16000))
	want := []int16{0, 200, 400, 600}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestMonoConverter(t *testing.T) {
	c := &audio.MonoConverter{TargetRate: 16000}

	mono := samplesToBytes([]int16{1, 2, 3, 4})
	if got := c.Convert(mono, audio.Format{SampleRate: 16000, Channels: 1}); len(got) != len(mono) {
		t.Errorf("matching format should pass through, got %d bytes", len(got))
	}

	stereo32k := samplesToBytes([]int16{10, 30, 10, 30, 50, 70, 50, 70})
	got := bytesToSamples(c.Convert(stereo32k, audio.Format{SampleRate: 32000, Channels: 2}))
	want := []int16{20, 60}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}

	if got := c.Convert([]byte{1, 2, 3}, audio.Format{SampleRate: 16000, Channels: 1}); got != nil {
		t.Errorf("misaligned input should yield nil, got %v", got)
	}
}
