// Package audio holds the PCM helpers shared by capture sources and the
// streaming ingest client.
//
// Wire audio is little-endian signed 16-bit mono PCM. Capture sources produce
// float32 samples in [-1, 1]; [Float32ToPCM16] is the single conversion point
// between the two representations.
package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// MonoConverter converts interleaved 16-bit PCM of an arbitrary format to mono
// at a target sample rate. It logs once on the first format mismatch and once
// on misaligned input. Create one per stream.
type MonoConverter struct {
	TargetRate     int
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert returns pcm (described by src) as mono PCM at c.TargetRate.
// Matching input is returned unchanged. Misaligned input yields nil.
func (c *MonoConverter) Convert(pcm []byte, src Format) []byte {
	frameBytes := 2 * max(src.Channels, 1)
	if len(pcm)%frameBytes != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio: misaligned PCM data, dropping chunk",
				"bytes", len(pcm),
				"format", src.String(),
			)
		})
		return nil
	}
	if src.Channels <= 1 && src.SampleRate == c.TargetRate {
		return pcm
	}

	c.warnedMismatch.Do(func() {
		slog.Info("audio: converting capture format",
			"from", src.String(),
			"to", Format{SampleRate: c.TargetRate, Channels: 1}.String(),
		)
	})

	// Downmix first so the resampler only sees one channel.
	if src.Channels == 2 {
		pcm = StereoToMono(pcm)
	} else if src.Channels > 2 {
		pcm = firstChannel(pcm, src.Channels)
	}
	return ResampleMono16(pcm, src.SampleRate, c.TargetRate)
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
// Uses int32 arithmetic to prevent overflow.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(binary.LittleEndian.Uint16(pcm[i*4:])))
		r := int32(int16(binary.LittleEndian.Uint16(pcm[i*4+2:])))
		avg := (l + r) / 2
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(avg)))
	}
	return out
}

// firstChannel keeps channel 0 of an interleaved multi-channel buffer.
func firstChannel(pcm []byte, channels int) []byte {
	frames := len(pcm) / (2 * channels)
	out := make([]byte, frames*2)
	for i := range frames {
		copy(out[i*2:i*2+2], pcm[i*2*channels:])
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. If srcRate == dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(binary.LittleEndian.Uint16(pcm[srcIdx*2:]))
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = int16(binary.LittleEndian.Uint16(pcm[(srcIdx+1)*2:]))
		}

		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// Float32ToPCM16 converts float samples in [-1, 1] to little-endian int16 PCM.
// Each sample is scaled by 32767, rounded and clamped to [-32768, 32767], so
// out-of-range input saturates instead of wrapping.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Round(float64(s) * 32767)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		} else if math.IsNaN(v) {
			v = 0
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// PCM16ToFloat32 converts little-endian int16 PCM to float samples in [-1, 1].
func PCM16ToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32767
	}
	return out
}

// Peak returns the maximum absolute sample value.
func Peak(samples []float32) float32 {
	var peak float32
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}

// IsSilent reports whether no sample exceeds threshold in magnitude. Silent
// frames are not worth transmitting.
func IsSilent(samples []float32, threshold float32) bool {
	return Peak(samples) <= threshold
}
