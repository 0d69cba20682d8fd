// Package audio holds the pure PCM transforms between the transport format
// (48 kHz stereo), the STT input format (16 kHz mono WAV) and the synthesis
// output format (24 kHz mono back up to 48 kHz stereo).
package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Downmix averages each interleaved stereo sample pair into one mono sample,
// rounding to nearest. Trailing bytes short of a whole pair are ignored.
func Downmix(stereo []int16) []int16 {
	pairs := len(stereo) / 2
	mono := make([]int16, pairs)
	for i := 0; i < pairs; i++ {
		l := int(stereo[2*i])
		r := int(stereo[2*i+1])
		mono[i] = int16(math.Round(float64(l+r) / 2))
	}
	return mono
}

// Resample lowers the sample rate by nearest-previous-sample decimation.
// No interpolation or filtering: output sample i is input sample
// floor(i*fromRate/toRate).
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out
	}
	ratio := float64(fromRate) / float64(toRate)
	n := int(math.Floor(float64(len(samples)) / ratio))
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = samples[int(math.Floor(float64(i)*ratio))]
	}
	return out
}

// TrimSilence cuts leading and trailing samples whose magnitude stays under
// threshold (a fraction of the buffer's peak amplitude). An all-zero buffer,
// or one with no span above the threshold, trims to nothing.
func TrimSilence(samples []int16, threshold float64) []int16 {
	var peak float64
	for _, s := range samples {
		if a := math.Abs(float64(s)); a > peak {
			peak = a
		}
	}
	if peak == 0 {
		return nil
	}
	energyThreshold := peak * threshold

	start := -1
	for i, s := range samples {
		if math.Abs(float64(s)) > energyThreshold {
			start = i
			break
		}
	}
	end := -1
	for i := len(samples) - 1; i >= 0; i-- {
		if math.Abs(float64(samples[i])) > energyThreshold {
			end = i
			break
		}
	}
	if start < 0 || end < 0 || start >= end {
		return nil
	}
	out := make([]int16, end-start+1)
	copy(out, samples[start:end+1])
	return out
}

// Duration returns the play time in seconds of a mono buffer at sampleRate.
func Duration(samples []int16, sampleRate int) float64 {
	return float64(len(samples)) / float64(sampleRate)
}

// BuildWAV wraps 16-bit PCM bytes in a canonical 44-byte RIFF/WAVE header.
func BuildWAV(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	byteRate := uint32(sampleRate * channels * bitsPerSample / 8)
	blockAlign := uint16(channels * bitsPerSample / 8)
	dataLen := uint32(len(pcm))
	riffSize := uint32(4 + (8 + 16) + (8 + dataLen))

	buf := &bytes.Buffer{}
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, riffSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, blockAlign)
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(pcm)
	return buf.Bytes()
}

// ParseWAV extracts the PCM payload and format of a 16-bit PCM WAV. It walks
// the chunk list so headers with extra chunks (LIST, fact) still parse.
func ParseWAV(b []byte) (pcm []byte, sampleRate, channels int, err error) {
	if len(b) < 44 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return nil, 0, 0, fmt.Errorf("not a RIFF/WAVE buffer")
	}
	off := 12
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + 8
		if body+size > len(b) {
			size = len(b) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, 0, fmt.Errorf("short fmt chunk")
			}
			format := binary.LittleEndian.Uint16(b[body : body+2])
			if format != 1 {
				return nil, 0, 0, fmt.Errorf("unsupported format tag %d", format)
			}
			channels = int(binary.LittleEndian.Uint16(b[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(b[body+4 : body+8]))
			bits := binary.LittleEndian.Uint16(b[body+14 : body+16])
			if bits != 16 {
				return nil, 0, 0, fmt.Errorf("unsupported bit depth %d", bits)
			}
		case "data":
			pcm = b[body : body+size]
		}
		off = body + size
		if size%2 == 1 {
			off++ // chunk bodies are word-aligned
		}
	}
	if sampleRate == 0 || channels == 0 || pcm == nil {
		return nil, 0, 0, fmt.Errorf("missing fmt or data chunk")
	}
	return pcm, sampleRate, channels, nil
}

// UpsampleForPlayback converts mono 24 kHz PCM to 48 kHz stereo by writing
// each input sample to both channels twice in sequence. Duplication instead
// of interpolation keeps the transform exact and cheap.
func UpsampleForPlayback(mono []int16) []int16 {
	out := make([]int16, 0, len(mono)*4)
	for _, s := range mono {
		out = append(out, s, s, s, s)
	}
	return out
}

// BytesToSamples reinterprets little-endian 16-bit PCM bytes as samples.
// A trailing odd byte is dropped.
func BytesToSamples(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i : 2*i+2]))
	}
	return out
}

// SamplesToBytes serializes samples as little-endian 16-bit PCM.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:2*i+2], uint16(s))
	}
	return out
}

// STTPrep configures PrepareForSTT.
type STTPrep struct {
	SourceRate    int     // rate of the incoming stereo buffer
	TargetRate    int     // rate the STT engine wants
	TrimThreshold float64 // fraction of peak amplitude
	MinSeconds    float64 // utterances shorter than this are discarded
}

// PrepareForSTT runs the full capture-side chain: downmix, decimate, trim,
// minimum-duration gate, WAV framing. ok is false when the buffer gated out
// as silence or too-short speech.
func (p STTPrep) PrepareForSTT(stereo []int16) (wav []byte, ok bool) {
	mono := Downmix(stereo)
	mono = Resample(mono, p.SourceRate, p.TargetRate)
	mono = TrimSilence(mono, p.TrimThreshold)
	if len(mono) == 0 {
		return nil, false
	}
	if Duration(mono, p.TargetRate) < p.MinSeconds {
		return nil, false
	}
	return BuildWAV(SamplesToBytes(mono), p.TargetRate, 1, 16), true
}
