// Package audio defines the PCM audio types shared across the voiceline
// pipeline.
//
// All audio flowing through the core is 16-bit signed little-endian PCM.
// Frames are the atomic transport unit — delivered by the caller's audio
// channel, classified by the endpoint detector, and accumulated into a Clip
// once a spoken turn completes. Clips are what transcription providers
// consume and synthesis providers produce.
package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// bitsPerSample is fixed at 16 for the signed little-endian PCM used
// throughout the pipeline.
const bitsPerSample = 16

// Clip is a finished segment of PCM audio with a declared sample format.
// A Clip is immutable once handed to the pipeline; the PCM slice must not
// be modified after construction.
type Clip struct {
	// PCM holds raw 16-bit signed little-endian samples.
	PCM []byte

	// SampleRate in Hz (e.g., 16000 for transcription input).
	SampleRate int

	// Channels is the channel count. The core pipeline is mono throughout.
	Channels int
}

// Empty reports whether the clip carries no samples.
func (c Clip) Empty() bool {
	return len(c.PCM) == 0
}

// Duration returns the play length of the clip. Returns zero for a clip
// with an invalid sample format.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	samples := len(c.PCM) / (c.Channels * bitsPerSample / 8)
	return time.Duration(samples) * time.Second / time.Duration(c.SampleRate)
}

// FrameDuration returns the play length of n bytes of PCM at the given
// sample format. Used by the endpoint detector to convert frame sizes into
// silence-run durations.
func FrameDuration(n, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	samples := n / (channels * bitsPerSample / 8)
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// RMS computes the root-mean-square energy of pcm interpreted as 16-bit
// signed little-endian samples. The result is in raw sample units: the
// maximum possible value is 32767, speech at conversational volume is
// typically in the low thousands, and near-silence is below a few hundred.
// A trailing odd byte is ignored.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(n))
}

// EncodeWAV wraps raw 16-bit signed little-endian PCM in a standard RIFF/WAV
// container, suitable for batch upload to transcription services that refuse
// headerless audio.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bitsPerSample))

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}
