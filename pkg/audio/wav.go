package audio

import (
	"encoding/binary"
	"errors"
)

// DecodeWAV extracts the PCM payload and sample format from a RIFF/WAV
// container. Only 16-bit PCM is supported; compressed or float WAV files
// are rejected.
func DecodeWAV(wav []byte) (Clip, error) {
	if len(wav) < 12 {
		return Clip{}, errors.New("audio: WAV data too short to be a valid RIFF file")
	}
	if string(wav[0:4]) != "RIFF" {
		return Clip{}, errors.New("audio: missing RIFF header")
	}
	if string(wav[8:12]) != "WAVE" {
		return Clip{}, errors.New("audio: missing WAVE identifier")
	}

	var (
		sampleRate int
		channels   int
		foundFmt   bool
	)

	// Walk RIFF chunks starting after the 12-byte RIFF/WAVE header. Chunks
	// are word-aligned: odd-sized chunks carry one pad byte.
	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))
		body := offset + 8

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 || body+16 > len(wav) {
				return Clip{}, errors.New("audio: malformed fmt chunk")
			}
			format := binary.LittleEndian.Uint16(wav[body : body+2])
			if format != 1 {
				return Clip{}, errors.New("audio: only uncompressed PCM WAV is supported")
			}
			bits := binary.LittleEndian.Uint16(wav[body+14 : body+16])
			if bits != bitsPerSample {
				return Clip{}, errors.New("audio: only 16-bit WAV is supported")
			}
			channels = int(binary.LittleEndian.Uint16(wav[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(wav[body+4 : body+8]))
			foundFmt = true

		case "data":
			if !foundFmt {
				return Clip{}, errors.New("audio: data chunk before fmt chunk")
			}
			end := body + chunkSize
			if end > len(wav) {
				end = len(wav)
			}
			return Clip{
				PCM:        wav[body:end],
				SampleRate: sampleRate,
				Channels:   channels,
			}, nil
		}

		offset = body + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return Clip{}, errors.New("audio: missing data chunk")
}

// ResampleMono converts mono 16-bit PCM from srcRate to dstRate using linear
// interpolation. Good enough for speech; callers needing hi-fi conversion
// should resample upstream. Returns pcm unchanged when the rates match.
func ResampleMono(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate == dstRate || srcRate <= 0 || dstRate <= 0 || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := 0; i < dstSamples; i++ {
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
