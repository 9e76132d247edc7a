package audio

import (
	"encoding/binary"
	"testing"
	"time"
)

func constPCM(amp int16, samples int) []byte {
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(amp))
	}
	return buf
}

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Fatalf("RMS(nil) = %v, want 0", got)
	}
	if got := RMS(make([]byte, 640)); got != 0 {
		t.Fatalf("RMS(silence) = %v, want 0", got)
	}
	// A constant-amplitude signal has RMS equal to its amplitude.
	if got := RMS(constPCM(3000, 320)); got < 2999 || got > 3001 {
		t.Fatalf("RMS(const 3000) = %v", got)
	}
}

func TestClip_Duration(t *testing.T) {
	c := Clip{PCM: make([]byte, 32000), SampleRate: 16000, Channels: 1}
	if got := c.Duration(); got != time.Second {
		t.Fatalf("Duration = %v, want 1s", got)
	}
	if got := (Clip{PCM: make([]byte, 100)}).Duration(); got != 0 {
		t.Fatalf("Duration with zero rate = %v, want 0", got)
	}
}

func TestFrameDuration(t *testing.T) {
	// 640 bytes of 16 kHz mono is a 20 ms frame.
	if got := FrameDuration(640, 16000, 1); got != 20*time.Millisecond {
		t.Fatalf("FrameDuration = %v, want 20ms", got)
	}
}

func TestEncodeDecodeWAV(t *testing.T) {
	pcm := constPCM(1234, 480)
	wav := EncodeWAV(pcm, 16000, 1)

	clip, err := DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if clip.SampleRate != 16000 || clip.Channels != 1 {
		t.Fatalf("format = %d Hz / %d ch", clip.SampleRate, clip.Channels)
	}
	if len(clip.PCM) != len(pcm) {
		t.Fatalf("payload = %d bytes, want %d", len(clip.PCM), len(pcm))
	}
}

func TestDecodeWAV_Rejects(t *testing.T) {
	cases := map[string][]byte{
		"too short":   []byte("RIFF"),
		"not riff":    make([]byte, 44),
		"no data":     append([]byte("RIFF\x00\x00\x00\x00WAVE"), make([]byte, 4)...),
		"random junk": []byte("definitely not audio content"),
	}
	for name, data := range cases {
		if _, err := DecodeWAV(data); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestResampleMono(t *testing.T) {
	src := constPCM(500, 22050)
	out := ResampleMono(src, 22050, 16000)
	if len(out) != 16000*2 {
		t.Fatalf("resampled length = %d, want %d", len(out), 16000*2)
	}
	// Constant signal stays constant through linear interpolation.
	if v := int16(binary.LittleEndian.Uint16(out[1000:])); v != 500 {
		t.Fatalf("sample = %d, want 500", v)
	}

	same := ResampleMono(src, 16000, 16000)
	if len(same) != len(src) {
		t.Fatalf("same-rate resample changed length: %d", len(same))
	}
}
