package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

// sine generates a mono sine clip.
func sine(freq float64, rate, n int) *Buffer {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return &Buffer{Samples: samples, Rate: rate}
}

func energy(b *Buffer) float64 {
	var sum float64
	for _, s := range b.Samples {
		sum += float64(s) * float64(s)
	}
	return sum / float64(len(b.Samples))
}

func TestResampleIdentity(t *testing.T) {
	b := sine(440, 24000, 24000)
	got, err := Resample(b, 24000)
	if err != nil {
		t.Fatal(err)
	}
	if got != b {
		t.Error("same-rate resample should return the input buffer unchanged")
	}
}

func TestResampleDuration(t *testing.T) {
	tests := []struct {
		name     string
		from, to int
	}{
		{"upsample 16k to 48k", 16000, 48000},
		{"downsample 48k to 24k", 48000, 24000},
		{"fractional 44.1k to 24k", 44100, 24000},
		{"fractional 22.05k to 48k", 22050, 48000},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := sine(440, tc.from, tc.from) // 1 second
			got, err := Resample(b, tc.to)
			if err != nil {
				t.Fatal(err)
			}
			if got.Rate != tc.to {
				t.Errorf("rate = %d; want %d", got.Rate, tc.to)
			}
			want := int(math.Round(float64(len(b.Samples)) * float64(tc.to) / float64(tc.from)))
			if diff := got.Samples; len(diff) < want-1 || len(diff) > want+1 {
				t.Errorf("length = %d; want %d±1", len(diff), want)
			}
		})
	}
}

func TestResampleRoundTripEnergy(t *testing.T) {
	b := sine(440, 24000, 24000)
	up, err := Resample(b, 48000)
	if err != nil {
		t.Fatal(err)
	}
	back, err := Resample(up, 24000)
	if err != nil {
		t.Fatal(err)
	}

	if d := len(back.Samples) - len(b.Samples); d < -1 || d > 1 {
		t.Errorf("round-trip length drifted by %d samples", d)
	}

	e0, e1 := energy(b), energy(back)
	if ratio := e1 / e0; ratio < 0.9 || ratio > 1.1 {
		t.Errorf("round-trip energy ratio = %.3f; want within [0.9, 1.1]", ratio)
	}
}

// wavPCM16 builds a minimal RIFF/WAVE file with 16-bit PCM content.
func wavPCM16(rate, channels int, samples []int16) []byte {
	var data bytes.Buffer
	for _, s := range samples {
		binary.Write(&data, binary.LittleEndian, s)
	}

	var buf bytes.Buffer
	byteRate := rate * channels * 2
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+data.Len()))
	buf.WriteString("WAVEfmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(rate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(channels*2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(data.Len()))
	buf.Write(data.Bytes())
	return buf.Bytes()
}

func TestDecodeWAV(t *testing.T) {
	samples := []int16{0, 8192, 16384, -16384, -8192, 0}
	b, err := DecodeBytes(wavPCM16(16000, 1, samples))
	if err != nil {
		t.Fatal(err)
	}
	if b.Rate != 16000 {
		t.Errorf("rate = %d; want 16000", b.Rate)
	}
	if len(b.Samples) != len(samples) {
		t.Fatalf("got %d samples; want %d", len(b.Samples), len(samples))
	}
	if got := b.Samples[1]; math.Abs(float64(got)-0.25) > 0.001 {
		t.Errorf("sample[1] = %f; want 0.25", got)
	}
}

func TestDecodeStereoDownmix(t *testing.T) {
	// L=0.5, R=0.0 interleaved: downmix should yield 0.25.
	samples := []int16{16384, 0, 16384, 0}
	b, err := DecodeBytes(wavPCM16(24000, 2, samples))
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Samples) != 2 {
		t.Fatalf("got %d samples; want 2", len(b.Samples))
	}
	if got := b.Samples[0]; math.Abs(float64(got)-0.25) > 0.001 {
		t.Errorf("downmixed sample = %f; want 0.25", got)
	}
}

func TestDecodeGarbage(t *testing.T) {
	_, err := DecodeBytes([]byte("this is not audio"))
	if !errors.Is(err, ErrDecode) {
		t.Errorf("err = %v; want ErrDecode", err)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	b := sine(440, 24000, 123)
	got := FromFrame(b.Frame(), 24000)
	if len(got.Samples) != len(b.Samples) {
		t.Fatalf("got %d samples; want %d", len(got.Samples), len(b.Samples))
	}
	for i := range got.Samples {
		if got.Samples[i] != b.Samples[i] {
			t.Fatalf("sample[%d] = %f; want %f", i, got.Samples[i], b.Samples[i])
		}
	}
}
