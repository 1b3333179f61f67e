package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eumlab/voiced/pkg/audio"
	"github.com/eumlab/voiced/pkg/signature"
)

type stubSynth struct{ rate int }

func (s *stubSynth) Synthesize(_ context.Context, text string) (*audio.Buffer, error) {
	return &audio.Buffer{Samples: make([]float32, len(text)*10+10), Rate: s.rate}, nil
}

type stubConverter struct{ extracts atomic.Int32 }

func (c *stubConverter) Extract(_ context.Context, clip *audio.Buffer) (signature.Signature, error) {
	c.extracts.Add(1)
	return signature.Signature{Dims: []int{1}, Data: []float32{float32(len(clip.Samples))}}, nil
}

func (c *stubConverter) Convert(_ context.Context, clip *audio.Buffer, _, _ signature.Signature) (*audio.Buffer, error) {
	return clip, nil
}

func TestSynthesizerSingleFlight(t *testing.T) {
	var loads atomic.Int32
	rt, err := NewRuntime(RuntimeOptions{
		Converter: &stubConverter{},
		NewSynthesizer: func(ctx context.Context, l Language) (Synthesizer, error) {
			loads.Add(1)
			time.Sleep(20 * time.Millisecond) // widen the race window
			return &stubSynth{rate: 22050}, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := rt.Synthesizer(context.Background(), "ko"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if n := loads.Load(); n != 1 {
		t.Errorf("factory ran %d times for concurrent first use; want 1", n)
	}
	if got := rt.LoadedLanguages(); len(got) != 1 || got[0] != "ko" {
		t.Errorf("LoadedLanguages = %v; want [ko]", got)
	}
}

func TestSynthesizerFailedLoadRetries(t *testing.T) {
	var loads atomic.Int32
	boom := errors.New("model missing")
	rt, err := NewRuntime(RuntimeOptions{
		NewSynthesizer: func(ctx context.Context, l Language) (Synthesizer, error) {
			if loads.Add(1) == 1 {
				return nil, boom
			}
			return &stubSynth{rate: 22050}, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := rt.Synthesizer(context.Background(), "en"); !errors.Is(err, boom) {
		t.Fatalf("first load err = %v; want %v", err, boom)
	}
	if _, err := rt.Synthesizer(context.Background(), "en"); err != nil {
		t.Fatalf("retry after failed load: %v", err)
	}
	if n := loads.Load(); n != 2 {
		t.Errorf("factory ran %d times; want 2", n)
	}
}

func TestUnknownLanguage(t *testing.T) {
	rt, err := NewRuntime(RuntimeOptions{
		NewSynthesizer: func(ctx context.Context, l Language) (Synthesizer, error) {
			return &stubSynth{rate: 22050}, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := rt.Synthesizer(context.Background(), "xx"); !errors.Is(err, ErrUnknownLanguage) {
		t.Errorf("err = %v; want ErrUnknownLanguage", err)
	}
}

func TestSourceSignatureDerivedOnce(t *testing.T) {
	conv := &stubConverter{}
	rt, err := NewRuntime(RuntimeOptions{
		Converter: conv,
		NewSynthesizer: func(ctx context.Context, l Language) (Synthesizer, error) {
			return &stubSynth{rate: 22050}, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := rt.SourceSignature(context.Background(), "ja"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if n := conv.extracts.Load(); n != 1 {
		t.Errorf("source signature extracted %d times; want 1", n)
	}
}

func TestSourceSignaturePrecomputed(t *testing.T) {
	dir := t.TempDir()
	want := signature.Signature{Dims: []int{1, 2}, Data: []float32{0.1, 0.2}}
	data, err := signature.Encode(want)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "en.sig"), data, 0o644); err != nil {
		t.Fatal(err)
	}

	conv := &stubConverter{}
	rt, err := NewRuntime(RuntimeOptions{
		Converter: conv,
		SourceDir: dir,
		NewSynthesizer: func(ctx context.Context, l Language) (Synthesizer, error) {
			t.Error("synthesizer should not load when a precomputed source exists")
			return &stubSynth{rate: 22050}, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := rt.SourceSignature(context.Background(), "en")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Data) != 2 || got.Data[0] != 0.1 {
		t.Errorf("got %v; want %v", got, want)
	}
	if n := conv.extracts.Load(); n != 0 {
		t.Errorf("extract ran %d times with a precomputed source on disk; want 0", n)
	}
}

func TestConverterUnavailable(t *testing.T) {
	rt, err := NewRuntime(RuntimeOptions{
		NewSynthesizer: func(ctx context.Context, l Language) (Synthesizer, error) {
			return &stubSynth{rate: 22050}, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if rt.Ready() {
		t.Error("Ready = true without a converter")
	}
	if _, err := rt.Converter(); !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v; want ErrUnavailable", err)
	}
}
