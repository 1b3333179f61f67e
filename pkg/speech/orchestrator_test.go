package speech

import (
	"context"
	"errors"
	"testing"

	"github.com/eumlab/voiced/pkg/audio"
	"github.com/eumlab/voiced/pkg/engine"
	"github.com/eumlab/voiced/pkg/engine/enginetest"
	"github.com/eumlab/voiced/pkg/signature"
)

const outRate = 24000

func testRuntime(t *testing.T, conv *enginetest.Converter) *engine.Runtime {
	t.Helper()
	rt, err := engine.NewRuntime(engine.RuntimeOptions{
		Converter: conv,
		NewSynthesizer: func(ctx context.Context, l engine.Language) (engine.Synthesizer, error) {
			return &enginetest.Synthesizer{}, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return rt
}

func target() signature.Signature {
	return signature.Signature{Dims: []int{1, 2}, Data: []float32{1, 2}}
}

func TestSpeakEmitsInOrder(t *testing.T) {
	conv := &enginetest.Converter{}
	o := NewOrchestrator(testRuntime(t, conv), outRate, nil)

	var got []*audio.Buffer
	err := o.Speak(context.Background(), Request{Text: "One. Two.", Language: "en", Target: target()},
		func(b *audio.Buffer) error {
			got = append(got, b)
			return nil
		})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("emitted %d segments; want 2", len(got))
	}
	for i, b := range got {
		if b.Rate != outRate {
			t.Errorf("segment %d rate = %d; want %d", i, b.Rate, outRate)
		}
	}
}

func TestSpeakSkipsFailedSentence(t *testing.T) {
	conv := &enginetest.Converter{
		FailConvertCalls: map[int]error{2: errors.New("conversion blew up")},
	}
	o := NewOrchestrator(testRuntime(t, conv), outRate, nil)

	var frames int
	err := o.Speak(context.Background(),
		Request{Text: "One. Two. Three.", Language: "en", Target: target()},
		func(b *audio.Buffer) error {
			frames++
			return nil
		})
	if err != nil {
		t.Fatal(err)
	}
	if frames != 2 {
		t.Errorf("emitted %d segments; want 2 (sentence 2 skipped)", frames)
	}
	if conv.ConvertCalls != 3 {
		t.Errorf("conversion attempted %d times; want 3", conv.ConvertCalls)
	}
}

func TestSpeakAllSentencesFailStillCompletes(t *testing.T) {
	conv := &enginetest.Converter{ConvertErr: errors.New("down")}
	o := NewOrchestrator(testRuntime(t, conv), outRate, nil)

	var frames int
	err := o.Speak(context.Background(),
		Request{Text: "One. Two.", Language: "en", Target: target()},
		func(*audio.Buffer) error { frames++; return nil })
	if err != nil {
		t.Fatalf("a request whose every sentence fails must still complete, got %v", err)
	}
	if frames != 0 {
		t.Errorf("emitted %d segments; want 0", frames)
	}
}

func TestSpeakUnsupportedLanguage(t *testing.T) {
	o := NewOrchestrator(testRuntime(t, &enginetest.Converter{}), outRate, nil)
	err := o.Speak(context.Background(), Request{Text: "hi", Language: "fr", Target: target()},
		func(*audio.Buffer) error { return nil })
	if !errors.Is(err, ErrUnsupportedLanguage) {
		t.Errorf("err = %v; want ErrUnsupportedLanguage", err)
	}
}

func TestSpeakConverterUnavailable(t *testing.T) {
	rt, err := engine.NewRuntime(engine.RuntimeOptions{
		NewSynthesizer: func(ctx context.Context, l engine.Language) (engine.Synthesizer, error) {
			return &enginetest.Synthesizer{}, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	o := NewOrchestrator(rt, outRate, nil)
	err = o.Speak(context.Background(), Request{Text: "hi", Language: "en", Target: target()},
		func(*audio.Buffer) error { return nil })
	if !errors.Is(err, engine.ErrUnavailable) {
		t.Errorf("err = %v; want engine.ErrUnavailable", err)
	}
}

func TestSpeakEmitFailureAborts(t *testing.T) {
	conv := &enginetest.Converter{}
	o := NewOrchestrator(testRuntime(t, conv), outRate, nil)

	dead := errors.New("connection closed")
	err := o.Speak(context.Background(),
		Request{Text: "One. Two. Three.", Language: "en", Target: target()},
		func(*audio.Buffer) error { return dead })
	if !errors.Is(err, dead) {
		t.Fatalf("err = %v; want the emit error", err)
	}
	if conv.ConvertCalls != 1 {
		t.Errorf("conversion ran %d times after a dead transport; want 1", conv.ConvertCalls)
	}
}
