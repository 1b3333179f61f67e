package enroll

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/eumlab/voiced/pkg/audio"
	"github.com/eumlab/voiced/pkg/blob"
	"github.com/eumlab/voiced/pkg/enhance"
	"github.com/eumlab/voiced/pkg/engine"
	"github.com/eumlab/voiced/pkg/engine/enginetest"
	"github.com/eumlab/voiced/pkg/signature"
)

// wavPCM16 builds a minimal mono 16-bit RIFF/WAVE file.
func wavPCM16(rate int, samples []float32) []byte {
	var data bytes.Buffer
	for _, s := range samples {
		v := int16(math.Round(float64(s) * 32767))
		binary.Write(&data, binary.LittleEndian, v)
	}
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+data.Len()))
	buf.WriteString("WAVEfmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(rate))
	binary.Write(&buf, binary.LittleEndian, uint32(rate*2))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(data.Len()))
	buf.Write(data.Bytes())
	return buf.Bytes()
}

func testClip() []byte {
	samples := make([]float32, 16000)
	for i := range samples {
		samples[i] = float32(math.Sin(2 * math.Pi * 220 * float64(i) / 16000))
	}
	return wavPCM16(16000, samples)
}

func newPipeline(t *testing.T, conv engine.Converter, den engine.Denoiser) (*Pipeline, *signature.Store) {
	t.Helper()
	local, err := blob.NewDir(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	store, err := signature.NewStore(signature.StoreOptions{
		Local:           local,
		RecordsInMemory: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	rt, err := engine.NewRuntime(engine.RuntimeOptions{
		Converter: conv,
		Denoiser:  den,
		NewSynthesizer: func(ctx context.Context, l engine.Language) (engine.Synthesizer, error) {
			return &enginetest.Synthesizer{}, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	enh, err := enhance.New(den, 24000, nil)
	if err != nil {
		t.Fatal(err)
	}
	p, err := New(Options{
		Store:    store,
		Runtime:  rt,
		Enhancer: enh,
	})
	if err != nil {
		t.Fatal(err)
	}
	return p, store
}

func TestEnrollStoresSignature(t *testing.T) {
	den := &enginetest.Denoiser{}
	p, store := newPipeline(t, &enginetest.Converter{}, den)

	res, err := p.Enroll(context.Background(), "u1", bytes.NewReader(testClip()))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Enhanced {
		t.Error("Enhanced = false; denoiser was configured")
	}
	if den.Calls != 1 {
		t.Errorf("denoiser ran %d times; want 1", den.Calls)
	}
	if len(res.Signature.Data) == 0 {
		t.Error("empty signature in result")
	}
	if !store.Exists(context.Background(), "u1") {
		t.Error("store does not hold the enrolled user")
	}
	rec, err := store.Record("u1")
	if err != nil {
		t.Fatalf("no enrollment record: %v", err)
	}
	if !rec.Enhanced {
		t.Error("record does not carry the enhancement flag")
	}
}

func TestEnrollWithoutDenoiser(t *testing.T) {
	p, _ := newPipeline(t, &enginetest.Converter{}, nil)
	res, err := p.Enroll(context.Background(), "u1", bytes.NewReader(testClip()))
	if err != nil {
		t.Fatal(err)
	}
	if res.Enhanced {
		t.Error("Enhanced = true without a denoiser")
	}
}

func TestEnrollUndecodable(t *testing.T) {
	p, store := newPipeline(t, &enginetest.Converter{}, nil)
	_, err := p.Enroll(context.Background(), "u1", strings.NewReader("not audio at all"))
	if !errors.Is(err, audio.ErrDecode) {
		t.Fatalf("err = %v; want audio.ErrDecode", err)
	}
	if store.Exists(context.Background(), "u1") {
		t.Error("failed enrollment left state in the store")
	}
}

func TestEnrollEngineUnavailable(t *testing.T) {
	p, _ := newPipeline(t, nil, nil)
	_, err := p.Enroll(context.Background(), "u1", bytes.NewReader(testClip()))
	if !errors.Is(err, engine.ErrUnavailable) {
		t.Fatalf("err = %v; want engine.ErrUnavailable", err)
	}
}

func TestEnrollExtractFailureLeavesStoreUntouched(t *testing.T) {
	conv := &enginetest.Converter{ExtractErr: errors.New("extractor crashed")}
	p, store := newPipeline(t, conv, nil)
	_, err := p.Enroll(context.Background(), "u1", bytes.NewReader(testClip()))
	if err == nil {
		t.Fatal("expected extraction error")
	}
	if store.Exists(context.Background(), "u1") {
		t.Error("failed enrollment left state in the store")
	}
}

func TestEnrollURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(testClip())
	}))
	defer srv.Close()

	p, store := newPipeline(t, &enginetest.Converter{}, nil)
	res, err := p.EnrollURL(context.Background(), "u2", srv.URL+"/ref.wav")
	if err != nil {
		t.Fatal(err)
	}
	if res.UserID != "u2" {
		t.Errorf("UserID = %q", res.UserID)
	}
	if !store.Exists(context.Background(), "u2") {
		t.Error("store does not hold the enrolled user")
	}
}

func TestEnrollURLNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	p, _ := newPipeline(t, &enginetest.Converter{}, nil)
	_, err := p.EnrollURL(context.Background(), "u3", srv.URL+"/missing.wav")
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("err = %v; want ErrFetch", err)
	}
}

func TestReenrollReplaces(t *testing.T) {
	p, store := newPipeline(t, &enginetest.Converter{}, nil)
	ctx := context.Background()

	first, err := p.Enroll(ctx, "u1", bytes.NewReader(testClip()))
	if err != nil {
		t.Fatal(err)
	}

	// Half the duration, so the fake extractor's length component differs.
	quiet := wavPCM16(16000, make([]float32, 8000))
	second, err := p.Enroll(ctx, "u1", bytes.NewReader(quiet))
	if err != nil {
		t.Fatal(err)
	}
	if first.Signature.Data[1] == second.Signature.Data[1] {
		t.Fatal("fake extractor produced identical signatures; test cannot observe replacement")
	}

	got, err := store.Get(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Data[1] != second.Signature.Data[1] {
		t.Error("store still serves the first signature after re-enrollment")
	}
}
