// Package onnx runs the pretrained Stable Diffusion backbone through ONNX
// Runtime: the UNet noise model, the VAE encoder/decoder, the CLIP text
// encoder, and optionally the CLIP image embedder.
//
// The backend is inference-only. It does not implement the VJP
// capabilities, so gradient-guided solver variants reject it at
// construction.
package onnx

import (
	"fmt"
	"os"
	"path/filepath"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/ldmsolve/ldmsolve/ml"
	"github.com/ldmsolve/ldmsolve/tokenizer"
)

// Config locates the exported model files.
type Config struct {
	// ModelDir holds tokenizer/ plus the ONNX graphs: unet.onnx,
	// vae_encoder.onnx, vae_decoder.onnx, text_encoder.onnx, and the
	// optional clip_image.onnx.
	ModelDir string
	// LibraryPath points at the onnxruntime shared library. Empty means
	// auto-detection from the usual install locations.
	LibraryPath string
	// Threads caps intra-op parallelism; 0 keeps the runtime default.
	Threads int
}

// Backend bundles the inference sessions behind the solver's capability
// interfaces.
type Backend struct {
	tok *tokenizer.CLIP

	unet      *ort.DynamicAdvancedSession
	vaeEnc    *ort.DynamicAdvancedSession
	vaeDec    *ort.DynamicAdvancedSession
	text      *ort.DynamicAdvancedSession
	clipImage *ort.DynamicAdvancedSession
}

// Open initializes the runtime and loads every session found in ModelDir.
// The image embedder is optional; everything else is required.
func Open(cfg Config) (*Backend, error) {
	lib := cfg.LibraryPath
	if lib == "" {
		lib = findLibrary()
	}
	if lib == "" {
		return nil, fmt.Errorf("onnx: onnxruntime shared library not found")
	}
	ort.SetSharedLibraryPath(lib)
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("onnx: initialize environment: %w", err)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx: session options: %w", err)
	}
	defer opts.Destroy()
	opts.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll)
	if cfg.Threads > 0 {
		opts.SetIntraOpNumThreads(cfg.Threads)
	}

	b := &Backend{}

	b.tok, err = tokenizer.Load(filepath.Join(cfg.ModelDir, "tokenizer"))
	if err != nil {
		b.Close()
		return nil, err
	}

	load := func(name string, inputs, outputs []string) (*ort.DynamicAdvancedSession, error) {
		path := filepath.Join(cfg.ModelDir, name)
		session, err := ort.NewDynamicAdvancedSession(path, inputs, outputs, opts)
		if err != nil {
			return nil, fmt.Errorf("onnx: load %s: %w", name, err)
		}
		return session, nil
	}

	if b.unet, err = load("unet.onnx", []string{"sample", "timestep", "encoder_hidden_states"}, []string{"out_sample"}); err != nil {
		b.Close()
		return nil, err
	}
	if b.vaeEnc, err = load("vae_encoder.onnx", []string{"sample"}, []string{"latent_sample"}); err != nil {
		b.Close()
		return nil, err
	}
	if b.vaeDec, err = load("vae_decoder.onnx", []string{"latent_sample"}, []string{"sample"}); err != nil {
		b.Close()
		return nil, err
	}
	if b.text, err = load("text_encoder.onnx", []string{"input_ids"}, []string{"last_hidden_state"}); err != nil {
		b.Close()
		return nil, err
	}

	// optional image embedder for adaptive negation
	if _, statErr := os.Stat(filepath.Join(cfg.ModelDir, "clip_image.onnx")); statErr == nil {
		if b.clipImage, err = load("clip_image.onnx", []string{"pixel_values"}, []string{"image_embeds"}); err != nil {
			b.Close()
			return nil, err
		}
	}

	return b, nil
}

func findLibrary() string {
	candidates := []string{
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.dylib",
		"/opt/homebrew/lib/libonnxruntime.dylib",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// Close destroys every session and tears down the runtime environment.
func (b *Backend) Close() error {
	for _, s := range []*ort.DynamicAdvancedSession{b.unet, b.vaeEnc, b.vaeDec, b.text, b.clipImage} {
		if s != nil {
			s.Destroy()
		}
	}
	return ort.DestroyEnvironment()
}

// HasImageEmbedder reports whether clip_image.onnx was found.
func (b *Backend) HasImageEmbedder() bool { return b.clipImage != nil }

// NoiseForward implements ml.NoiseModel over the UNet session.
func (b *Backend) NoiseForward(latents *ml.Tensor, timesteps []int, cond *ml.Tensor) (*ml.Tensor, error) {
	sample, err := ort.NewTensor(shapeOf(latents), toFloat32(latents.Data))
	if err != nil {
		return nil, fmt.Errorf("onnx: sample tensor: %w", err)
	}
	defer sample.Destroy()

	ts := make([]int64, len(timesteps))
	for i, t := range timesteps {
		ts[i] = int64(t)
	}
	tsTensor, err := ort.NewTensor(ort.NewShape(int64(len(ts))), ts)
	if err != nil {
		return nil, fmt.Errorf("onnx: timestep tensor: %w", err)
	}
	defer tsTensor.Destroy()

	emb, err := ort.NewTensor(shapeOf(cond), toFloat32(cond.Data))
	if err != nil {
		return nil, fmt.Errorf("onnx: conditioning tensor: %w", err)
	}
	defer emb.Destroy()

	out, err := b.run(b.unet, []ort.Value{sample, tsTensor, emb})
	if err != nil {
		return nil, fmt.Errorf("onnx: unet: %w", err)
	}
	return ml.FromSlice(out, latents.Shape...), nil
}

// EncodePosteriorSample implements ml.CodecBackend. The exported encoder
// graph samples the posterior internally, so repeated calls may differ.
func (b *Backend) EncodePosteriorSample(x *ml.Tensor) (*ml.Tensor, error) {
	in, err := ort.NewTensor(shapeOf(x), toFloat32(x.Data))
	if err != nil {
		return nil, fmt.Errorf("onnx: encoder input: %w", err)
	}
	defer in.Destroy()

	out, err := b.run(b.vaeEnc, []ort.Value{in})
	if err != nil {
		return nil, fmt.Errorf("onnx: vae encoder: %w", err)
	}
	h, w := x.Shape[2]/8, x.Shape[3]/8
	return ml.FromSlice(out, 1, 4, h, w), nil
}

// Reconstruct implements ml.CodecBackend over the VAE decoder.
func (b *Backend) Reconstruct(z *ml.Tensor) (*ml.Tensor, error) {
	in, err := ort.NewTensor(shapeOf(z), toFloat32(z.Data))
	if err != nil {
		return nil, fmt.Errorf("onnx: decoder input: %w", err)
	}
	defer in.Destroy()

	out, err := b.run(b.vaeDec, []ort.Value{in})
	if err != nil {
		return nil, fmt.Errorf("onnx: vae decoder: %w", err)
	}
	h, w := z.Shape[2]*8, z.Shape[3]*8
	return ml.FromSlice(out, 1, 3, h, w), nil
}

// Tokenize implements ml.TextEncoder.
func (b *Backend) Tokenize(text string) ([]int64, error) {
	return b.tok.Encode(text), nil
}

// Embed implements ml.TextEncoder over the CLIP text model.
func (b *Backend) Embed(ids []int64) (*ml.Tensor, error) {
	in, err := ort.NewTensor(ort.NewShape(1, int64(len(ids))), ids)
	if err != nil {
		return nil, fmt.Errorf("onnx: input ids: %w", err)
	}
	defer in.Destroy()

	out, err := b.run(b.text, []ort.Value{in})
	if err != nil {
		return nil, fmt.Errorf("onnx: text encoder: %w", err)
	}
	width := len(out) / len(ids)
	return ml.FromSlice(out, 1, len(ids), width), nil
}

// EmbedImage implements ml.ImageEmbedder when clip_image.onnx is present.
func (b *Backend) EmbedImage(x *ml.Tensor) (*ml.Tensor, error) {
	if b.clipImage == nil {
		return nil, fmt.Errorf("onnx: model dir has no clip_image.onnx")
	}
	in, err := ort.NewTensor(shapeOf(x), toFloat32(x.Data))
	if err != nil {
		return nil, fmt.Errorf("onnx: image input: %w", err)
	}
	defer in.Destroy()

	out, err := b.run(b.clipImage, []ort.Value{in})
	if err != nil {
		return nil, fmt.Errorf("onnx: image embedder: %w", err)
	}
	return ml.FromSlice(out, 1, len(out)), nil
}

// run executes the session with runtime-allocated outputs and extracts the
// first output as float64.
func (b *Backend) run(session *ort.DynamicAdvancedSession, inputs []ort.Value) ([]float64, error) {
	outputs := make([]ort.Value, 1)
	if err := session.Run(inputs, outputs); err != nil {
		return nil, err
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	t, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type %T", outputs[0])
	}
	src := t.GetData()
	out := make([]float64, len(src))
	for i, v := range src {
		out[i] = float64(v)
	}
	return out, nil
}

func shapeOf(t *ml.Tensor) ort.Shape {
	dims := make([]int64, len(t.Shape))
	for i, s := range t.Shape {
		dims[i] = int64(s)
	}
	return ort.NewShape(dims...)
}

func toFloat32(data []float64) []float32 {
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = float32(v)
	}
	return out
}
