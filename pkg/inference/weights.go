package inference

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"math/rand"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/socratic/pkg/model"
)

const (
	weightsMagic   = "SQLM"
	weightsVersion = uint32(1)
	// WeightsArch is the only architecture LoadLocal accepts.
	WeightsArch = "window-int8-v1"

	// maxMatrixElems caps vocab_size*dim so a corrupt header cannot request an
	// arbitrary allocation.
	maxMatrixElems = 1 << 28
)

var errVocabMismatch = goerr.New("weights do not match tokenizer")

// WeightsHeader declares the architecture of a weights file.
type WeightsHeader struct {
	Arch      string `json:"arch"`
	VocabSize int    `json:"vocab_size"`
	Dim       int    `json:"dim"`
	Window    int    `json:"window"`
}

// Matrix is a row-major int8 matrix with one dequantization scale.
type Matrix struct {
	Scale float32
	Data  []int8
}

// Weights holds the token embedding and output projection, both
// [VocabSize][Dim].
type Weights struct {
	Header WeightsHeader
	Embed  Matrix
	Out    Matrix
}

func (h WeightsHeader) validate() error {
	if h.Arch != WeightsArch {
		return goerr.New("unsupported architecture", goerr.V("arch", h.Arch), goerr.V("expected", WeightsArch))
	}
	if h.VocabSize <= 0 || h.Dim <= 0 || h.Window <= 0 {
		return goerr.New("header dimensions must be positive",
			goerr.V("vocab_size", h.VocabSize),
			goerr.V("dim", h.Dim),
			goerr.V("window", h.Window))
	}
	if h.VocabSize > maxMatrixElems/h.Dim {
		return goerr.New("matrix too large",
			goerr.V("vocab_size", h.VocabSize),
			goerr.V("dim", h.Dim),
			goerr.V("max_elements", maxMatrixElems))
	}
	return nil
}

// ReadWeights parses a weights file: magic, version, header length, JSON header,
// then scale and payload for the embedding and output matrices. Trailing bytes
// are an error.
func ReadWeights(r io.Reader) (*Weights, error) {
	return readWeights(r, 0)
}

// readWeights is ReadWeights that also rejects a header whose vocabulary size
// differs from vocabSize before any matrix is allocated. Zero accepts any size.
func readWeights(r io.Reader, vocabSize int) (*Weights, error) {
	magic := make([]byte, len(weightsMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, goerr.Wrap(err, "failed to read magic")
	}
	if string(magic) != weightsMagic {
		return nil, goerr.New("bad magic", goerr.V("magic", string(magic)))
	}

	var version, headerLen uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, goerr.Wrap(err, "failed to read version")
	}
	if version != weightsVersion {
		return nil, goerr.New("unsupported weights version", goerr.V("version", version))
	}
	if err := binary.Read(r, binary.LittleEndian, &headerLen); err != nil {
		return nil, goerr.Wrap(err, "failed to read header length")
	}
	if headerLen == 0 || headerLen > 1<<16 {
		return nil, goerr.New("invalid header length", goerr.V("length", headerLen))
	}

	raw := make([]byte, headerLen)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, goerr.Wrap(err, "failed to read header")
	}

	w := &Weights{}
	if err := json.Unmarshal(raw, &w.Header); err != nil {
		return nil, goerr.Wrap(err, "failed to parse header")
	}
	if err := w.Header.validate(); err != nil {
		return nil, err
	}
	if vocabSize > 0 && w.Header.VocabSize != vocabSize {
		return nil, goerr.Wrap(errVocabMismatch, "unexpected vocabulary size",
			goerr.V("weights_vocab", w.Header.VocabSize),
			goerr.V("tokenizer_vocab", vocabSize))
	}

	n := w.Header.VocabSize * w.Header.Dim
	var err error
	if w.Embed, err = readMatrix(r, n); err != nil {
		return nil, goerr.Wrap(err, "failed to read embedding matrix")
	}
	if w.Out, err = readMatrix(r, n); err != nil {
		return nil, goerr.Wrap(err, "failed to read output matrix")
	}

	if extra, _ := io.Copy(io.Discard, r); extra > 0 {
		return nil, goerr.New("trailing bytes after weights", goerr.V("bytes", extra))
	}

	return w, nil
}

func readMatrix(r io.Reader, n int) (Matrix, error) {
	var m Matrix
	if err := binary.Read(r, binary.LittleEndian, &m.Scale); err != nil {
		return m, goerr.Wrap(err, "failed to read scale")
	}
	if m.Scale <= 0 || math.IsNaN(float64(m.Scale)) || math.IsInf(float64(m.Scale), 0) {
		return m, goerr.New("invalid scale", goerr.V("scale", m.Scale))
	}
	m.Data = make([]int8, n)
	if err := binary.Read(r, binary.LittleEndian, m.Data); err != nil {
		return m, goerr.Wrap(err, "truncated matrix payload", goerr.V("expected", n))
	}
	return m, nil
}

// WriteWeights serializes w in the format ReadWeights expects.
func WriteWeights(dst io.Writer, w *Weights) error {
	if err := w.Header.validate(); err != nil {
		return err
	}
	n := w.Header.VocabSize * w.Header.Dim
	if len(w.Embed.Data) != n || len(w.Out.Data) != n {
		return goerr.New("matrix size does not match header",
			goerr.V("expected", n),
			goerr.V("embed", len(w.Embed.Data)),
			goerr.V("out", len(w.Out.Data)))
	}

	header, err := json.Marshal(w.Header)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal header")
	}

	var buf bytes.Buffer
	buf.WriteString(weightsMagic)
	_ = binary.Write(&buf, binary.LittleEndian, weightsVersion)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(header)))
	buf.Write(header)
	for _, m := range []Matrix{w.Embed, w.Out} {
		_ = binary.Write(&buf, binary.LittleEndian, m.Scale)
		_ = binary.Write(&buf, binary.LittleEndian, m.Data)
	}

	if _, err := dst.Write(buf.Bytes()); err != nil {
		return goerr.Wrap(err, "failed to write weights")
	}
	return nil
}

// Quantize converts float values to int8 with a symmetric scale.
func Quantize(values []float32) Matrix {
	maxAbs := float32(0)
	for _, v := range values {
		if a := float32(math.Abs(float64(v))); a > maxAbs {
			maxAbs = a
		}
	}
	if maxAbs == 0 {
		maxAbs = 1
	}
	scale := maxAbs / 127
	data := make([]int8, len(values))
	for i, v := range values {
		data[i] = int8(math.Round(float64(v / scale)))
	}
	return Matrix{Scale: scale, Data: data}
}

// RandomWeights returns Gaussian initialized, quantized weights for a
// vocabulary of vocabSize. Mostly useful for smoke tests and tooling.
func RandomWeights(vocabSize, dim, window int, seed int64) (*Weights, error) {
	h := WeightsHeader{Arch: WeightsArch, VocabSize: vocabSize, Dim: dim, Window: window}
	if err := h.validate(); err != nil {
		return nil, goerr.Wrap(model.ErrInvalidConfig, "invalid weights shape", goerr.V("cause", err.Error()))
	}

	rng := rand.New(rand.NewSource(seed))
	gen := func() []float32 {
		v := make([]float32, vocabSize*dim)
		for i := range v {
			v[i] = float32(rng.NormFloat64() * 0.5)
		}
		return v
	}

	return &Weights{Header: h, Embed: Quantize(gen()), Out: Quantize(gen())}, nil
}
