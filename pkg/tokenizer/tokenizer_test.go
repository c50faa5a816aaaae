package tokenizer_test

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/socratic/pkg/model"
	"github.com/m-mizutani/socratic/pkg/tokenizer"
)

func TestRoundTrip(t *testing.T) {
	tok := tokenizer.Default()

	inputs := []string{
		"What is a campanile?",
		"  Bell   towers\tand\nsteam engines  ",
		"x = (a+b)*c; // 100%",
		"",
		"THE QUESTION IS WHY",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			got := tok.Decode(tok.Encode(in))
			gt.Equal(t, got, tok.Normalize(in))
		})
	}
}

func TestRoundTripRandomASCII(t *testing.T) {
	tok := tokenizer.Default()
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 200; i++ {
		buf := make([]byte, rng.Intn(64))
		for j := range buf {
			buf[j] = byte(0x20 + rng.Intn(0x7f-0x20))
		}
		in := string(buf)
		gt.Equal(t, tok.Decode(tok.Encode(in)), tok.Normalize(in))
	}
}

func TestEncodeUsesSubwords(t *testing.T) {
	tok := tokenizer.Default()
	text := "the bell tower is ringing"
	gt.Number(t, len(tok.Encode(text))).Less(len(text))
}

func TestEncodeNeverProducesSpecialTokens(t *testing.T) {
	tok := tokenizer.Default()
	special := tok.Special()

	for _, id := range tok.Encode("<bos> hello <eos><pad>") {
		gt.False(t, id == special.BOS || id == special.EOS || id == special.PAD)
	}
}

func TestUnknownRunes(t *testing.T) {
	tok := tokenizer.Default()
	ids := tok.Encode("café")
	gt.A(t, ids).Length(4)
	gt.Equal(t, ids[3], tok.Special().UNK)
	gt.Equal(t, tok.Decode(ids), "caf?")
}

func TestTokenIDsInRange(t *testing.T) {
	tok := tokenizer.Default()
	for _, id := range tok.Encode("Any text あ at all, even ünicode") {
		gt.Number(t, int(id)).Less(tok.Size())
	}
}

func TestDecodeSpecials(t *testing.T) {
	tok := tokenizer.Default()
	sp := tok.Special()

	ids := tok.Wrap(tok.Encode("hi"))
	ids = append(ids, sp.EOS)
	ids = append(ids, tok.Encode("ignored")...)
	gt.Equal(t, tok.Decode(ids), "hi")

	_, err := tok.DecodeStrict([]model.TokenID{model.TokenID(tok.Size() + 10)})
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrTokenizationFailed))
	gt.Equal(t, tok.Decode([]model.TokenID{model.TokenID(tok.Size() + 10)}), "")
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	t.Run("yaml", func(t *testing.T) {
		path := filepath.Join(dir, "vocab.yaml")
		gt.NoError(t, os.WriteFile(path, []byte(`normalize:
  lowercase: true
  collapse_space: true
special:
  bos: "<s>"
  eos: "</s>"
  pad: "<p>"
  unk: "<u>"
pieces: ["a", "b", "c", " ", "ab"]
`), 0644))

		tok, err := tokenizer.Load(path)
		gt.NoError(t, err)
		gt.Equal(t, tok.Size(), 9)
		gt.A(t, tok.Encode("AB c")).Length(3)
		gt.Equal(t, tok.Decode(tok.Encode("AB c")), "ab c")
	})

	t.Run("json", func(t *testing.T) {
		path := filepath.Join(dir, "vocab.json")
		gt.NoError(t, os.WriteFile(path, []byte(`{"special":{"bos":"<s>","eos":"</s>","pad":"<p>","unk":"<u>"},"pieces":["x","y"]}`), 0644))

		tok, err := tokenizer.Load(path)
		gt.NoError(t, err)
		gt.Equal(t, tok.Decode(tok.Encode("xyz")), "xy?")
	})

	t.Run("missing special token", func(t *testing.T) {
		path := filepath.Join(dir, "nounk.json")
		gt.NoError(t, os.WriteFile(path, []byte(`{"special":{"bos":"<s>","eos":"</s>","pad":"<p>"},"pieces":["x"]}`), 0644))

		_, err := tokenizer.Load(path)
		gt.Error(t, err)
		gt.True(t, errors.Is(err, model.ErrTokenizationFailed))
	})

	t.Run("malformed", func(t *testing.T) {
		path := filepath.Join(dir, "broken.json")
		gt.NoError(t, os.WriteFile(path, []byte(`{"pieces": [`), 0644))

		_, err := tokenizer.Load(path)
		gt.True(t, errors.Is(err, model.ErrTokenizationFailed))
	})

	t.Run("duplicated piece", func(t *testing.T) {
		path := filepath.Join(dir, "dup.json")
		gt.NoError(t, os.WriteFile(path, []byte(`{"special":{"bos":"<s>","eos":"</s>","pad":"<p>","unk":"<u>"},"pieces":["x","x"]}`), 0644))

		_, err := tokenizer.Load(path)
		gt.True(t, errors.Is(err, model.ErrTokenizationFailed))
	})

	t.Run("not found", func(t *testing.T) {
		_, err := tokenizer.Load(filepath.Join(dir, "none.json"))
		gt.True(t, errors.Is(err, model.ErrTokenizationFailed))
	})
}

func TestExport(t *testing.T) {
	tok := tokenizer.Default()
	vf := tok.Export()
	gt.Equal(t, vf.Special.UNK, "<unk>")

	again, err := tokenizer.New(vf.Special, vf.Pieces, vf.Normalize)
	gt.NoError(t, err)
	gt.Equal(t, again.Size(), tok.Size())
}
