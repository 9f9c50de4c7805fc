package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newscheck/api/internal/config"
	"newscheck/api/internal/detect"
	"newscheck/api/internal/ocr"
)

const stumpModel = `{
  "learner": {
    "gradient_booster": {
      "model": {
        "gbtree_model_param": {"num_parallel_tree": "1", "num_trees": "1"},
        "tree_info": [0],
        "trees": [{
          "id": 0,
          "left_children": [1, -1, -1],
          "right_children": [2, -1, -1],
          "split_indices": [0, 0, 0],
          "split_conditions": [0.5, -2, 2],
          "default_left": [1, 0, 0],
          "split_type": [0, 0, 0]
        }]
      },
      "name": "gbtree"
    },
    "learner_model_param": {"base_score": "5E-1", "num_class": "0", "num_feature": "2"},
    "objective": {"name": "binary:logistic"}
  },
  "version": [1, 7, 6]
}`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadPipeline(t *testing.T) {
	cfg := &config.Config{
		WordVecPath:  writeFile(t, "wordvector.txt", "2 2\nearth 0.9 0\nhoax 0.1 0\n"),
		ModelPath:    writeFile(t, "model.json", stumpModel),
		EmbeddingDim: 2,
	}
	p, err := LoadPipeline(cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Dim())

	got, err := p.Predict("EARTH!")
	require.NoError(t, err)
	assert.Equal(t, detect.LikelyReal, got.Label)
	assert.Equal(t, "88.08%", got.RealProbability)

	got, err = p.Predict("total hoax")
	require.NoError(t, err)
	assert.Equal(t, detect.LikelyFake, got.Label)

	got, err = p.Predict("")
	require.NoError(t, err)
	assert.Equal(t, detect.LikelyFake, got.Label, "zero vector goes left")
}

func TestLoadPipelineFailures(t *testing.T) {
	model := writeFile(t, "model.json", stumpModel)

	_, err := LoadPipeline(&config.Config{WordVecPath: "/nonexistent/wv.txt", ModelPath: model, EmbeddingDim: 2})
	assert.ErrorIs(t, err, detect.ErrClassifierUnavailable)

	wv := writeFile(t, "wordvector.txt", "earth 0.9 0 1\n")
	_, err = LoadPipeline(&config.Config{WordVecPath: wv, ModelPath: model, EmbeddingDim: 3})
	assert.ErrorIs(t, err, detect.ErrClassifierUnavailable)
	assert.Contains(t, err.Error(), "model expects 2 features")

	wv2 := writeFile(t, "wordvector.txt", "earth 0.9 0\n")
	_, err = LoadPipeline(&config.Config{WordVecPath: wv2, ModelPath: writeFile(t, "bad.json", "{"), EmbeddingDim: 2})
	assert.ErrorIs(t, err, detect.ErrClassifierUnavailable)
}

type nopCache struct{}

func (nopCache) Get(context.Context, string) (string, bool, error) { return "", false, nil }
func (nopCache) Set(context.Context, string, string) error         { return nil }

func TestEngines(t *testing.T) {
	cfg := &config.Config{OCREngine: "tesseract", TesseractCmd: "no-such-tesseract-binary", OCRMaxConcurrency: 2}

	engs, err := Engines(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"gemini", "tesseract", "yandex"}, engs.Names())
	e, err := engs.GetEngine("")
	require.NoError(t, err)
	assert.Equal(t, "tesseract", e.Name())
	assert.IsType(t, &ocr.Limited{}, e)

	engs, err = Engines(cfg, nopCache{})
	require.NoError(t, err)
	e, err = engs.GetEngine("yandex")
	require.NoError(t, err)
	assert.IsType(t, &ocr.Cached{}, e)
	assert.Equal(t, "yandex", e.Name())

	cfg.OCREngine = "abbyy"
	_, err = Engines(cfg, nil)
	assert.Error(t, err)
}

func TestStorageDisabled(t *testing.T) {
	s, err := OpenStorage(context.Background(), &config.Config{})
	require.NoError(t, err)
	assert.Nil(t, s.History)
	assert.Nil(t, s.TextCache())
	s.RunRetention(context.Background(), time.Hour) // returns at once without history
	s.Close()
}
