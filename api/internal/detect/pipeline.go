package detect

import (
	"errors"
	"fmt"
)

var (
	// ErrClassifierUnavailable means the model or the vector table could not be loaded.
	ErrClassifierUnavailable = errors.New("classifier unavailable")
	// ErrPipeline wraps any failure inside normalize/embed/classify.
	ErrPipeline = errors.New("pipeline failure")
)

// Classifier scores one feature vector and returns P(real).
type Classifier interface {
	Predict(features []float32) (float32, error)
}

type Prediction struct {
	Label           Decision `json:"prediction"`
	FakeProbability string   `json:"fake_probability"`
	RealProbability string   `json:"real_probability"`
	Score           float64  `json:"-"`
}

// Pipeline holds the read-only model context. Build it once before serving;
// it is safe for concurrent use because nothing in it is written afterwards.
type Pipeline struct {
	vectors VectorTable
	model   Classifier
}

func New(vectors VectorTable, model Classifier) (*Pipeline, error) {
	if vectors == nil {
		return nil, fmt.Errorf("%w: word vectors not loaded", ErrClassifierUnavailable)
	}
	if model == nil {
		return nil, fmt.Errorf("%w: model not loaded", ErrClassifierUnavailable)
	}
	return &Pipeline{vectors: vectors, model: model}, nil
}

// Predict runs normalize → embed → classify → decide on raw text.
func (p *Pipeline) Predict(text string) (Prediction, error) {
	vec := Embed(Normalize(text), p.vectors)

	score, err := p.model.Predict(vec)
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: %w", ErrPipeline, err)
	}

	s := float64(score)
	label, pFake, pReal := Decide(s)
	return Prediction{
		Label:           label,
		FakeProbability: pFake,
		RealProbability: pReal,
		Score:           s,
	}, nil
}

// Dim is the embedding dimension the pipeline feeds to the model.
func (p *Pipeline) Dim() int { return p.vectors.Dim() }
