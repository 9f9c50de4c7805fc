package store

import (
	"context"
	"database/sql"
	_ "embed"
	"time"

	"github.com/google/uuid"
)

//go:embed schema.sql
var schema string

var ErrNotFound = sql.ErrNoRows

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 200
)

// Prediction is one stored classification.
type Prediction struct {
	ID              string    `json:"id"`
	CreatedAt       time.Time `json:"created_at"`
	Source          string    `json:"source"` // "text" | "image" | "feed" | "telegram"
	Engine          string    `json:"engine,omitempty"`
	Text            string    `json:"text"`
	Prediction      string    `json:"prediction"`
	FakeProbability string    `json:"fake_probability"`
	RealProbability string    `json:"real_probability"`
	Score           float64   `json:"score"`
}

type PredictionRepo struct{ DB *sql.DB }

func NewPredictionRepo(db *sql.DB) *PredictionRepo { return &PredictionRepo{DB: db} }

// Migrate creates the predictions table if it does not exist.
func (r *PredictionRepo) Migrate(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, schema)
	return err
}

// Insert stores p and returns it with ID and CreatedAt filled in.
func (r *PredictionRepo) Insert(ctx context.Context, p Prediction) (Prediction, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	const q = `
insert into predictions (id, source, engine, input_text, prediction, fake_probability, real_probability, score)
values ($1,$2,$3,$4,$5,$6,$7,$8)
returning created_at`
	err := r.DB.QueryRowContext(ctx, q,
		p.ID, p.Source, p.Engine, p.Text, p.Prediction, p.FakeProbability, p.RealProbability, p.Score,
	).Scan(&p.CreatedAt)
	return p, err
}

// Get loads one prediction. Unknown and malformed ids are ErrNotFound.
func (r *PredictionRepo) Get(ctx context.Context, id string) (*Prediction, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	const q = `
select id, created_at, source, engine, input_text, prediction, fake_probability, real_probability, score
from predictions where id = $1`
	var p Prediction
	err := r.DB.QueryRowContext(ctx, q, id).Scan(&p.ID, &p.CreatedAt, &p.Source, &p.Engine, &p.Text,
		&p.Prediction, &p.FakeProbability, &p.RealProbability, &p.Score)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Recent returns up to limit predictions, newest first.
func (r *PredictionRepo) Recent(ctx context.Context, limit int) ([]Prediction, error) {
	const q = `
select id, created_at, source, engine, input_text, prediction, fake_probability, real_probability, score
from predictions
order by created_at desc
limit $1`
	rows, err := r.DB.QueryContext(ctx, q, ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Prediction{}
	for rows.Next() {
		var p Prediction
		if err := rows.Scan(&p.ID, &p.CreatedAt, &p.Source, &p.Engine, &p.Text,
			&p.Prediction, &p.FakeProbability, &p.RealProbability, &p.Score); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PurgeOlderThan deletes predictions older than age and reports how many went.
func (r *PredictionRepo) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `delete from predictions where created_at < $1`, time.Now().Add(-age))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PredictionRepo) Ping(ctx context.Context) error { return r.DB.PingContext(ctx) }

func ClampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultHistoryLimit
	case n > MaxHistoryLimit:
		return MaxHistoryLimit
	}
	return n
}
