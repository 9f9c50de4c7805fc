package detect

// VectorTable is the read-only vocabulary plus vector table.
type VectorTable interface {
	Dim() int
	Lookup(token string) ([]float32, bool)
}

// Embed averages the vectors of all in-vocabulary tokens of text.
// Out-of-vocabulary tokens are skipped; repeated tokens count every time.
// With no match the result is the zero vector of vectors.Dim().
func Embed(text string, vectors VectorTable) []float32 {
	dim := vectors.Dim()
	sum := make([]float64, dim)
	n := 0
	for _, tok := range Tokenize(text) {
		v, ok := vectors.Lookup(tok)
		if !ok {
			continue
		}
		for i := 0; i < dim && i < len(v); i++ {
			sum[i] += float64(v[i])
		}
		n++
	}

	out := make([]float32, dim)
	if n == 0 {
		return out
	}
	for i, s := range sum {
		out[i] = float32(s / float64(n))
	}
	return out
}
