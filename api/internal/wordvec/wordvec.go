// Package wordvec loads a pretrained vocabulary + vector table in word2vec
// format (text or binary, optionally gzip-compressed).
package wordvec

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

var ErrDimension = errors.New("wordvec: dimension mismatch")

// Table maps a token to its row in a flat float32 matrix. It is never
// mutated after loading.
type Table struct {
	dim   int
	vocab map[string]int
	data  []float32
}

// New builds a table from parallel slices. Every vector must have dim values.
func New(dim int, words []string, vectors [][]float32) (*Table, error) {
	if len(words) != len(vectors) {
		return nil, fmt.Errorf("wordvec: %d words but %d vectors", len(words), len(vectors))
	}
	t := &Table{dim: dim, vocab: make(map[string]int, len(words)), data: make([]float32, 0, dim*len(words))}
	for i, w := range words {
		if err := t.add(w, vectors[i]); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Table) Dim() int { return t.dim }
func (t *Table) Len() int { return len(t.vocab) }

func (t *Table) Lookup(token string) ([]float32, bool) {
	idx, ok := t.vocab[token]
	if !ok {
		return nil, false
	}
	off := idx * t.dim
	return t.data[off : off+t.dim : off+t.dim], true
}

// add keeps the first occurrence of a word, like a dict built from a vocab file.
func (t *Table) add(word string, vec []float32) error {
	if len(vec) != t.dim {
		return fmt.Errorf("%w: %q has %d values, want %d", ErrDimension, word, len(vec), t.dim)
	}
	if _, dup := t.vocab[word]; dup {
		return nil
	}
	t.vocab[word] = len(t.data) / t.dim
	t.data = append(t.data, vec...)
	return nil
}

// Load reads path. Files ending in .bin (or .bin.gz) use the binary word2vec
// layout, everything else the text layout. dim > 0 enforces the dimension.
func Load(path string, dim int) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wordvec: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	name := path
	if strings.HasSuffix(name, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("wordvec: gzip %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
		name = strings.TrimSuffix(name, ".gz")
	}

	if strings.HasSuffix(name, ".bin") {
		return ReadBinary(r, dim)
	}
	return ReadText(r, dim)
}

// ReadText parses "word v1 v2 ... vN" lines. An optional "count dim" header
// line is recognised and skipped.
func ReadText(r io.Reader, dim int) (*Table, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	t := &Table{dim: dim, vocab: make(map[string]int)}
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if line == 1 && len(fields) == 2 {
			if _, err := strconv.Atoi(fields[0]); err == nil {
				hdrDim, err := strconv.Atoi(fields[1])
				if err == nil {
					if t.dim == 0 {
						t.dim = hdrDim
					} else if hdrDim != t.dim {
						return nil, fmt.Errorf("%w: header says %d, want %d", ErrDimension, hdrDim, t.dim)
					}
					continue
				}
			}
		}
		if t.dim == 0 {
			t.dim = len(fields) - 1
		}
		if len(fields)-1 != t.dim {
			return nil, fmt.Errorf("%w: line %d has %d values, want %d", ErrDimension, line, len(fields)-1, t.dim)
		}
		vec := make([]float32, t.dim)
		for i, s := range fields[1:] {
			v, err := strconv.ParseFloat(s, 32)
			if err != nil {
				return nil, fmt.Errorf("wordvec: line %d: %w", line, err)
			}
			vec[i] = float32(v)
		}
		if err := t.add(fields[0], vec); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("wordvec: %w", err)
	}
	if t.dim == 0 || len(t.vocab) == 0 {
		return nil, errors.New("wordvec: empty table")
	}
	return t, nil
}

// ReadBinary parses the original word2vec binary layout: a "count dim\n"
// header, then per word the token, one space and dim little-endian float32s.
func ReadBinary(r io.Reader, dim int) (*Table, error) {
	br := bufio.NewReader(r)
	header, err := br.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("wordvec: header: %w", err)
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return nil, fmt.Errorf("wordvec: bad header %q", strings.TrimSpace(header))
	}
	count, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, fmt.Errorf("wordvec: bad count: %w", err)
	}
	hdrDim, err := strconv.Atoi(parts[1])
	if err != nil || hdrDim <= 0 {
		return nil, fmt.Errorf("wordvec: bad dim %q", parts[1])
	}
	if dim > 0 && hdrDim != dim {
		return nil, fmt.Errorf("%w: header says %d, want %d", ErrDimension, hdrDim, dim)
	}

	t := &Table{dim: hdrDim, vocab: make(map[string]int, count), data: make([]float32, 0, count*hdrDim)}
	raw := make([]byte, 4*hdrDim)
	for i := 0; i < count; i++ {
		word, err := br.ReadString(' ')
		if err != nil {
			return nil, fmt.Errorf("wordvec: word %d: %w", i, err)
		}
		word = strings.TrimLeft(strings.TrimSuffix(word, " "), "\n")
		if _, err := io.ReadFull(br, raw); err != nil {
			return nil, fmt.Errorf("wordvec: vector %d (%q): %w", i, word, err)
		}
		vec := make([]float32, hdrDim)
		for j := range vec {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*j:]))
		}
		if err := t.add(word, vec); err != nil {
			return nil, err
		}
	}
	if len(t.vocab) == 0 {
		return nil, errors.New("wordvec: empty table")
	}
	return t, nil
}
