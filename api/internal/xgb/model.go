// Package xgb evaluates XGBoost tree ensembles saved with Booster.save_model
// in the JSON format. Only row-at-a-time prediction is supported.
package xgb

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

var (
	ErrUnsupported   = errors.New("xgb: unsupported model")
	ErrFeatureLength = errors.New("xgb: feature length mismatch")
)

type modelFile struct {
	Learner struct {
		LearnerModelParam struct {
			BaseScore  string `json:"base_score"`
			NumFeature string `json:"num_feature"`
			NumClass   string `json:"num_class"`
		} `json:"learner_model_param"`
		GradientBooster struct {
			Name       string     `json:"name"`
			Model      *treeModel `json:"model"`
			GBTree     *struct {
				Model treeModel `json:"model"`
			} `json:"gbtree"`
			WeightDrop []float32 `json:"weight_drop"`
		} `json:"gradient_booster"`
		Objective struct {
			Name string `json:"name"`
		} `json:"objective"`
	} `json:"learner"`
}

type treeModel struct {
	Trees []jsonTree `json:"trees"`
}

type jsonTree struct {
	LeftChildren    []int32   `json:"left_children"`
	RightChildren   []int32   `json:"right_children"`
	SplitIndices    []int32   `json:"split_indices"`
	SplitConditions []float32 `json:"split_conditions"`
	DefaultLeft     flexBools `json:"default_left"`
	SplitType       []int     `json:"split_type"`
}

// flexBools accepts both [true,false] and [1,0]; XGBoost versions differ.
type flexBools []bool

func (f *flexBools) UnmarshalJSON(b []byte) error {
	var bs []bool
	if err := json.Unmarshal(b, &bs); err == nil {
		*f = bs
		return nil
	}
	var ns []int
	if err := json.Unmarshal(b, &ns); err != nil {
		return fmt.Errorf("default_left: %w", err)
	}
	out := make([]bool, len(ns))
	for i, n := range ns {
		out[i] = n != 0
	}
	*f = out
	return nil
}

type node struct {
	left, right int32
	feature     int32
	cond        float32
	defaultLeft bool
}

type tree struct {
	nodes  []node
	weight float32
}

type objective int

const (
	objLogistic objective = iota
	objLogitRaw
	objIdentity
)

// Booster is immutable after Load and safe for concurrent Predict calls.
type Booster struct {
	trees      []tree
	baseMargin float32
	numFeature int
	obj        objective
	objName    string
}

func LoadFile(path string) (*Booster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("xgb: %w", err)
	}
	defer f.Close()
	return Load(f)
}

func Load(r io.Reader) (*Booster, error) {
	var mf modelFile
	if err := json.NewDecoder(r).Decode(&mf); err != nil {
		return nil, fmt.Errorf("xgb: decode model: %w", err)
	}
	l := mf.Learner

	if nc := strings.TrimSpace(l.LearnerModelParam.NumClass); nc != "" && nc != "0" && nc != "1" {
		return nil, fmt.Errorf("%w: num_class=%s", ErrUnsupported, nc)
	}

	b := &Booster{objName: l.Objective.Name}
	switch l.Objective.Name {
	case "binary:logistic", "reg:logistic":
		b.obj = objLogistic
	case "binary:logitraw":
		b.obj = objLogitRaw
	case "reg:squarederror", "reg:linear", "reg:pseudohubererror", "reg:absoluteerror":
		b.obj = objIdentity
	default:
		return nil, fmt.Errorf("%w: objective %q", ErrUnsupported, l.Objective.Name)
	}

	base, err := parseBaseScore(l.LearnerModelParam.BaseScore)
	if err != nil {
		return nil, err
	}
	if b.obj == objIdentity {
		b.baseMargin = float32(base)
	} else {
		if base <= 0 || base >= 1 {
			return nil, fmt.Errorf("xgb: base_score %v outside (0,1) for %s", base, l.Objective.Name)
		}
		b.baseMargin = float32(-math.Log(1/base - 1))
	}

	if nf := strings.TrimSpace(l.LearnerModelParam.NumFeature); nf != "" {
		n, err := strconv.Atoi(nf)
		if err != nil {
			return nil, fmt.Errorf("xgb: num_feature %q: %w", nf, err)
		}
		b.numFeature = n
	}

	gb := l.GradientBooster
	var tm *treeModel
	switch gb.Name {
	case "gbtree", "":
		tm = gb.Model
	case "dart":
		if gb.GBTree != nil {
			tm = &gb.GBTree.Model
		}
	default:
		return nil, fmt.Errorf("%w: booster %q", ErrUnsupported, gb.Name)
	}
	if tm == nil || len(tm.Trees) == 0 {
		return nil, fmt.Errorf("%w: no trees", ErrUnsupported)
	}

	b.trees = make([]tree, 0, len(tm.Trees))
	for i, jt := range tm.Trees {
		t, err := buildTree(jt)
		if err != nil {
			return nil, fmt.Errorf("xgb: tree %d: %w", i, err)
		}
		t.weight = 1
		if gb.Name == "dart" && i < len(gb.WeightDrop) {
			t.weight = gb.WeightDrop[i]
		}
		b.trees = append(b.trees, t)
	}
	return b, nil
}

func parseBaseScore(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0.5, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("xgb: base_score %q: %w", s, err)
	}
	return v, nil
}

func buildTree(jt jsonTree) (tree, error) {
	n := len(jt.LeftChildren)
	if n == 0 {
		return tree{}, errors.New("empty tree")
	}
	if len(jt.RightChildren) != n || len(jt.SplitIndices) != n ||
		len(jt.SplitConditions) != n || len(jt.DefaultLeft) != n {
		return tree{}, errors.New("node arrays differ in length")
	}
	for _, st := range jt.SplitType {
		if st != 0 {
			return tree{}, fmt.Errorf("%w: categorical split", ErrUnsupported)
		}
	}

	nodes := make([]node, n)
	for i := range nodes {
		l, r := jt.LeftChildren[i], jt.RightChildren[i]
		if (l == -1) != (r == -1) {
			return tree{}, fmt.Errorf("node %d has one child", i)
		}
		if l != -1 && (l < 0 || r < 0 || int(l) >= n || int(r) >= n) {
			return tree{}, fmt.Errorf("node %d has child out of range", i)
		}
		if l != -1 && jt.SplitIndices[i] < 0 {
			return tree{}, fmt.Errorf("node %d splits on feature %d", i, jt.SplitIndices[i])
		}
		nodes[i] = node{
			left:        l,
			right:       r,
			feature:     jt.SplitIndices[i],
			cond:        jt.SplitConditions[i],
			defaultLeft: jt.DefaultLeft[i],
		}
	}
	if err := checkAcyclic(nodes); err != nil {
		return tree{}, err
	}
	return tree{nodes: nodes}, nil
}

// checkAcyclic makes sure every node reachable from the root is reached once,
// so leaf() always terminates.
func checkAcyclic(nodes []node) error {
	seen := make([]bool, len(nodes))
	stack := []int32{0}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[i] {
			return fmt.Errorf("node %d reached twice", i)
		}
		seen[i] = true
		if nodes[i].left != -1 {
			stack = append(stack, nodes[i].left, nodes[i].right)
		}
	}
	return nil
}

// leaf walks one tree. For leaves XGBoost stores the leaf value in split_conditions.
func (t *tree) leaf(x []float32) float32 {
	i := int32(0)
	for {
		nd := &t.nodes[i]
		if nd.left == -1 {
			return nd.cond
		}
		var v float32
		missing := true
		if int(nd.feature) < len(x) {
			v = x[nd.feature]
			missing = math.IsNaN(float64(v))
		}
		switch {
		case missing:
			if nd.defaultLeft {
				i = nd.left
			} else {
				i = nd.right
			}
		case v < nd.cond:
			i = nd.left
		default:
			i = nd.right
		}
	}
}

// Margin is the untransformed sum of leaf values plus the base margin.
func (b *Booster) Margin(features []float32) (float32, error) {
	if b.numFeature > 0 && len(features) != b.numFeature {
		return 0, fmt.Errorf("%w: got %d, model expects %d", ErrFeatureLength, len(features), b.numFeature)
	}
	sum := b.baseMargin
	for i := range b.trees {
		sum += b.trees[i].weight * b.trees[i].leaf(features)
	}
	return sum, nil
}

// Predict returns the transformed prediction; for logistic objectives that
// is the positive-class probability.
func (b *Booster) Predict(features []float32) (float32, error) {
	m, err := b.Margin(features)
	if err != nil {
		return 0, err
	}
	if b.obj == objLogistic {
		return float32(1 / (1 + math.Exp(-float64(m)))), nil
	}
	return m, nil
}

func (b *Booster) NumFeature() int   { return b.numFeature }
func (b *Booster) NumTrees() int     { return len(b.trees) }
func (b *Booster) Objective() string { return b.objName }
