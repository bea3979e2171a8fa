package grid

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
)

// ErrMalformed is wrapped by every Load error caused by the input rather
// than the reader.
var ErrMalformed = errors.New("malformed grid data")

const (
	tagGrid    = "grid"
	tagEndGrid = "endgrid"
	tagBin     = "bin"
	tagNull    = "null"
)

// Save writes the grid as whitespace-separated text: a header with the
// dimension, leaf budget and mode, the domain bounds, then the tree in
// pre-order. Every bin record holds its split axis, its keys, the
// statistics its mode uses and its weight, followed by its first and
// second child (or "null").
func (g *Grid) Save(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s %d %d %s\n", tagGrid, g.Dim(), g.maxLeaves, g.mode)
	for i := range g.lower {
		if i > 0 {
			bw.WriteByte(' ')
		}
		bw.WriteString(formatFloat(g.lower[i]))
		bw.WriteByte(' ')
		bw.WriteString(formatFloat(g.upper[i]))
	}
	bw.WriteByte('\n')
	g.saveBin(bw, g.root, 0)
	fmt.Fprintln(bw, tagEndGrid)
	return bw.Flush()
}

func (g *Grid) saveBin(bw *bufio.Writer, id binID, indent int) {
	for i := 0; i < indent; i++ {
		bw.WriteByte(' ')
	}
	if id == noBin {
		bw.WriteString(tagNull)
		bw.WriteByte('\n')
		return
	}
	b := g.bin(id)
	bw.WriteString(tagBin)
	bw.WriteByte(' ')
	bw.WriteString(strconv.Itoa(b.axis))
	for _, k := range b.key {
		bw.WriteByte(' ')
		bw.WriteString(strconv.FormatUint(k, 10))
	}
	fields := []float64{b.f0, b.f1}
	if g.mode.tracksSquares() {
		fields = append(fields, b.f2)
	}
	if g.mode.tracksMaxima() {
		fields = append(fields, b.fmax, b.fmax1, b.fmax2)
	}
	fields = append(fields, b.weight)
	for _, v := range fields {
		bw.WriteByte(' ')
		bw.WriteString(formatFloat(v))
	}
	bw.WriteByte('\n')
	g.saveBin(bw, b.child[0], indent+1)
	g.saveBin(bw, b.child[1], indent+1)
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// tokenReader reads whitespace-separated tokens and records the first
// error so parse steps can be chained.
type tokenReader struct {
	sc  *bufio.Scanner
	err error
}

func newTokenReader(r io.Reader) *tokenReader {
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)
	return &tokenReader{sc: sc}
}

func (t *tokenReader) next(what string) string {
	if t.err != nil {
		return ""
	}
	if !t.sc.Scan() {
		if err := t.sc.Err(); err != nil {
			t.err = err
		} else {
			t.err = fmt.Errorf("%w: unexpected end of input reading %s", ErrMalformed, what)
		}
		return ""
	}
	return t.sc.Text()
}

func (t *tokenReader) expect(tag string) {
	if got := t.next(tag); t.err == nil && got != tag {
		t.err = fmt.Errorf("%w: expected %q, got %q", ErrMalformed, tag, got)
	}
}

func (t *tokenReader) int(what string) int {
	s := t.next(what)
	if t.err != nil {
		return 0
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		t.err = fmt.Errorf("%w: %s: %v", ErrMalformed, what, err)
	}
	return v
}

func (t *tokenReader) uint(what string) uint64 {
	s := t.next(what)
	if t.err != nil {
		return 0
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		t.err = fmt.Errorf("%w: %s: %v", ErrMalformed, what, err)
	}
	return v
}

func (t *tokenReader) float(what string) float64 {
	s := t.next(what)
	if t.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	switch {
	case err != nil:
		t.err = fmt.Errorf("%w: %s: %v", ErrMalformed, what, err)
	case math.IsNaN(v) || math.IsInf(v, 0):
		t.err = fmt.Errorf("%w: %s: non-finite value %q", ErrMalformed, what, s)
	}
	return v
}

// end fails unless the input is exhausted.
func (t *tokenReader) end() {
	if t.err != nil {
		return
	}
	if t.sc.Scan() {
		t.err = fmt.Errorf("%w: trailing data after %q: %q", ErrMalformed, tagEndGrid, t.sc.Text())
		return
	}
	t.err = t.sc.Err()
}

// Load reads a grid written by Save. When dim is positive the stored
// dimension must match it. On any error the partially built grid is
// discarded and nil is returned.
func Load(r io.Reader, src Source, dim int) (*Grid, error) {
	if src == nil {
		return nil, fmt.Errorf("grid needs a random source")
	}
	t := newTokenReader(r)
	t.expect(tagGrid)
	storedDim := t.int("dimension")
	maxLeaves := t.int("leaf budget")
	modeName := t.next("mode")
	if t.err != nil {
		return nil, t.err
	}
	if dim > 0 && storedDim != dim {
		return nil, fmt.Errorf("%w: %w: stored grid has %d axes, want %d", ErrMalformed, ErrDimension, storedDim, dim)
	}
	if storedDim < 1 || storedDim > 64 {
		return nil, fmt.Errorf("%w: dimension %d", ErrMalformed, storedDim)
	}
	mode, err := ParseMode(modeName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	cfg := Config{
		Lower:     make([]float64, storedDim),
		Upper:     make([]float64, storedDim),
		Mode:      mode,
		MaxLeaves: maxLeaves,
	}
	for i := 0; i < storedDim; i++ {
		cfg.Lower[i] = t.float("lower bound")
		cfg.Upper[i] = t.float("upper bound")
	}
	if t.err != nil {
		return nil, t.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	g := newGrid(cfg, src)
	t.expect(tagBin)
	if t.err != nil {
		return nil, t.err
	}
	g.root = g.loadBin(t, noBin, rootKey(storedDim))
	t.expect(tagEndGrid)
	t.end()
	if t.err != nil {
		return nil, t.err
	}
	if g.leaves > g.maxLeaves {
		return nil, fmt.Errorf("%w: %d leaves exceed budget %d", ErrMalformed, g.leaves, g.maxLeaves)
	}
	return g, nil
}

// loadBin reads one bin record (its "bin" tag already consumed) and its
// two child slots. want is the key the tree structure implies.
func (g *Grid) loadBin(t *tokenReader, parent binID, want []uint64) binID {
	axis := t.int("axis")
	key := make([]uint64, len(want))
	for i := range key {
		key[i] = t.uint("key")
	}
	var s stats
	s.f0 = t.float("F0")
	s.f1 = t.float("F1")
	if g.mode.tracksSquares() {
		s.f2 = t.float("F2")
	}
	if g.mode.tracksMaxima() {
		s.fmax = t.float("fmax")
		s.fmax1 = t.float("fmax1")
		s.fmax2 = t.float("fmax2")
	}
	weight := t.float("weight")
	if t.err != nil {
		return noBin
	}
	if axis < 0 || axis >= len(want) {
		t.err = fmt.Errorf("%w: split axis %d out of range", ErrMalformed, axis)
		return noBin
	}
	for i := range key {
		if key[i] != want[i] {
			t.err = fmt.Errorf("%w: bin key %v, expected %v", ErrMalformed, key, want)
			return noBin
		}
	}

	id := g.arena.alloc(len(key))
	b := g.bin(id)
	copy(b.key, key)
	b.axis = axis
	b.parent = parent
	b.stats = s
	b.weight = weight
	b.volume = g.computeVolume(id)

	var children [2]binID
	for i := range children {
		children[i] = noBin
		tag := t.next("child")
		if t.err != nil {
			return noBin
		}
		switch tag {
		case tagNull:
		case tagBin:
			if keyDepth(key[axis]) >= MaxDepth {
				t.err = fmt.Errorf("%w: bin %v split beyond maximum depth", ErrMalformed, key)
				return noBin
			}
			childKey := append([]uint64(nil), key...)
			childKey[axis] = 2*key[axis] + uint64(i)
			children[i] = g.loadBin(t, id, childKey)
			if t.err != nil {
				return noBin
			}
		default:
			t.err = fmt.Errorf("%w: expected %q or %q, got %q", ErrMalformed, tagBin, tagNull, tag)
			return noBin
		}
	}
	if (children[0] == noBin) != (children[1] == noBin) {
		t.err = fmt.Errorf("%w: bin %v has exactly one child", ErrMalformed, key)
		return noBin
	}
	g.bin(id).child = children
	if children[0] == noBin {
		g.leaves++
	}
	return id
}
