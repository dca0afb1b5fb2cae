package flipbook

// Blank marks an empty page face inside a spread
const Blank = 0

// Spread is two facing pages. Either side may be Blank.
type Spread struct {
	Left  int `json:"left"`
	Right int `json:"right"`
}

// Pages returns the non-blank pages of the spread, left first
func (s Spread) Pages() []int {
	var out []int
	if s.Left != Blank {
		out = append(out, s.Left)
	}
	if s.Right != Blank {
		out = append(out, s.Right)
	}
	return out
}

// Spreads pairs pages for two-up display: a blank faces page 1, and a
// trailing blank completes the last pair when needed.
//
//	4 pages -> (_,1) (2,3) (4,_)
//	5 pages -> (_,1) (2,3) (4,5)
func Spreads(numPages int) []Spread {
	if numPages <= 0 {
		return nil
	}
	seq := make([]int, 0, numPages+2)
	seq = append(seq, Blank)
	for p := 1; p <= numPages; p++ {
		seq = append(seq, p)
	}
	if len(seq)%2 != 0 {
		seq = append(seq, Blank)
	}

	out := make([]Spread, 0, len(seq)/2)
	for i := 0; i < len(seq); i += 2 {
		out = append(out, Spread{Left: seq[i], Right: seq[i+1]})
	}
	return out
}

// SheetOf returns the index of the spread holding page
func SheetOf(page int) int {
	if page < 1 {
		return 0
	}
	return page / 2
}
