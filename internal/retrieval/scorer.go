package retrieval

import "fmt"

// Scorer rates how well a record's keyword set answers a query keyword set.
// Both inputs are sorted and de-duplicated; the result lies in [0, 1].
type Scorer interface {
	Name() string
	Score(query, record []string) float64
}

// NewScorer returns the scorer registered under name.
func NewScorer(name string) (Scorer, error) {
	switch name {
	case "", "jaccard":
		return Jaccard{}, nil
	case "overlap":
		return Overlap{}, nil
	default:
		return nil, fmt.Errorf("unknown scorer %q", name)
	}
}

// Jaccard scores |Q∩R| / |Q∪R|.
type Jaccard struct{}

func (Jaccard) Name() string { return "jaccard" }

func (Jaccard) Score(query, record []string) float64 {
	inter := intersect(query, record)
	union := len(query) + len(record) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Overlap scores query coverage, |Q∩R| / |Q|.
type Overlap struct{}

func (Overlap) Name() string { return "overlap" }

func (Overlap) Score(query, record []string) float64 {
	if len(query) == 0 {
		return 0
	}
	return float64(intersect(query, record)) / float64(len(query))
}

// intersect counts common elements of two sorted sets.
func intersect(a, b []string) int {
	n, i, j := 0, 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			n++
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return n
}
