package index

import (
	"fmt"
	"strings"

	"github.com/weaviate/sroar"
)

// Query selects documents of a segment. Hits are constant score, there is no
// relevance ranking: a document either matches or it does not.
type Query interface {
	// match returns the local ordinals of seg matching the query, ignoring deletions.
	match(seg *segment) *sroar.Bitmap
	String() string
}

// TermQuery matches documents containing the exact term.
type TermQuery struct {
	Term Term
}

// NewTermQuery creates a query for the exact value of a field.
func NewTermQuery(t Term) *TermQuery {
	return &TermQuery{Term: t}
}

func (q *TermQuery) match(seg *segment) *sroar.Bitmap {
	bm := sroar.NewBitmap()
	for _, id := range seg.lookup(q.Term.key()) {
		bm.Set(uint64(id))
	}
	return bm
}

func (q *TermQuery) String() string {
	return q.Term.String()
}

// BooleanQuery matches documents satisfying all Must clauses and none of the
// MustNot clauses. Without Must clauses every document is a candidate.
type BooleanQuery struct {
	Must    []Query
	MustNot []Query
}

// NewBooleanQuery creates an empty boolean query.
func NewBooleanQuery() *BooleanQuery {
	return &BooleanQuery{}
}

// AddMust adds a required clause.
func (q *BooleanQuery) AddMust(c Query) *BooleanQuery {
	q.Must = append(q.Must, c)
	return q
}

// AddMustNot adds a prohibited clause.
func (q *BooleanQuery) AddMustNot(c Query) *BooleanQuery {
	q.MustNot = append(q.MustNot, c)
	return q
}

func (q *BooleanQuery) match(seg *segment) *sroar.Bitmap {
	var bm *sroar.Bitmap
	if len(q.Must) == 0 {
		bm = seg.all()
	}
	for _, c := range q.Must {
		m := c.match(seg)
		if bm == nil {
			bm = m
		} else {
			bm.And(m)
		}
		if bm.IsEmpty() {
			return bm
		}
	}
	for _, c := range q.MustNot {
		bm.AndNot(c.match(seg))
	}
	return bm
}

func (q *BooleanQuery) String() string {
	parts := make([]string, 0, len(q.Must)+len(q.MustNot))
	for _, c := range q.Must {
		parts = append(parts, "+"+c.String())
	}
	for _, c := range q.MustNot {
		parts = append(parts, "-"+c.String())
	}
	return fmt.Sprintf("(%s)", strings.Join(parts, " "))
}

// --------------------------------------------------------------------------
// Results
// --------------------------------------------------------------------------

// ScoreDoc is a single hit. Doc is the ordinal of the document within the
// Reader that produced it and is only meaningful for that Reader. Seq is the
// sequence number assigned when the document was added.
type ScoreDoc struct {
	Doc   int
	Seq   uint64
	Score float32
}

// TopDocs is the result of a search. ScoreDocs are ordered by ascending Doc and
// bounded by the requested number of hits, TotalHits counts all matches.
type TopDocs struct {
	TotalHits int
	ScoreDocs []ScoreDoc
}
