package utils

import (
	"strings"
	"unicode"

	"github.com/aryann/difflib"
)

func TokenizeWords(s string) []string {
	var out []string
	var cur []rune
	kind := -1 // 0=space,1=word,2=punct
	flush := func() {
		if len(cur) == 0 {
			return
		}
		out = append(out, string(cur))
		cur = cur[:0]
	}
	for _, r := range s {
		k := 2
		switch {
		case unicode.IsSpace(r):
			k = 0
		case unicode.IsLetter(r) || unicode.IsNumber(r) || r == '_' || r == '-' || r == '\'':
			k = 1
		}
		if kind == -1 {
			kind = k
		}
		if k != kind {
			flush()
			kind = k
		}
		cur = append(cur, r)
	}
	flush()
	return out
}

// WordDelta is one run of a word diff. Op is 0 for common text, -1 for
// removed and +1 for inserted.
type WordDelta struct {
	Op   int    `json:"op"`
	Text string `json:"text"`
}

func DiffWords(a, b string) []WordDelta {
	at := TokenizeWords(a)
	bt := TokenizeWords(b)
	recs := difflib.Diff(at, bt)
	out := make([]WordDelta, 0, len(recs))
	for _, r := range recs {
		op := 0
		switch r.Delta {
		case difflib.LeftOnly:
			op = -1
		case difflib.RightOnly:
			op = +1
		}
		// coalesce adjacent tokens with the same op
		if n := len(out); n > 0 && out[n-1].Op == op {
			out[n-1].Text += r.Payload
			continue
		}
		out = append(out, WordDelta{Op: op, Text: r.Payload})
	}
	return out
}

// DiffChanged reports whether a diff holds any insertion or removal that is
// not pure whitespace.
func DiffChanged(deltas []WordDelta) bool {
	for _, d := range deltas {
		if d.Op != 0 && strings.TrimSpace(d.Text) != "" {
			return true
		}
	}
	return false
}
