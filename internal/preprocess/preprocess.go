// Package preprocess defines the external preprocessing/labeling
// collaborators (spec §6) plus one concrete implementation of each,
// adapted from the teacher's Rust original's whitespace module
// (original_source/src/whitespace.rs) rather than from the Go teacher
// repo, which has no text-cleaning concern of its own.
package preprocess

import (
	"regexp"
	"strings"

	"github.com/tejas242/dataloader/internal/record"
)

// Fn is the external preprocessing collaborator: pure, optionally
// randomized through a seed, returning a possibly-modified record or
// an error that becomes a per-record Preprocess error.
type Fn func(rec record.Record, seed uint64) (record.Record, error)

// LabelFn is the external labeling collaborator: pure, derives a Label
// from a record's processed text.
type LabelFn func(rec record.Record) (record.Label, error)

// Clean rewrites rec.Processed by collapsing every run of whitespace
// (as classified by unicode.IsSpace) to a single ASCII space and
// trimming leading/trailing whitespace, mirroring whitespace::full in
// the original implementation. Unlike the original it operates on
// runes, not graphemes — grapheme segmentation is out of scope per
// spec §1's non-goals.
func Clean(rec record.Record, _ uint64) (record.Record, error) {
	rec.Processed = joinFields(rec.Processed, " ")
	return rec, nil
}

// StripWhitespace removes all whitespace from rec.Processed entirely,
// mirroring whitespace::remove in the original implementation.
func StripWhitespace(rec record.Record, _ uint64) (record.Record, error) {
	rec.Processed = joinFields(rec.Processed, "")
	return rec, nil
}

// joinFields splits s on runs of whitespace and rejoins non-empty
// pieces with sep, the same fields-then-join approach whitespace::full
// and whitespace::remove take (filter non-whitespace chars, join).
func joinFields(s string, sep string) string {
	return strings.Join(strings.Fields(s), sep)
}

// Chain composes preprocessing functions left to right, stopping at
// the first error. Equivalent to the pipeline_config chain spec §4
// describes for C3's per-item transform.
func Chain(fns ...Fn) Fn {
	return func(rec record.Record, seed uint64) (record.Record, error) {
		var err error
		for _, fn := range fns {
			rec, err = fn(rec, seed)
			if err != nil {
				return rec, err
			}
		}
		return rec, nil
	}
}

// FromRegexClasses builds a LabelFn that classifies a record's
// processed text by the first pattern (in order) that matches,
// returning its index as a Classification label; returns a Label
// error if no pattern matches. This is a generic stand-in for the
// kind of regex-driven label derivation a concrete pipeline_config
// would plug into C3 — the spec treats the labeling function itself
// as an external collaborator (spec §6), so this is one reference
// implementation of that interface, not a reimplementation of any
// specific production classifier.
func FromRegexClasses(patterns []string) (LabelFn, error) {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, record.NewError(record.ErrConfig, "preprocess.FromRegexClasses", err)
		}
		compiled[i] = re
	}
	return func(rec record.Record) (record.Label, error) {
		for class, re := range compiled {
			if re.MatchString(rec.Processed) {
				return record.ClassificationLabel(int32(class)), nil
			}
		}
		return record.Label{}, record.NewError(record.ErrLabel, "preprocess.FromRegexClasses", errNoClassMatch)
	}, nil
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

var errNoClassMatch = simpleErr("preprocess: no class pattern matched record")
