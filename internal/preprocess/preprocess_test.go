package preprocess

import (
	"testing"

	"github.com/tejas242/dataloader/internal/record"
)

func TestClean(t *testing.T) {
	rec := record.NewRecord("  hello   world\t\nfoo  ", nil)
	out, err := Clean(rec, 0)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if out.Processed != "hello world foo" {
		t.Errorf("Processed = %q, want %q", out.Processed, "hello world foo")
	}
	if out.Original != rec.Original {
		t.Errorf("Original must be untouched: got %q", out.Original)
	}
}

func TestStripWhitespace(t *testing.T) {
	rec := record.NewRecord(" a b\tc\n", nil)
	out, err := StripWhitespace(rec, 0)
	if err != nil {
		t.Fatalf("StripWhitespace: %v", err)
	}
	if out.Processed != "abc" {
		t.Errorf("Processed = %q, want %q", out.Processed, "abc")
	}
}

func TestChainStopsAtFirstError(t *testing.T) {
	boom := func(rec record.Record, seed uint64) (record.Record, error) {
		return rec, record.NewError(record.ErrPreprocess, "boom", errBoom)
	}
	called := false
	after := func(rec record.Record, seed uint64) (record.Record, error) {
		called = true
		return rec, nil
	}
	chain := Chain(Clean, boom, after)
	_, err := chain(record.NewRecord("x", nil), 0)
	if err == nil {
		t.Fatal("expected error from chain")
	}
	if called {
		t.Error("stage after the failing one must not run")
	}
}

func TestFromRegexClasses(t *testing.T) {
	label, err := FromRegexClasses([]string{`^neg`, `^pos`})
	if err != nil {
		t.Fatalf("FromRegexClasses: %v", err)
	}
	rec := record.NewRecord("positive review", nil)
	rec.Processed = rec.Original

	got, err := label(rec)
	if err != nil {
		t.Fatalf("label: %v", err)
	}
	if got.Kind != record.LabelClassification || got.Scalar != 1 {
		t.Errorf("label = %+v, want Classification(1)", got)
	}
}

func TestFromRegexClassesNoMatch(t *testing.T) {
	label, err := FromRegexClasses([]string{`^neg`})
	if err != nil {
		t.Fatalf("FromRegexClasses: %v", err)
	}
	rec := record.NewRecord("unrelated", nil)
	rec.Processed = rec.Original
	if _, err := label(rec); err == nil {
		t.Fatal("expected Label error when no pattern matches")
	}
}

func TestFromRegexClassesRejectsBadPattern(t *testing.T) {
	if _, err := FromRegexClasses([]string{"("}); err == nil {
		t.Fatal("expected Config error for invalid regex")
	}
}

type boomErr string

func (e boomErr) Error() string { return string(e) }

var errBoom = boomErr("boom")
