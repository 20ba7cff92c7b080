package generator

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"os"

	"github.com/tejas242/dataloader/internal/record"
)

// InferenceGenerator is a restartable source of inference records (spec
// §6's four tab-separated file layouts), the inference-variant sibling
// of Generator.
type InferenceGenerator interface {
	MinLen() int
	Produce() <-chan record.Result[record.InferenceRecord]
}

// MemoryInferenceGenerator wraps a pre-built sequence of InferenceRecord
// values, the inference-variant sibling of MemoryGenerator.
type MemoryInferenceGenerator struct {
	records []record.InferenceRecord
}

// NewMemoryInference builds a MemoryInferenceGenerator over records.
func NewMemoryInference(records []record.InferenceRecord) *MemoryInferenceGenerator {
	return &MemoryInferenceGenerator{records: records}
}

func (g *MemoryInferenceGenerator) MinLen() int { return len(g.records) }

func (g *MemoryInferenceGenerator) Produce() <-chan record.Result[record.InferenceRecord] {
	out := make(chan record.Result[record.InferenceRecord])
	go func() {
		defer close(out)
		for _, r := range g.records {
			out <- record.Ok(r)
		}
	}()
	return out
}

// InferenceFileGenerator parses one of the four layouts spec §6 names:
// text, text_detections, text_language, text_detections_language. The
// layout is auto-detected per line by its tab count, matching the
// format's own self-describing column count.
type InferenceFileGenerator struct {
	path   string
	minLen int
}

// NewInferenceFile builds an InferenceFileGenerator over path, counting
// lines up front exactly as NewFile does.
func NewInferenceFile(path string) (*InferenceFileGenerator, error) {
	n, err := countLines(path)
	if err != nil {
		return nil, record.NewError(record.ErrSourceRead, "generator.NewInferenceFile", err)
	}
	return &InferenceFileGenerator{path: path, minLen: n}, nil
}

func (g *InferenceFileGenerator) MinLen() int { return g.minLen }

func (g *InferenceFileGenerator) Produce() <-chan record.Result[record.InferenceRecord] {
	out := make(chan record.Result[record.InferenceRecord])
	go func() {
		defer close(out)
		f, err := os.Open(g.path)
		if err != nil {
			out <- record.Err[record.InferenceRecord](record.NewError(record.ErrSourceRead, "InferenceFileGenerator.Produce", err))
			return
		}
		defer f.Close()

		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for sc.Scan() {
			rec, err := parseInferenceLine(sc.Text())
			if err != nil {
				out <- record.Err[record.InferenceRecord](record.NewError(record.ErrParse, "InferenceFileGenerator.Produce", err))
				continue
			}
			out <- record.Ok(rec)
		}
		if err := sc.Err(); err != nil {
			out <- record.Err[record.InferenceRecord](record.NewError(record.ErrSourceRead, "InferenceFileGenerator.Produce", err))
		}
	}()
	return out
}

// parseInferenceLine dispatches on tab count: 0 tabs is plain text, 1
// tab is either text_detections (second field is whitespace-separated
// 0/1) or text_language (second field is a bare language tag), 2 tabs
// is text_detections_language.
func parseInferenceLine(line string) (record.InferenceRecord, error) {
	fields := strings.Split(line, "\t")
	switch len(fields) {
	case 1:
		return record.InferenceRecord{Original: fields[0]}, nil
	case 2:
		if looksLikeDetections(fields[1]) {
			det, err := parseDetections(fields[1])
			if err != nil {
				return record.InferenceRecord{}, err
			}
			return record.InferenceRecord{Original: fields[0], Detections: det}, nil
		}
		lang := fields[1]
		return record.InferenceRecord{Original: fields[0], Language: &lang}, nil
	case 3:
		det, err := parseDetections(fields[1])
		if err != nil {
			return record.InferenceRecord{}, err
		}
		lang := fields[2]
		return record.InferenceRecord{Original: fields[0], Detections: det, Language: &lang}, nil
	default:
		return record.InferenceRecord{}, fmt.Errorf("unrecognized inference line layout: %d tab-separated fields", len(fields))
	}
}

func looksLikeDetections(field string) bool {
	if field == "" {
		return false
	}
	for _, tok := range strings.Fields(field) {
		if tok != "0" && tok != "1" {
			return false
		}
	}
	return true
}

func parseDetections(field string) ([]bool, error) {
	toks := strings.Fields(field)
	out := make([]bool, len(toks))
	for i, tok := range toks {
		v, err := strconv.Atoi(tok)
		if err != nil || (v != 0 && v != 1) {
			return nil, fmt.Errorf("invalid detection value %q at position %d", tok, i)
		}
		out[i] = v == 1
	}
	return out, nil
}
