// Package generator implements C1: restartable sources of text records.
// A Generator is asked to Produce() a fresh stream each time a loader
// starts an epoch; once a stream is consumed it is not rewindable — the
// caller asks the factory for a new one instead.
package generator

import (
	"bufio"
	"fmt"
	"os"

	"github.com/tejas242/dataloader/internal/record"
)

// Generator is a restartable source of text records.
type Generator interface {
	// MinLen is a lower bound on the number of records Produce will
	// yield; exact if the count is finite and known up front.
	MinLen() int
	// Produce returns a fresh channel of records. Each call starts a new
	// independent stream; the caller must drain it before the next call.
	Produce() <-chan record.Result[record.Record]
}

// MemoryGenerator wraps a pre-built, already-materialized sequence of
// records — the simplest possible Generator.
type MemoryGenerator struct {
	records []record.Record
}

// NewMemory builds a MemoryGenerator over records.
func NewMemory(records []record.Record) *MemoryGenerator {
	return &MemoryGenerator{records: records}
}

func (g *MemoryGenerator) MinLen() int { return len(g.records) }

func (g *MemoryGenerator) Produce() <-chan record.Result[record.Record] {
	out := make(chan record.Result[record.Record])
	go func() {
		defer close(out)
		for _, r := range g.records {
			out <- record.Ok(r)
		}
	}()
	return out
}

// FileGenerator reads one record per line from a text file, optionally
// paired line-for-line with a label file, tagging every record with a
// single fixed language.
type FileGenerator struct {
	path      string
	labelPath string
	language  *string
	minLen    int
}

// NewFile builds a FileGenerator over path, optionally paired with
// labelPath (pass "" for none). It counts lines up front so MinLen is
// exact, the same up-front-scan-then-stream shape the teacher's
// chunker.ChunkFile uses when it needs to know total size ahead of time.
func NewFile(path, labelPath string, language *string) (*FileGenerator, error) {
	n, err := countLines(path)
	if err != nil {
		return nil, record.NewError(record.ErrSourceRead, "generator.NewFile", err)
	}
	if labelPath != "" {
		ln, err := countLines(labelPath)
		if err != nil {
			return nil, record.NewError(record.ErrSourceRead, "generator.NewFile", err)
		}
		if ln != n {
			return nil, record.NewError(record.ErrConfig, "generator.NewFile",
				fmt.Errorf("label file %s has %d lines, text file %s has %d", labelPath, ln, path, n))
		}
	}
	return &FileGenerator{path: path, labelPath: labelPath, language: language, minLen: n}, nil
}

func (g *FileGenerator) MinLen() int { return g.minLen }

func (g *FileGenerator) Produce() <-chan record.Result[record.Record] {
	out := make(chan record.Result[record.Record])
	go func() {
		defer close(out)

		f, err := os.Open(g.path)
		if err != nil {
			out <- record.Err[record.Record](record.NewError(record.ErrSourceRead, "FileGenerator.Produce", err))
			return
		}
		defer f.Close()

		var lf *os.File
		var lsc *bufio.Scanner
		if g.labelPath != "" {
			lf, err = os.Open(g.labelPath)
			if err != nil {
				out <- record.Err[record.Record](record.NewError(record.ErrSourceRead, "FileGenerator.Produce", err))
				return
			}
			defer lf.Close()
			lsc = bufio.NewScanner(lf)
			lsc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		}

		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for sc.Scan() {
			line := sc.Text()
			if lsc != nil {
				if !lsc.Scan() {
					out <- record.Err[record.Record](record.NewError(record.ErrParse, "FileGenerator.Produce",
						fmt.Errorf("label file %s ended before text file %s", g.labelPath, g.path)))
					return
				}
			}
			out <- record.Ok(record.NewRecord(line, g.language))
		}
		if err := sc.Err(); err != nil {
			out <- record.Err[record.Record](record.NewError(record.ErrSourceRead, "FileGenerator.Produce", err))
		}
	}()
	return out
}

// countLines scans path once to count newline-terminated records,
// including a trailing unterminated line, matching the blank-lines-are-
// empty-string-records rule of the labeled text file format (spec §6).
func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	n := 0
	for sc.Scan() {
		n++
	}
	if err := sc.Err(); err != nil {
		return 0, err
	}
	return n, nil
}
