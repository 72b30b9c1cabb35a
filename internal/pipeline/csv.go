package pipeline

import (
	"encoding/csv"
	"io"
	"os"

	"github.com/rotisserie/eris"
)

// CSVSource reads the whole input file up front and replays it row by row.
// Inputs are tabular extracts of at most a few hundred thousand rows, so
// buffering them is cheaper than keeping the file handle open for the run.
type CSVSource struct {
	header []string
	rows   []Row
	pos    int
}

// NewCSVSource opens and fully reads the file at path. The first record is
// the header; an input without a header row is an error.
func NewCSVSource(path string) (*CSVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: open input")
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: read input header")
	}

	var rows []Row
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: read input row")
		}
		rows = append(rows, Row(rec))
	}
	return &CSVSource{header: header, rows: rows}, nil
}

func (s *CSVSource) Header() []string { return s.header }

// Len returns the number of data rows.
func (s *CSVSource) Len() int { return len(s.rows) }

func (s *CSVSource) Next() (Row, bool, error) {
	if s.pos >= len(s.rows) {
		return nil, false, nil
	}
	row := s.rows[s.pos]
	s.pos++
	return row, true, nil
}

// CSVSink appends enriched rows to a CSV file.
type CSVSink struct {
	f *os.File
	w *csv.Writer
}

func NewCSVSink(path string) (*CSVSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create output")
	}
	return &CSVSink{f: f, w: csv.NewWriter(f)}, nil
}

func (s *CSVSink) WriteHeader(columns []string) error {
	if err := s.w.Write(columns); err != nil {
		return eris.Wrap(err, "pipeline: write output header")
	}
	return nil
}

func (s *CSVSink) WriteRow(values []string) error {
	if err := s.w.Write(values); err != nil {
		return eris.Wrap(err, "pipeline: write output row")
	}
	return nil
}

// Close flushes buffered rows and closes the file.
func (s *CSVSink) Close() error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		s.f.Close()
		return eris.Wrap(err, "pipeline: flush output")
	}
	if err := s.f.Close(); err != nil {
		return eris.Wrap(err, "pipeline: close output")
	}
	return nil
}
