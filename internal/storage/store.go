// Package storage keeps recorded flights on disk, one directory per flight
// holding metadata.json and samples.csv.
package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("storage: flight not found")

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type Meta struct {
	ID         string             `json:"id"`
	Source     string             `json:"source"`
	Script     string             `json:"script,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
	PeriodMs   int                `json:"period_ms"`
	Seed       int64              `json:"seed,omitempty"`
	Filter     string             `json:"filter"`
	FinalState string             `json:"final_state"`
	Fault      string             `json:"fault,omitempty"`
	Samples    int                `json:"samples"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
}

// Table is a set of equally long numeric columns. The first column is
// time in seconds.
type Table struct {
	Columns []string
	Rows    [][]float64
}

// NewTable builds a table from a time axis and named series of the same
// length.
func NewTable(times []float64, names []string, series [][]float64) (*Table, error) {
	if len(names) != len(series) {
		return nil, fmt.Errorf("storage: %d names for %d series", len(names), len(series))
	}
	t := &Table{Columns: append([]string{"time"}, names...), Rows: make([][]float64, len(times))}
	for i, ts := range times {
		row := make([]float64, 0, len(t.Columns))
		row = append(row, ts)
		for j, col := range series {
			if len(col) != len(times) {
				return nil, fmt.Errorf("storage: series %s has %d samples, want %d", names[j], len(col), len(times))
			}
			row = append(row, col[i])
		}
		t.Rows[i] = row
	}
	return t, nil
}

// Column returns one column by name.
func (t *Table) Column(name string) ([]float64, error) {
	for j, c := range t.Columns {
		if c != name {
			continue
		}
		out := make([]float64, len(t.Rows))
		for i, row := range t.Rows {
			if j < len(row) {
				out[i] = row[j]
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("storage: no column %q", name)
}

// Save writes a new flight and returns its id. ID and Timestamp are filled
// in when empty.
func (s *Store) Save(meta Meta, table *Table) (string, error) {
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now().UTC()
	}
	meta.Samples = len(table.Rows)

	dir := filepath.Join(s.baseDir, meta.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	metaFile, err := os.Create(filepath.Join(dir, "metadata.json"))
	if err != nil {
		return "", err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", err
	}

	csvFile, err := os.Create(filepath.Join(dir, "samples.csv"))
	if err != nil {
		return "", err
	}
	defer csvFile.Close()

	if err := writeCSV(csvFile, table); err != nil {
		return "", err
	}
	return meta.ID, csvFile.Sync()
}

func writeCSV(out io.Writer, table *Table) error {
	w := csv.NewWriter(out)
	if err := w.Write(table.Columns); err != nil {
		return err
	}
	for _, row := range table.Rows {
		rec := make([]string, len(row))
		for i, v := range row {
			rec[i] = strconv.FormatFloat(v, 'f', 6, 64)
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// List returns every readable flight, newest first.
func (s *Store) List() ([]Meta, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Meta{}, nil
		}
		return nil, err
	}

	flights := make([]Meta, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		flights = append(flights, *meta)
	}
	sort.Slice(flights, func(i, j int) bool { return flights[i].Timestamp.After(flights[j].Timestamp) })
	return flights, nil
}

func (s *Store) Load(id string) (*Meta, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, id, "metadata.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}

	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// LoadTable reads samples.csv back.
func (s *Store) LoadTable(id string) (*Table, error) {
	file, err := os.Open(filepath.Join(s.baseDir, id, "samples.csv"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("storage: %s: empty samples", id)
	}

	t := &Table{Columns: records[0], Rows: make([][]float64, 0, len(records)-1)}
	for i, rec := range records[1:] {
		row := make([]float64, len(rec))
		for j, field := range rec {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("storage: %s line %d: %w", id, i+2, err)
			}
			row[j] = v
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// ExportCSV copies a flight's samples to w.
func (s *Store) ExportCSV(w io.Writer, id string) error {
	t, err := s.LoadTable(id)
	if err != nil {
		return err
	}
	return writeCSV(w, t)
}

type exportData struct {
	Meta    *Meta                `json:"meta"`
	Columns map[string][]float64 `json:"columns"`
}

// ExportJSON writes metadata and every column as one JSON document.
func (s *Store) ExportJSON(w io.Writer, id string) error {
	meta, err := s.Load(id)
	if err != nil {
		return err
	}
	t, err := s.LoadTable(id)
	if err != nil {
		return err
	}
	data := exportData{Meta: meta, Columns: make(map[string][]float64, len(t.Columns))}
	for _, c := range t.Columns {
		data.Columns[c], _ = t.Column(c)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func (s *Store) Delete(id string) error {
	if _, err := s.Load(id); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(s.baseDir, id))
}
