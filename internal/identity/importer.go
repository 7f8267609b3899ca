package identity

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// RowFailure records one rejected roster row with the reason it failed.
type RowFailure struct {
	Line   int    `json:"line"`
	RegNo  string `json:"reg_no,omitempty"`
	Reason string `json:"reason"`
}

// ImportReport summarizes a bulk roster import. Failures are collected,
// never discarded.
type ImportReport struct {
	Imported int          `json:"imported"`
	Failures []RowFailure `json:"failures,omitempty"`
}

// Importer loads roster CSVs into the directory.
type Importer struct {
	dir Directory
}

func NewImporter(dir Directory) *Importer {
	return &Importer{dir: dir}
}

// Import reads CSV rows of the form
//
//	reg_no,name,role[,branch,year,email]
//
// upserting each valid row and collecting a typed failure for each invalid
// one. A header row is skipped when the first cell is "reg_no". Only a
// reader-level error aborts the batch.
func (imp *Importer) Import(ctx context.Context, r io.Reader) (ImportReport, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	var report ImportReport
	line := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return report, fmt.Errorf("read roster csv: %w", err)
		}
		line++
		if line == 1 && len(rec) > 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "reg_no") {
			continue
		}

		p, err := parseRow(rec)
		if err != nil {
			report.Failures = append(report.Failures, RowFailure{
				Line:   line,
				RegNo:  firstField(rec),
				Reason: err.Error(),
			})
			continue
		}
		if err := imp.dir.Upsert(ctx, p); err != nil {
			report.Failures = append(report.Failures, RowFailure{
				Line:   line,
				RegNo:  p.RegNo,
				Reason: fmt.Sprintf("store: %v", err),
			})
			continue
		}
		report.Imported++
	}
	return report, nil
}

func parseRow(rec []string) (Person, error) {
	if len(rec) < 3 {
		return Person{}, fmt.Errorf("need at least reg_no, name, role; got %d fields", len(rec))
	}
	regNo := strings.TrimSpace(rec[0])
	if !allDigits(regNo) {
		return Person{}, fmt.Errorf("reg_no must be numeric, got %q", regNo)
	}
	name := strings.TrimSpace(rec[1])
	if name == "" {
		return Person{}, fmt.Errorf("name is required")
	}
	role, err := ParseRole(rec[2])
	if err != nil {
		return Person{}, fmt.Errorf("role %q: %w", rec[2], err)
	}

	p := Person{RegNo: regNo, Name: name, Role: role}
	if len(rec) > 3 {
		p.Branch = strings.TrimSpace(rec[3])
	}
	if len(rec) > 4 {
		p.Year = strings.TrimSpace(rec[4])
	}
	if len(rec) > 5 {
		p.Email = strings.TrimSpace(rec[5])
	}
	return p, nil
}

func firstField(rec []string) string {
	if len(rec) == 0 {
		return ""
	}
	return strings.TrimSpace(rec[0])
}
