package csvlog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/ghalamif/AegisRT/internal/domain"
)

// ReadFile streams every row of a measurement log to fn.
func ReadFile(path string, fn func(rec domain.CycleRecord) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("csvlog: open: %w", err)
	}
	defer f.Close()
	return Read(f, fn)
}

func Read(r io.Reader, fn func(rec domain.CycleRecord) error) error {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	head, err := cr.Read()
	if err != nil {
		return fmt.Errorf("csvlog: header: %w", err)
	}
	if !slices.Equal(head, Header) {
		return fmt.Errorf("csvlog: unexpected header %v", head)
	}
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("csvlog: read: %w", err)
		}
		rec, err := ParseRow(row)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}
