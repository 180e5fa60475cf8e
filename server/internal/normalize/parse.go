package normalize

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ParseSeries reads comma-separated rows from r. Blank lines are skipped and
// rows shorter than six values are right-padded with zeros. A field that is
// not a number fails with ErrNumericCoercion; "NaN" and "Inf" are numbers.
func ParseSeries(r io.Reader) (Series, error) {
	var s Series
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		fields := strings.Split(text, ",")
		row := make([]float64, max(len(fields), imuWidth))
		for j, f := range fields {
			v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil {
				return nil, &Error{Kind: ErrNumericCoercion, Row: len(s), Col: j, Err: err}
			}
			row[j] = v
		}
		s = append(s, row)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("normalize: read series: %w", err)
	}
	if len(s) == 0 {
		return nil, newError(ErrEmptyInput, -1, -1, "no rows in input")
	}
	return s, nil
}

// ReadFile parses the recording at path with ParseSeries.
func ReadFile(path string) (Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("normalize: open %q: %w", path, err)
	}
	defer f.Close()
	return ParseSeries(f)
}

// FromRows copies rows into a Series, right-padding rows that have between
// one and five values with zeros. Empty rows are kept as-is so Normalize can
// report them.
func FromRows(rows [][]float64) Series {
	s := make(Series, len(rows))
	for i, row := range rows {
		if len(row) == 0 {
			s[i] = []float64{}
			continue
		}
		r := make([]float64, max(len(row), imuWidth))
		copy(r, row)
		s[i] = r
	}
	return s
}
