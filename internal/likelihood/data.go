package likelihood

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	perrors "github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/errors"
)

// ReadColumns reads a whitespace-separated numeric table and returns it
// column by column. Blank lines and lines starting with '#' are skipped;
// every remaining row must have the same number of fields.
func ReadColumns(path string) ([][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening data file %s: %w", path, err)
	}
	defer f.Close()

	var columns [][]float64
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if columns == nil {
			columns = make([][]float64, len(fields))
		}
		if len(fields) != len(columns) {
			return nil, perrors.Newf(perrors.ErrInvalidInput, "%s:%d: expected %d columns, found %d", path, line, len(columns), len(fields))
		}
		for j, field := range fields {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, perrors.Newf(perrors.ErrInvalidInput, "%s:%d: column %d: %v", path, line, j+1, err)
			}
			columns[j] = append(columns[j], v)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading data file %s: %w", path, err)
	}
	if columns == nil {
		return nil, perrors.Newf(perrors.ErrInvalidInput, "%s: no data rows", path)
	}
	return columns, nil
}
