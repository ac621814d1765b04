package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

var csvHeader = []string{
	"Date", "Day", "Exam", "Chapter", "Objective", "Priority", "Minutes", "Confidence", "Compressed",
}

func writeCSV(w io.Writer, d Document) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range d.rows() {
		record := []string{
			r.Date.String(),
			r.Date.Weekday().String(),
			r.Exam,
			r.Chapter,
			r.Objective,
			r.Tier.Label(),
			strconv.Itoa(r.Minutes),
			fmt.Sprintf("%.2f", r.Confidence),
			strconv.FormatBool(r.Compressed),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
