package export

import (
	"io"

	"github.com/xuri/excelize/v2"
)

const (
	scheduleSheet = "Schedule"
	unplacedSheet = "Unplaced"
)

func writeXLSX(w io.Writer, d Document) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", scheduleSheet); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	header := make([]any, len(csvHeader))
	for i, h := range csvHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(scheduleSheet, "A1", &header); err != nil {
		return err
	}
	for i, r := range d.rows() {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := []any{
			r.Date.String(), r.Date.Weekday().String(), r.Exam, r.Chapter, r.Objective,
			r.Tier.Label(), r.Minutes, r.Confidence, r.Compressed,
		}
		if err := f.SetSheetRow(scheduleSheet, cell, &values); err != nil {
			return err
		}
	}
	if err := f.SetRowStyle(scheduleSheet, 1, 1, bold); err != nil {
		return err
	}
	if err := f.SetColWidth(scheduleSheet, "C", "E", 28); err != nil {
		return err
	}

	if len(d.Schedule.Unplaced) > 0 {
		if _, err := f.NewSheet(unplacedSheet); err != nil {
			return err
		}
		head := []any{"Topic", "Exam", "Priority", "Minutes", "Deadline", "Reason"}
		if err := f.SetSheetRow(unplacedSheet, "A1", &head); err != nil {
			return err
		}
		topics := d.topicIndex()
		for i, u := range d.Schedule.Unplaced {
			cell, err := excelize.CoordinatesToCellName(1, i+2)
			if err != nil {
				return err
			}
			values := []any{
				objective(topics[u.TopicID], u.TopicID), u.ExamID, u.Tier.Label(),
				u.EffortMinutes, u.Deadline.String(), string(u.Reason),
			}
			if err := f.SetSheetRow(unplacedSheet, cell, &values); err != nil {
				return err
			}
		}
		if err := f.SetRowStyle(unplacedSheet, 1, 1, bold); err != nil {
			return err
		}
	}

	return f.Write(w)
}
