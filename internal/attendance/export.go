package attendance

import (
	"encoding/csv"
	"io"
)

// WriteCSV exports records as CSV with columns Name, Student ID and Timestamp,
// one row per record in the given order. Zero records still produce the
// header row.
func (s *Service) WriteCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Name", "Student ID", "Timestamp"}); err != nil {
		return err
	}
	for _, rec := range records {
		row := []string{
			rec.User.FirstName + " " + rec.User.LastName,
			rec.User.StudentID,
			rec.Timestamp.In(s.loc).Format("2006-01-02 15:04:05"),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
