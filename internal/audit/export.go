package audit

import (
	"encoding/csv"
	"io"
	"time"
)

// WriteCSV serialises timeline rows. Metadata is written as its tagged JSON form.
func WriteCSV(w io.Writer, rows []TimelineRow) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"id", "at", "severity", "action", "resource", "resource_id", "user_id", "description", "metadata"}); err != nil {
		return err
	}
	for _, row := range rows {
		meta, err := EncodeMetadata(row.Metadata)
		if err != nil {
			return err
		}
		record := []string{
			row.ID,
			row.At.UTC().Format(time.RFC3339),
			string(row.Severity),
			row.Action,
			row.Resource,
			row.ResourceID,
			row.UserID,
			row.Description,
			string(meta),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
