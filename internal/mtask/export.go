package mtask

import (
	"bufio"
	"io"
	"strings"
	"time"

	"kyri56xcaesar/pms-kanban/internal/store"
	"kyri56xcaesar/pms-kanban/internal/utils"
)

const csvContentType = "text/csv; charset=utf-8"

var csvHeader = []string{
	"ID",
	"Title",
	"Description",
	"Status",
	"Priority",
	"Assignee",
	"Assignee Email",
	"Due Date",
	"Created By",
	"Created At",
	"Updated At",
}

// WriteCSV writes the header and one row per task. Every field is quoted
// and rows end in CRLF.
func WriteCSV(w io.Writer, tasks []store.Task) error {
	bw := bufio.NewWriter(w)
	if err := writeRecord(bw, csvHeader); err != nil {
		return err
	}
	for _, t := range tasks {
		if err := writeRecord(bw, csvRow(t)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func csvRow(t store.Task) []string {
	var assignee, assigneeEmail, creator, due string
	if t.Assignee != nil {
		assignee, assigneeEmail = t.Assignee.Name, t.Assignee.Email
	}
	if t.CreatedBy != nil {
		creator = t.CreatedBy.Name
	}
	if t.DueDate != nil {
		due = formatDue(*t.DueDate)
	}

	return []string{
		t.ID,
		t.Title,
		t.Description,
		string(t.Status),
		string(t.Priority),
		assignee,
		assigneeEmail,
		due,
		creator,
		t.CreatedAt.UTC().Format(time.RFC3339),
		t.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// formatDue prints calendar dates without a time part.
func formatDue(d time.Time) string {
	d = d.UTC()
	if d.Hour() == 0 && d.Minute() == 0 && d.Second() == 0 && d.Nanosecond() == 0 {
		return d.Format(utils.DateLayout)
	}
	return d.Format(time.RFC3339)
}

func writeRecord(w *bufio.Writer, fields []string) error {
	for i, f := range fields {
		if i > 0 {
			if err := w.WriteByte(','); err != nil {
				return err
			}
		}
		if _, err := w.WriteString(quote(f)); err != nil {
			return err
		}
	}
	_, err := w.WriteString("\r\n")
	return err
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func exportFilename(key string) string {
	return key + "-tasks.csv"
}
