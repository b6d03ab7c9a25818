package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/shaiso/rpd-pipelines/internal/stageout"
	"github.com/shaiso/rpd-pipelines/internal/starter"
)

// Output управляет форматированием вывода CLI.
type Output struct {
	jsonMode bool
	w        io.Writer // stdout для данных
	errW     io.Writer // stderr для сообщений
}

// NewOutput создаёт Output. Если jsonMode=true, данные выводятся в JSON.
func NewOutput(jsonMode bool) *Output {
	return &Output{
		jsonMode: jsonMode,
		w:        os.Stdout,
		errW:     os.Stderr,
	}
}

// Print выводит данные: таблицу или JSON в зависимости от режима.
func (o *Output) Print(headers []string, rows [][]string, jsonData any) {
	if o.jsonMode {
		o.JSON(jsonData)
		return
	}
	o.Table(headers, rows)
}

// Table выводит данные в виде таблицы через tabwriter.
func (o *Output) Table(headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, strings.Join(headers, "\t"))

	dashes := make([]string, len(headers))
	for i, h := range headers {
		dashes[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(tw, strings.Join(dashes, "\t"))

	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}

	tw.Flush()
}

// JSON выводит данные в формате JSON с отступами.
func (o *Output) JSON(v any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

// Success выводит сообщение об успехе в stderr.
func (o *Output) Success(msg string) {
	fmt.Fprintln(o.errW, msg)
}

// Error выводит сообщение об ошибке в stderr.
func (o *Output) Error(msg string) {
	fmt.Fprintln(o.errW, "Error: "+msg)
}

// summaryJSON — JSON-представление итога цикла starter'а.
type summaryJSON struct {
	Site     string                 `json:"site"`
	From     int64                  `json:"from"`
	To       int64                  `json:"to"`
	Eligible int                    `json:"eligible"`
	Results  []starter.RecordResult `json:"results"`
}

// Summary выводит итог цикла starter'а.
func (o *Output) Summary(s *starter.Summary) {
	from, to := s.Window.Epochs()

	rows := make([][]string, len(s.Results))
	for i, r := range s.Results {
		rows[i] = []string{r.RecordID.String(), string(r.Outcome), r.OutDir, r.Reason}
	}

	o.Print(
		[]string{"RECORD_ID", "OUTCOME", "OUTDIR", "REASON"},
		rows,
		summaryJSON{Site: s.Site, From: from, To: to, Eligible: s.Eligible(), Results: s.Results},
	)
	o.Success(fmt.Sprintf("%s: %d eligible, %d dispatched, %d failed, %d skipped",
		s.Site, s.Eligible(),
		s.Count(starter.OutcomeDispatched), s.Failed(), s.Count(starter.OutcomeSkipped)))
}

// Report выводит итог прохода stage-out scanner'а.
func (o *Output) Report(r *stageout.Report) {
	var rows [][]string
	for _, d := range r.Staged {
		rows = append(rows, []string{d, "staged"})
	}
	for _, d := range r.AlreadyStaged {
		rows = append(rows, []string{d, "already_staged"})
	}
	for _, d := range r.Failed {
		rows = append(rows, []string{d, "failed"})
	}

	o.Print([]string{"OUTDIR", "RESULT"}, rows, r)
	o.Success(fmt.Sprintf("%d complete, %d staged, %d failed", r.Found, len(r.Staged), len(r.Failed)))
}
