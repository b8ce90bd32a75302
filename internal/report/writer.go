package report

import (
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ryanuber/columnize"
)

// WriteJSON marshals r to path (created or truncated).
func WriteJSON(r Report, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating json report %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

var htmlTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head><title>Run report</title></head>
<body>
<h1>Run report</h1>
<p>{{.Timestamp}} &mdash; {{.DurationMs}}ms &mdash; host {{.HostVersion}}</p>
<p>Total: {{.Summary.Total}} Passed: {{.Summary.Passed}} Failed: {{.Summary.Failed}}</p>
<table border="1" cellpadding="4">
<tr><th>Step</th><th>Result</th><th>Duration (ms)</th><th>Error</th></tr>
{{range .Results}}<tr>
<td>{{.Step}}</td>
<td>{{if .Success}}pass{{else}}fail{{end}}</td>
<td>{{.DurationMs}}</td>
<td>{{if .Error}}{{.Error.Message}}{{end}}</td>
</tr>
{{end}}
</table>
</body>
</html>
`))

// WriteHTML renders r as a self-contained HTML page at path.
func WriteHTML(r Report, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating html report %s: %w", path, err)
	}
	defer f.Close()
	return htmlTemplate.Execute(f, r)
}

// WriteSummary renders a one-page columnized text summary to w (normally
// stdout).
func WriteSummary(r Report, w interface{ Write([]byte) (int, error) }) error {
	lines := []string{"STEP | RESULT | DURATION (MS)"}
	for _, res := range r.Results {
		status := "pass"
		if !res.Success {
			status = "fail"
		}
		lines = append(lines, fmt.Sprintf("%s | %s | %s", res.Step, status, strconv.FormatInt(res.DurationMs, 10)))
	}
	out := columnize.SimpleFormat(lines)
	out += fmt.Sprintf("\n\ntotal=%d passed=%d failed=%d duration_ms=%d host_version=%s\n",
		r.Summary.Total, r.Summary.Passed, r.Summary.Failed, r.DurationMs, r.HostVersion)
	_, err := w.Write([]byte(out))
	return err
}

// WriteAll writes the JSON and HTML artifacts under dir (basename
// "report.json"/"report.html") and the text summary to stdout.
func WriteAll(r Report, dir string, stdout interface{ Write([]byte) (int, error) }) error {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating report directory %s: %w", dir, err)
	}
	if err := WriteJSON(r, filepath.Join(dir, "report.json")); err != nil {
		return err
	}
	if err := WriteHTML(r, filepath.Join(dir, "report.html")); err != nil {
		return err
	}
	return WriteSummary(r, stdout)
}
