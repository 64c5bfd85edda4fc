package projection

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"procstream/internal/extract"
	"procstream/internal/logging"
)

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatHTML Format = "html"
)

// ParseFormat accepts csv, json or html in any case.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatCSV, FormatJSON, FormatHTML:
		return f, nil
	}
	return "", fmt.Errorf("unknown export format %q (valid: csv, json, html)", s)
}

// Extension returns the file extension for f.
func (f Format) Extension() string { return "." + string(f) }

// Export writes plan to w in the given format.
func Export(w io.Writer, f Format, task string, plan *extract.Plan, now time.Time) error {
	if plan == nil {
		return fmt.Errorf("nothing to export for %q", task)
	}
	var err error
	switch f {
	case FormatCSV:
		err = WriteCSV(w, plan)
	case FormatJSON:
		err = WriteJSON(w, task, plan, now)
	case FormatHTML:
		err = WriteHTML(w, task, plan)
	default:
		err = fmt.Errorf("unknown export format %q", f)
	}
	if err == nil {
		logging.Export("exported %q as %s (%d processes)", task, f, len(plan.Processes))
	}
	return err
}

var csvHeader = []string{"工序ID", "工序名称", "工序描述", "单元", "步骤ID", "设备", "操作"}

// WriteCSV writes a UTF-8 CSV with a byte order mark so spreadsheet tools
// pick the right encoding. Processes without steps get one row with "-"
// step cells.
func WriteCSV(w io.Writer, plan *extract.Plan) error {
	if _, err := io.WriteString(w, "\ufeff"); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range Flatten(plan, NoStepsExport) {
		if err := cw.Write([]string{r.ProcessID, r.ProcessName, r.Description, r.Unit, r.StepID, r.Device, r.Action}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type jsonExport struct {
	Task       string            `json:"task"`
	ExportTime string            `json:"exportTime"`
	Processes  []extract.Process `json:"processes"`
}

// WriteJSON writes {task, exportTime, processes} indented by two spaces.
func WriteJSON(w io.Writer, task string, plan *extract.Plan, now time.Time) error {
	doc := jsonExport{
		Task:       task,
		ExportTime: now.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Processes:  plan.Processes,
	}
	if doc.Processes == nil {
		doc.Processes = []extract.Process{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(doc)
}

// WriteHTML writes a standalone table document. Process cells span all of
// the process's step rows; step-less processes show the pending placeholder.
func WriteHTML(w io.Writer, task string, plan *extract.Plan) error {
	title := "工艺工序分解结果"
	if task != "" {
		title += " - " + task
	}

	doc := &html.Node{Type: html.DocumentNode}
	doc.AppendChild(&html.Node{Type: html.DoctypeNode, Data: "html"})

	root := element(atom.Html, "lang", "zh-CN")
	doc.AppendChild(root)

	head := element(atom.Head)
	root.AppendChild(head)
	head.AppendChild(element(atom.Meta, "charset", "utf-8"))
	head.AppendChild(withText(element(atom.Title), title))
	head.AppendChild(withText(element(atom.Style),
		"table{border-collapse:collapse}th,td{border:1px solid #999;padding:4px 8px;vertical-align:top}.pending{color:#666}"))

	body := element(atom.Body)
	root.AppendChild(body)
	body.AppendChild(withText(element(atom.H1), title))

	tbl := element(atom.Table)
	body.AppendChild(tbl)

	thead := element(atom.Thead)
	tbl.AppendChild(thead)
	hr := element(atom.Tr)
	thead.AppendChild(hr)
	for _, h := range csvHeader {
		hr.AppendChild(withText(element(atom.Th), h))
	}

	tbody := element(atom.Tbody)
	tbl.AppendChild(tbody)
	for _, r := range Flatten(plan, PlaceholderSteps) {
		tr := element(atom.Tr)
		tbody.AppendChild(tr)
		if r.First {
			for _, v := range []string{r.ProcessID, r.ProcessName, r.Description} {
				td := withText(element(atom.Td), v)
				if r.Span > 1 {
					td.Attr = append(td.Attr, html.Attribute{Key: "rowspan", Val: strconv.Itoa(r.Span)})
				}
				tr.AppendChild(td)
			}
		}
		for _, v := range []string{r.Unit, r.StepID, r.Device, r.Action} {
			td := withText(element(atom.Td), v)
			if !r.HasStep {
				td.Attr = append(td.Attr, html.Attribute{Key: "class", Val: "pending"})
			}
			tr.AppendChild(td)
		}
	}

	return html.Render(w, doc)
}

func element(a atom.Atom, attrs ...string) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attr = append(n.Attr, html.Attribute{Key: attrs[i], Val: attrs[i+1]})
	}
	return n
}

func withText(n *html.Node, text string) *html.Node {
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	return n
}
