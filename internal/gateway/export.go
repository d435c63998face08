package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ariefcatur/go-order-console/internal/session"
)

type ExportFormat string

const (
	FormatExcel ExportFormat = "excel"
	FormatCSV   ExportFormat = "csv"
	FormatPDF   ExportFormat = "pdf"
)

var exportFiles = map[ExportFormat]struct{ name, contentType string }{
	FormatExcel: {"orders.xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
	FormatCSV:   {"orders.csv", "text/csv"},
	FormatPDF:   {"orders.pdf", "application/pdf"},
}

func ParseExportFormat(s string) (ExportFormat, error) {
	f := ExportFormat(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case "xlsx":
		f = FormatExcel
	}
	if _, ok := exportFiles[f]; !ok {
		return "", fmt.Errorf("unknown export format %q (want excel, csv or pdf)", s)
	}
	return f, nil
}

// Filename is the name the artifact is delivered under.
func (f ExportFormat) Filename() string { return exportFiles[f].name }

type Artifact struct {
	Format      ExportFormat
	Filename    string
	ContentType string
	Data        []byte
}

func (c *Client) ExportOrders(ctx context.Context, s session.Session, format ExportFormat) (Artifact, error) {
	meta, ok := exportFiles[format]
	if !ok {
		return Artifact{}, &Error{Kind: KindRequestFailed, Op: "export", Message: fmt.Sprintf("unknown export format %q", format)}
	}
	var raw rawBody
	err := c.do(ctx, s, request{op: "export", method: http.MethodGet, path: "/exports/" + string(format), raw: &raw})
	if err != nil {
		return Artifact{}, err
	}
	ct := raw.contentType
	if strings.HasPrefix(ct, "application/json") {
		// the export routes report generation errors as a 200 JSON body
		msg := detailMessage(raw.data)
		if msg == "" {
			msg = "export could not be generated"
		}
		return Artifact{}, requestFailed("export", http.StatusOK, msg)
	}
	if ct == "" {
		ct = meta.contentType
	}
	// The delivered name is fixed; the service's own Content-Disposition
	// is ignored.
	return Artifact{Format: format, Filename: meta.name, ContentType: ct, Data: raw.data}, nil
}
