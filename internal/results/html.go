package results

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const reportCSS = `body{font-family:Georgia,serif;max-width:900px;margin:0 auto;padding:1.2rem;color:#1c1917;background:#fff;}
h1,h2,h3{font-family:Helvetica,Arial,sans-serif;}
table{width:100%;border-collapse:collapse;font-size:0.85rem;}
th,td{border:1px solid #a8a29e;padding:0.35rem 0.45rem;text-align:left;vertical-align:top;}
thead th{background:#f1f5f9;font-weight:700;}
code{background:#f5f5f4;padding:0 0.2rem;}
blockquote{border-left:3px solid #92400e;margin:0;padding:0 0.65rem;color:#44403c;}`

// RenderHTML converts the markdown case report into a standalone HTML
// document.
func RenderHTML(caseID, reportMarkdown string) (string, error) {
	var content strings.Builder
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := md.Convert([]byte(reportMarkdown), &content); err != nil {
		return "", fmt.Errorf("markdown convert: %w", err)
	}
	return "<!doctype html><html><head><meta charset='utf-8'><title>Diagnostic Report " + htmlEscape(caseID) + "</title>" +
		"<style>" + reportCSS + "</style></head><body>" +
		content.String() +
		"</body></html>", nil
}

// WriteHTML renders the report and writes it next to the case TSV.
func WriteHTML(dir, caseID, reportMarkdown string) (string, error) {
	doc, err := RenderHTML(caseID, reportMarkdown)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create results dir: %w", err)
	}
	path := filepath.Join(dir, caseID+"-raredx_report.html")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		return "", fmt.Errorf("write html report: %w", err)
	}
	return path, nil
}

func htmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}
