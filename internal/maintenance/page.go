// ABOUTME: Renders the static maintenance page from an embedded template
// ABOUTME: The operator-supplied message is Markdown converted with goldmark

package maintenance

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/maintenance.html"))

// DefaultMessage is shown when no message is configured.
const DefaultMessage = "Maintenance en cours, merci de revenir plus tard."

// PageOptions customize the maintenance page.
type PageOptions struct {
	SiteName string
	BaseURL  string
	Message  string // Markdown
	Lang     string
	Footer   string
}

type pageData struct {
	Lang    string
	Title   string
	Initial string
	Message template.HTML
	Footer  string
}

// RenderPage produces the full HTML document once; the gate serves the bytes.
func RenderPage(opts PageOptions) ([]byte, error) {
	title := opts.SiteName
	if title == "" {
		if u, err := url.Parse(opts.BaseURL); err == nil {
			title = u.Hostname()
		}
	}
	if title == "" {
		title = "Maintenance"
	}

	msg := opts.Message
	if strings.TrimSpace(msg) == "" {
		msg = DefaultMessage
	}
	var md bytes.Buffer
	if err := goldmark.Convert([]byte(msg), &md); err != nil {
		return nil, fmt.Errorf("converting maintenance message: %w", err)
	}

	lang := opts.Lang
	if lang == "" {
		lang = "fr"
	}
	initial, _ := utf8.DecodeRuneInString(title)

	data := pageData{
		Lang:    lang,
		Title:   title,
		Initial: strings.ToUpper(string(initial)),
		Message: template.HTML(md.String()),
		Footer:  opts.Footer,
	}

	var out bytes.Buffer
	if err := pageTemplate.Execute(&out, data); err != nil {
		return nil, fmt.Errorf("rendering maintenance page: %w", err)
	}
	return out.Bytes(), nil
}
