package mail

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.New("mail").Option("missingkey=error").ParseFS(templateFS, "templates/*.tmpl"))

// Rendered is a message ready for a transport.
type Rendered struct {
	Subject string
	Body    string
}

// Render executes the message template. Each template defines "<name>.subject"
// and "<name>.body".
func Render(msg Message) (Rendered, error) {
	if templates.Lookup(msg.Template+".body") == nil {
		return Rendered{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, msg.Template)
	}
	subject, err := execute(msg.Template+".subject", msg.Variables)
	if err != nil {
		return Rendered{}, err
	}
	body, err := execute(msg.Template+".body", msg.Variables)
	if err != nil {
		return Rendered{}, err
	}
	return Rendered{Subject: strings.TrimSpace(subject), Body: body}, nil
}

func execute(name string, vars map[string]string) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, vars); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}
