package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
)

// Template names a built-in message layout.
type Template string

const (
	TemplateLeadNotification    Template = "lead_notification"
	TemplateContactConfirmation Template = "contact_confirmation"
	TemplateContactNotification Template = "contact_notification"
)

// Request is a message to render: who gets it and what fills the template.
type Request struct {
	Recipient string
	ReplyTo   string
	Template  Template

	// Subject overrides the template's default subject.
	Subject string
	Fields  map[string]any
}

type layout struct {
	subject *texttemplate.Template
	html    *htmltemplate.Template
	text    *texttemplate.Template
}

var layouts = map[Template]layout{
	TemplateLeadNotification: {
		subject: texttemplate.Must(texttemplate.New("subject").Parse("New lead: {{.name}} ({{.company_name}})")),
		html: htmltemplate.Must(htmltemplate.New("lead").Parse(`<h2>New lead</h2>
<p><strong>{{.name}}</strong> &lt;{{.email}}&gt;</p>
<table>
<tr><td>Company</td><td>{{.company_name}}</td></tr>
<tr><td>Industry</td><td>{{.industry}}</td></tr>
<tr><td>Size</td><td>{{.company_size}}</td></tr>
<tr><td>Region</td><td>{{.region}}</td></tr>
<tr><td>Confidence</td><td>{{.confidence}} ({{.source}})</td></tr>
</table>
<p>{{.description}}</p>
{{with .message}}<blockquote>{{.}}</blockquote>{{end}}`)),
		text: texttemplate.Must(texttemplate.New("lead").Parse(`New lead: {{.name}} <{{.email}}>
Company: {{.company_name}}
Industry: {{.industry}}
Size: {{.company_size}}
Region: {{.region}}
Confidence: {{.confidence}} ({{.source}})

{{.description}}
{{with .message}}
Message:
{{.}}{{end}}`)),
	},
	TemplateContactConfirmation: {
		subject: texttemplate.Must(texttemplate.New("subject").Parse("Thanks for getting in touch")),
		html: htmltemplate.Must(htmltemplate.New("confirm").Parse(`<p>Hi {{.name}},</p>
<p>Thanks for reaching out. We received your message and will reply shortly.</p>
{{with .message}}<blockquote>{{.}}</blockquote>{{end}}`)),
		text: texttemplate.Must(texttemplate.New("confirm").Parse(`Hi {{.name}},

Thanks for reaching out. We received your message and will reply shortly.
{{with .message}}
> {{.}}{{end}}`)),
	},
	TemplateContactNotification: {
		subject: texttemplate.Must(texttemplate.New("subject").Parse("Contact form: {{.name}}")),
		html: htmltemplate.Must(htmltemplate.New("contact").Parse(`<p><strong>{{.name}}</strong> &lt;{{.email}}&gt; wrote:</p>
<blockquote>{{.message}}</blockquote>`)),
		text: texttemplate.Must(texttemplate.New("contact").Parse(`{{.name}} <{{.email}}> wrote:

{{.message}}`)),
	},
}

// Fields the built-in templates reference; absent ones render empty.
var knownFields = []string{
	"name", "email", "message",
	"company_name", "industry", "company_size", "region", "description",
	"confidence", "source",
}

// Render fills a built-in template. Field values are HTML-escaped in the HTML
// part.
func Render(req Request) (Message, error) {
	l, ok := layouts[req.Template]
	if !ok {
		return Message{}, fmt.Errorf("unknown template %q", req.Template)
	}
	fields := make(map[string]any, len(knownFields)+len(req.Fields))
	for _, k := range knownFields {
		fields[k] = ""
	}
	for k, v := range req.Fields {
		fields[k] = v
	}

	subject := req.Subject
	if subject == "" {
		var sb strings.Builder
		if err := l.subject.Execute(&sb, fields); err != nil {
			return Message{}, fmt.Errorf("render subject: %w", err)
		}
		subject = sb.String()
	}

	var html, text bytes.Buffer
	if err := l.html.Execute(&html, fields); err != nil {
		return Message{}, fmt.Errorf("render %s html: %w", req.Template, err)
	}
	if err := l.text.Execute(&text, fields); err != nil {
		return Message{}, fmt.Errorf("render %s text: %w", req.Template, err)
	}

	return Message{
		To:      []string{req.Recipient},
		ReplyTo: req.ReplyTo,
		Subject: strings.Join(strings.Fields(subject), " "),
		HTML:    html.String(),
		Text:    text.String(),
	}, nil
}
