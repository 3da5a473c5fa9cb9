package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"text/template"
)

type templateSet struct {
	text *template.Template
	html *htmltemplate.Template
}

var templates = map[Kind]templateSet{
	KindBorrowConfirmation: {
		text: template.Must(template.New("borrow_text").Parse(
			`You have borrowed "{{.book_title}}". The due date for return is {{.due_date}}.`)),
		html: htmltemplate.Must(htmltemplate.New("borrow_html").Parse(`<html>
<body>
<p>Hi {{.username}},</p>
<p>You have borrowed <strong>{{.book_title}}</strong>.</p>
<p>Please return it by <strong>{{.due_date}}</strong> to avoid a fine.</p>
{{if .return_url}}<p><a href="{{.return_url}}">Manage your loans</a></p>{{end}}
</body>
</html>`)),
	},
	KindOverdueReminder: {
		text: template.Must(template.New("overdue_text").Parse(
			`The book "{{.book_title}}" is overdue. Please return it as soon as possible.`)),
	},
	KindDueTodayReminder: {
		text: template.Must(template.New("due_today_text").Parse(
			`The book "{{.book_title}}" is due today. Please return it on time to avoid a fine.`)),
	},
}

// Render turns an intent into a deliverable message
func Render(intent Intent) (Message, error) {
	if err := intent.Validate(); err != nil {
		return Message{}, err
	}
	set := templates[intent.Kind]

	msg := Message{To: intent.To, Subject: intent.Subject}

	var buf bytes.Buffer
	if err := set.text.Execute(&buf, intent.Params); err != nil {
		return Message{}, fmt.Errorf("failed to render %s: %w", intent.Kind, err)
	}
	msg.Text = buf.String()

	if set.html != nil {
		buf.Reset()
		if err := set.html.Execute(&buf, intent.Params); err != nil {
			return Message{}, fmt.Errorf("failed to render %s html: %w", intent.Kind, err)
		}
		msg.HTML = buf.String()
	}
	return msg, nil
}
