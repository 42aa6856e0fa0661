// Package email – HTML template selection.
//
// Each notification type that warrants a branded email maps to a template;
// everything else uses the default fallback. Templates are compiled once at
// package init and rendered with html/template so user-supplied copy is
// escaped.
package email

import (
	"bytes"
	"html/template"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// TemplateData carries the fields available to every template.
type TemplateData struct {
	// Name is the recipient's display name, title-cased for the greeting.
	Name string
	// Title and Body are the notification copy.
	Title string
	Body  string
	// ActionURL, when set, renders a call-to-action button.
	ActionURL string
	// Amount is the formatted money string for payment templates, e.g.
	// "499.00".
	Amount string
}

const baseLayout = `<!DOCTYPE html>
<html>
<body style="margin:0;padding:0;background:#f6f4ff;font-family:Arial,Helvetica,sans-serif;">
  <table role="presentation" width="100%" cellpadding="0" cellspacing="0">
    <tr><td align="center" style="padding:24px;">
      <table role="presentation" width="560" cellpadding="0" cellspacing="0" style="background:#ffffff;border-radius:8px;padding:32px;">
        <tr><td style="color:#3b2d73;font-size:20px;font-weight:bold;padding-bottom:12px;">{{.Heading}}</td></tr>
        <tr><td style="color:#333333;font-size:14px;line-height:1.6;">{{.Inner}}</td></tr>
        {{if .ActionURL}}<tr><td style="padding-top:20px;">
          <a href="{{.ActionURL}}" style="background:#5b3fbf;color:#ffffff;text-decoration:none;padding:12px 24px;border-radius:4px;font-size:14px;">{{.ActionLabel}}</a>
        </td></tr>{{end}}
        <tr><td style="color:#999999;font-size:11px;padding-top:28px;">You are receiving this email because of activity on your account.</td></tr>
      </table>
    </td></tr>
  </table>
</body>
</html>`

var layoutTmpl = template.Must(template.New("layout").Parse(baseLayout))

type layoutData struct {
	Heading     string
	Inner       template.HTML
	ActionURL   string
	ActionLabel string
}

var bodyTemplates = map[string]*template.Template{
	"payment_success": template.Must(template.New("payment_success").Parse(
		`<p>Hi {{.Name}},</p><p>Your payment was successful{{if .Amount}} — we received <strong>₹{{.Amount}}</strong>{{end}}.</p><p>{{.Body}}</p>`)),
	"order_placed": template.Must(template.New("order_placed").Parse(
		`<p>Hi {{.Name}},</p><p>Thanks for your order! We have received it and will keep you posted as it moves.</p><p>{{.Body}}</p>`)),
	"astrologer_approved": template.Must(template.New("astrologer_approved").Parse(
		`<p>Hi {{.Name}},</p><p>Congratulations — your astrologer profile has been approved. You can now go online and start taking consultations.</p><p>{{.Body}}</p>`)),
	"default": template.Must(template.New("default").Parse(
		`<p>Hi {{.Name}},</p><p>{{.Body}}</p>`)),
}

// actionLabels picks the button copy per template.
var actionLabels = map[string]string{
	"payment_success":     "View Receipt",
	"order_placed":        "Track Order",
	"astrologer_approved": "Go Online",
	"default":             "Open App",
}

var titleCaser = cases.Title(language.English)

// Render selects the template for a notification type and produces the HTML
// body. Unknown types use the default fallback; an empty name degrades to a
// generic greeting.
func Render(notificationType string, data TemplateData) (string, error) {
	name := notificationType
	tmpl, ok := bodyTemplates[name]
	if !ok {
		name = "default"
		tmpl = bodyTemplates[name]
	}

	if data.Name == "" {
		data.Name = "there"
	} else {
		data.Name = titleCaser.String(data.Name)
	}

	var inner bytes.Buffer
	if err := tmpl.Execute(&inner, data); err != nil {
		return "", err
	}

	heading := data.Title
	if heading == "" {
		heading = "Notification"
	}

	var out bytes.Buffer
	err := layoutTmpl.Execute(&out, layoutData{
		Heading:     heading,
		Inner:       template.HTML(inner.String()),
		ActionURL:   data.ActionURL,
		ActionLabel: actionLabels[name],
	})
	if err != nil {
		return "", err
	}
	return out.String(), nil
}
