package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
	"strings"
)

// AccessEmailSubject is the subject line of the access email.
const AccessEmailSubject = "🔑 Seu código de acesso - LexOps Insight"

var accessTemplate = template.Must(template.New("access").Parse(`<!DOCTYPE html>
<html lang="pt-br">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Seu código de acesso - LexOps Insight</title>
</head>
<body style="font-family: 'Inter', -apple-system, BlinkMacSystemFont, sans-serif; margin: 0; padding: 20px; background-color: #0f172a;">
<table role="presentation" style="width: 100%; border: 0; cellpadding: 0; cellspacing: 0;">
<tr><td style="padding: 20px 0; text-align: center;">
<table role="presentation" style="max-width: 600px; margin: 0 auto; background: #ffffff; border-radius: 16px; overflow: hidden;">
<tr><td style="padding: 40px 30px; text-align: center; background: #4f46e5; color: #ffffff;">
<h1 style="margin: 0 0 8px; font-size: 28px;">🎉 Acesso Liberado!</h1>
<p style="margin: 0; font-size: 14px;">Bem-vindo ao LexOps Insight</p>
</td></tr>
<tr><td style="padding: 48px 40px; text-align: left; color: #475569;">
<p style="font-size: 18px; color: #1e293b; font-weight: 600;">Olá <strong>{{.FirstName}}</strong>!</p>
<p style="font-size: 15px; line-height: 1.7;">Obrigado por confiar na <strong>LexOps Insight</strong>! Sua compra foi confirmada e seu acesso está 100% pronto.</p>
<p style="margin: 32px 0 12px; font-size: 12px; font-weight: 700; color: #7c3aed; text-transform: uppercase; text-align: center;">🔑 Seu código de acesso</p>
<p style="font-size: 22px; font-weight: 900; font-family: 'Monaco', 'Courier New', monospace; color: #4f46e5; word-break: break-all; text-align: center; background: #f0f4ff; padding: 16px; border-radius: 8px;">{{.Token}}</p>
<p style="font-size: 12px; color: #7c3aed; text-align: center;">💡 Copie e guarde este código! Você usará sempre que precisar.</p>
<ol style="font-size: 15px; line-height: 2;">
<li><strong>Visite</strong> <a href="{{.SiteURL}}" style="color: #4f46e5; font-weight: 700;">{{.SiteURL}}</a></li>
<li><strong>Cole seu código</strong> no campo de acesso</li>
<li><strong>Clique em "Entrar"</strong> e aproveite! 🚀</li>
</ol>
<p style="text-align: center; margin: 40px 0;">
<a href="{{.AccessURL}}" style="display: inline-block; padding: 16px 48px; background: #4f46e5; color: #ffffff; text-decoration: none; border-radius: 10px; font-weight: 800;">✨ Acessar Dashboard Agora</a>
</p>
</td></tr>
<tr><td style="padding: 32px; text-align: center; background: #f8fafc; color: #94a3b8; font-size: 12px;">
LexOps Insight<br>
<small>Este é um email automático. Não responda este endereço.</small>
</td></tr>
</table>
</td></tr>
</table>
</body>
</html>`))

// AccessEmailData holds template data for the access email.
type AccessEmailData struct {
	Name    string // full customer name; only the first name is shown
	Token   string
	SiteURL string
}

type accessView struct {
	FirstName string
	Token     string
	SiteURL   string
	AccessURL string
}

// FirstName returns the first word of name, or "Cliente".
func FirstName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "Cliente"
	}
	return fields[0]
}

// AccessURL builds <site>/?token=<token>.
func AccessURL(siteURL, token string) string {
	return strings.TrimRight(siteURL, "/") + "/?token=" + url.QueryEscape(token)
}

// RenderAccessEmail renders the access email HTML and text bodies.
func RenderAccessEmail(data AccessEmailData) (html, text string, err error) {
	view := accessView{
		FirstName: FirstName(data.Name),
		Token:     data.Token,
		SiteURL:   strings.TrimRight(data.SiteURL, "/"),
		AccessURL: AccessURL(data.SiteURL, data.Token),
	}

	var buf bytes.Buffer
	if err := accessTemplate.Execute(&buf, view); err != nil {
		return "", "", fmt.Errorf("render access template: %w", err)
	}

	textBody := fmt.Sprintf("Olá %s!\n\nSua compra foi confirmada e seu acesso ao LexOps Insight está pronto.\n\nSeu código de acesso: %s\n\nAcesse: %s\n",
		view.FirstName, view.Token, view.AccessURL)

	return buf.String(), textBody, nil
}
