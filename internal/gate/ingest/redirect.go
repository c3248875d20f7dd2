package ingest

import (
	"bytes"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

// Redirect modes for browser-facing callbacks.
const (
	RedirectHTML  = "html"
	RedirectFound = "302"
)

var redirectTemplate = template.Must(template.New("redirect").Parse(`<!DOCTYPE html>
<html lang="pt-br">
<head>
<meta charset="UTF-8">
<meta http-equiv="refresh" content="0;url={{.URL}}">
<title>Acessando seu painel...</title>
<style>
* { margin: 0; padding: 0; box-sizing: border-box; }
body { font-family: 'Inter', -apple-system, BlinkMacSystemFont, sans-serif; background: #0f172a; color: white; display: flex; align-items: center; justify-content: center; height: 100vh; text-align: center; }
.container { background: rgba(255,255,255,0.05); padding: 60px 40px; border-radius: 20px; border: 1px solid rgba(255,255,255,0.1); max-width: 480px; }
.spinner { width: 48px; height: 48px; border: 4px solid rgba(255,255,255,0.2); border-top-color: #818cf8; border-radius: 50%; animation: spin 0.8s linear infinite; margin: 0 auto 24px; }
@keyframes spin { to { transform: rotate(360deg); } }
h1 { font-size: 22px; font-weight: 800; margin-bottom: 12px; }
p { font-size: 14px; opacity: 0.7; margin-bottom: 24px; }
a { display: inline-block; background: linear-gradient(135deg, #4f46e5, #7c3aed); color: white; padding: 12px 32px; border-radius: 10px; text-decoration: none; font-weight: 700; font-size: 14px; }
</style>
</head>
<body>
<div class="container">
<div class="spinner"></div>
<h1>🎉 Compra confirmada!</h1>
<p>Estamos liberando seu acesso ao painel. Você será redirecionado automaticamente...</p>
<a href="{{.URL}}">Clique aqui se não for redirecionado</a>
</div>
<script>
setTimeout(function() { window.location.href = {{.URL}}; }, 1500);
</script>
</body>
</html>`))

// AccessRedirectURL builds <site>/?token=<token>. An empty site falls back to
// https://<host> of the incoming request.
func AccessRedirectURL(siteURL, host, token string) string {
	site := strings.TrimRight(strings.TrimSpace(siteURL), "/")
	if site == "" {
		site = "https://" + host
	}
	return site + "/?token=" + url.QueryEscape(token)
}

// writeRedirect sends the browser to target, either as an HTML page with a
// meta refresh and a timed script fallback or as a plain 302.
func writeRedirect(w http.ResponseWriter, r *http.Request, mode, target string) int {
	if mode == RedirectFound {
		http.Redirect(w, r, target, http.StatusFound)
		return http.StatusFound
	}

	var buf bytes.Buffer
	if err := redirectTemplate.Execute(&buf, struct{ URL string }{URL: target}); err != nil {
		log.Error().Err(err).Msg("ingest: render redirect page")
		http.Redirect(w, r, target, http.StatusFound)
		return http.StatusFound
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
	return http.StatusOK
}
