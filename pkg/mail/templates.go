package mail

import (
	"bytes"
	"fmt"
	"html/template"
)

var verificationHTML = template.Must(template.New("verify").Parse(`<!doctype html>
<html><body style="font-family:sans-serif">
<h2>Welcome to {{.App}}</h2>
<p>Confirm your campus email address to finish creating your account.</p>
<p><a href="{{.URL}}">Verify my email</a></p>
<p style="color:#666">This link expires in {{.TTL}}. If you did not sign up you can ignore this message.</p>
</body></html>`))

// VerificationMessage renders the email sent after signup.
func VerificationMessage(appName, to, verifyURL, ttl string) (Message, error) {
	data := struct{ App, URL, TTL string }{appName, verifyURL, ttl}

	var html bytes.Buffer
	if err := verificationHTML.Execute(&html, data); err != nil {
		return Message{}, fmt.Errorf("render verification email: %w", err)
	}

	return Message{
		To:      []string{to},
		Subject: fmt.Sprintf("Verify your %s account", appName),
		Body: fmt.Sprintf("Welcome to %s!\n\nOpen the link below to verify your email address:\n%s\n\nThe link expires in %s.\n",
			appName, verifyURL, ttl),
		HTML: html.String(),
	}, nil
}
