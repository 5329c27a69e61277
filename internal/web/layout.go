// Package web renders the server-side pages with templ components.
package web

import (
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"
)

// writer accumulates the first write error so page bodies read top to bottom.
type writer struct {
	w   io.Writer
	err error
}

func (p *writer) raw(s string) {
	if p.err != nil {
		return
	}
	_, p.err = io.WriteString(p.w, s)
}

func (p *writer) text(s string) {
	p.raw(templ.EscapeString(s))
}

func (p *writer) rawf(format string, args ...any) {
	p.raw(fmt.Sprintf(format, args...))
}

// attr writes name="value" with the value escaped.
func (p *writer) attr(name, value string) {
	p.rawf(` %s="%s"`, name, templ.EscapeString(value))
}

func page(title string, scripts []string, body func(*writer)) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &writer{w: w}
		p.raw(`<!doctype html><html lang="en"><head><meta charset="utf-8">`)
		p.raw(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
		p.raw(`<title>`)
		p.text(title)
		p.raw(` · ticklist</title><link rel="stylesheet" href="/static/css/app.css"></head><body>`)
		p.raw(`<header class="topbar"><a class="brand" href="/">ticklist</a><nav>`)
		p.raw(`<a href="/tasks">Tasks</a><a href="/login">Sign in</a><a class="button" href="/signup">Get started</a>`)
		p.raw(`</nav></header><main>`)
		body(p)
		p.raw(`</main>`)
		for _, src := range scripts {
			p.raw(`<script`)
			p.attr("src", src)
			p.raw(` defer></script>`)
		}
		p.raw(`</body></html>`)
		return p.err
	})
}

type field struct {
	name, label, kind, autocomplete string
}

// authForm renders a form the auth script posts as JSON to endpoint, then follows next.
func authForm(p *writer, heading, lead, endpoint, next, submit string, fields []field) {
	p.raw(`<section class="card narrow"><h1>`)
	p.text(heading)
	p.raw(`</h1>`)
	if lead != "" {
		p.raw(`<p class="muted">`)
		p.text(lead)
		p.raw(`</p>`)
	}
	p.raw(`<form class="auth-form"`)
	p.attr("data-endpoint", endpoint)
	p.attr("data-next", next)
	p.raw(`>`)
	for _, f := range fields {
		p.raw(`<label>`)
		p.text(f.label)
		p.raw(`<input required`)
		p.attr("name", f.name)
		p.attr("type", f.kind)
		if f.autocomplete != "" {
			p.attr("autocomplete", f.autocomplete)
		}
		if f.name == "code" {
			p.raw(` inputmode="numeric" pattern="[0-9]{6}" maxlength="6"`)
		}
		p.raw(`></label>`)
	}
	p.raw(`<p class="form-error" role="alert" hidden></p><button type="submit">`)
	p.text(submit)
	p.raw(`</button></form>`)
}
