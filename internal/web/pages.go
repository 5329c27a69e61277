package web

import "github.com/a-h/templ"

var authScripts = []string{"/static/js/auth.js"}

var (
	emailField    = field{name: "email", label: "Email", kind: "email", autocomplete: "email"}
	passwordField = field{name: "password", label: "Password", kind: "password", autocomplete: "current-password"}
	newPassword   = field{name: "password", label: "New password", kind: "password", autocomplete: "new-password"}
	codeField     = field{name: "code", label: "6-digit code", kind: "text", autocomplete: "one-time-code"}
)

func HomePage() templ.Component {
	return page("Home", nil, func(p *writer) {
		p.raw(`<section class="hero"><h1>Keep every task in one tidy list.</h1>`)
		p.raw(`<p class="lead">Create, tag and sort your to-dos, catch overdue work at a glance and take your list anywhere with CSV or JSON export.</p>`)
		p.raw(`<p><a class="button" href="/signup">Create a free account</a> <a class="button ghost" href="/login">Sign in</a></p></section>`)
		p.raw(`<section class="features">`)
		for _, f := range [][2]string{
			{"Fast edits", "Changes show up instantly and sync in the background."},
			{"Undo delete", "Removed something by mistake? You have five seconds to bring it back."},
			{"Filters and sorting", "Slice by status, category, tag or text and order by any column."},
			{"Export", "Download your tasks as CSV or JSON, or add due dates to your calendar."},
		} {
			p.raw(`<article class="card"><h2>`)
			p.text(f[0])
			p.raw(`</h2><p>`)
			p.text(f[1])
			p.raw(`</p></article>`)
		}
		p.raw(`</section><section class="cta"><h2>Ready when you are.</h2><a class="button" href="/signup">Get started</a></section>`)
	})
}

// OAuthButton is a social sign-in provider shown on the login page.
type OAuthButton struct {
	Name  string
	Label string
}

func LoginPage(providers ...OAuthButton) templ.Component {
	return page("Sign in", authScripts, func(p *writer) {
		authForm(p, "Sign in", "", "/api/auth/signin", "/tasks", "Sign in", []field{emailField, passwordField})
		p.raw(`<p class="muted"><a href="/forgot-password">Forgot your password?</a> · <a href="/signup">Create an account</a></p>`)
		if len(providers) > 0 {
			p.raw(`<div class="oauth"><p class="divider muted">or</p>`)
			for _, pr := range providers {
				p.raw(`<a class="button ghost"`)
				p.attr("href", "/api/auth/oauth/"+pr.Name)
				p.raw(`>Continue with `)
				p.text(pr.Label)
				p.raw(`</a>`)
			}
			p.raw(`</div>`)
		}
		p.raw(`</section>`)
		authForm(p, "Sign in with a code", "We will send a one-time code to your email.", "/api/auth/request-otp", "", "Send code", []field{emailField})
		p.raw(`</section>`)
		authForm(p, "Enter your code", "", "/api/auth/verify-otp", "/tasks", "Sign in", []field{emailField, codeField})
		p.raw(`</section>`)
	})
}

func SignupPage() templ.Component {
	return page("Create account", authScripts, func(p *writer) {
		authForm(p, "Create your account", "Passwords need 8+ characters with upper and lower case letters, a number and a symbol.",
			"/api/auth/signup", "/verify-email", "Create account", []field{
				{name: "name", label: "Name", kind: "text", autocomplete: "name"},
				emailField,
				{name: "password", label: "Password", kind: "password", autocomplete: "new-password"},
			})
		p.raw(`<p class="muted">Already registered? <a href="/login">Sign in</a></p></section>`)
	})
}

func VerifyEmailPage() templ.Component {
	return page("Verify email", authScripts, func(p *writer) {
		authForm(p, "Verify your email", "Enter the code we sent to your inbox.", "/api/auth/verify-email", "/login", "Verify", []field{emailField, codeField})
		p.raw(`</section>`)
		authForm(p, "Need a new code?", "", "/api/auth/resend-verification", "", "Resend code", []field{emailField})
		p.raw(`</section>`)
	})
}

func ForgotPasswordPage() templ.Component {
	return page("Forgot password", authScripts, func(p *writer) {
		authForm(p, "Reset your password", "If an account exists we will email you a reset code.", "/api/auth/forgot-password", "/reset-password", "Send reset code", []field{emailField})
		p.raw(`</section>`)
	})
}

func ResetPasswordPage() templ.Component {
	return page("Reset password", authScripts, func(p *writer) {
		authForm(p, "Choose a new password", "", "/api/auth/reset-password", "/login", "Reset password", []field{emailField, codeField, newPassword})
		p.raw(`</section>`)
	})
}
