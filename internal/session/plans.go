package session

import "time"

func init() {
	// Quoting portal login: credentials form, then a quote search whose
	// XHR carries the session's CSRF token and filter body.
	RegisterPlan(&Plan{
		Site: "quotes",
		TTL:  25 * time.Minute,
		Steps: []Step{
			{Kind: StepNavigate, URL: "https://quoting.covercompass.com/login"},
			{Kind: StepWaitVisible, Selector: "input#username"},
			{Kind: StepFill, Selector: "input#username", Value: "{username}"},
			{Kind: StepFill, Selector: "input#password", Value: "{password}"},
			{Kind: StepClick, Selector: "button[type=submit]"},
			{Kind: StepWaitVisible, Selector: "nav.dashboard-nav", Timeout: 45 * time.Second},
			{Kind: StepCapture, Pattern: "/api/v2/plans", Token: `"csrfToken":"([^"]+)"`},
			{Kind: StepNavigate, URL: "https://quoting.covercompass.com/quotes/new"},
			{Kind: StepWaitVisible, Selector: "form#quote-search"},
			{Kind: StepClick, Selector: "form#quote-search button.search", Optional: true},
		},
	})
}
