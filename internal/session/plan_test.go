package session

import (
	"testing"
)

func TestSubstituteCredentials(t *testing.T) {
	got := substituteCredentials("{username}:{password}", "ops@example.com", "hunter2")
	if got != "ops@example.com:hunter2" {
		t.Errorf("substituted = %q", got)
	}
	// Values without placeholders pass through untouched.
	if got := substituteCredentials("literal", "u", "p"); got != "literal" {
		t.Errorf("literal = %q", got)
	}
}

func TestExtractToken(t *testing.T) {
	body := `{"filters":{},"csrfToken":"abc-123","page":1}`
	token, err := extractToken(body, `"csrfToken":"([^"]+)"`)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if token != "abc-123" {
		t.Errorf("token = %q", token)
	}

	token, err = extractToken(body, `"missing":"([^"]+)"`)
	if err != nil || token != "" {
		t.Errorf("no match = %q, %v", token, err)
	}

	if _, err := extractToken(body, `([`); err == nil {
		t.Error("expected error for bad pattern")
	}
}

func TestPlanRegistry(t *testing.T) {
	plan, ok := PlanFor("quotes")
	if !ok {
		t.Fatal("quotes plan not registered")
	}
	if !hasCapture(plan) {
		t.Error("quotes plan should capture the token-bearing request")
	}
	// Credentials never live in the plan itself.
	for _, step := range plan.Steps {
		if step.Kind == StepFill && step.Value != "{username}" && step.Value != "{password}" {
			t.Errorf("fill step carries literal value %q", step.Value)
		}
	}

	found := false
	for _, site := range PlannedSites() {
		if site == "quotes" {
			found = true
		}
	}
	if !found {
		t.Error("PlannedSites should include quotes")
	}
}
