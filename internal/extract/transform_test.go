package extract

import "testing"

func TestSupSub(t *testing.T) {
	cases := []struct{ in, want string }{
		{"10<sup>6</sup> psi", "10⁶ psi"},
		{"kg/m<sup>3</sup>", "kg/m³"},
		{"H<sub>2</sub>O", "H₂O"},
		{"10<sup>-6</sup>/K", "10⁻⁶/K"},
		{"plain", "plain"},
	}
	for _, c := range cases {
		if got := SupSub(c.in); got != c.want {
			t.Errorf("SupSub(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSupSubIdempotent(t *testing.T) {
	inputs := []string{
		"10<sup>6</sup> psi",
		"kg/m<sup>3</sup>",
		"µm/m-°C from 10<sup>-6</sup>",
		"already ⁶ converted",
	}
	for _, in := range inputs {
		once := SupSub(in)
		twice := SupSub(once)
		if once != twice {
			t.Errorf("SupSub not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestSplitCurrency(t *testing.T) {
	cases := []struct {
		in, def     string
		value, code string
	}{
		{"£1,200.50", "GBP", "1200.50", "GBP"},
		{"$90", "GBP", "90", "USD"},
		{"€45.00", "USD", "45.00", "EUR"},
		{"1500 SEK", "USD", "1500", "SEK"},
		{"250", "GBP", "250", "GBP"},
	}
	for _, c := range cases {
		v, code := SplitCurrency(c.in, c.def)
		if v != c.value || code != c.code {
			t.Errorf("SplitCurrency(%q) = (%q, %q), want (%q, %q)", c.in, v, code, c.value, c.code)
		}
	}
}

func TestRangeValue(t *testing.T) {
	cases := []struct{ min, max, want string }{
		{"235", "355", "235 to 355"},
		{"235", "235", "235"},
		{"235", "", "235"},
		{"", "355", "355"},
		{"", "", ""},
	}
	for _, c := range cases {
		if got := RangeValue(c.min, c.max); got != c.want {
			t.Errorf("RangeValue(%q, %q) = %q, want %q", c.min, c.max, got, c.want)
		}
	}
}

func TestSnakeCase(t *testing.T) {
	if got := SnakeCase("  Plan Type  "); got != "plan_type" {
		t.Errorf("got %q", got)
	}
}

func TestNormalizeLineBreaks(t *testing.T) {
	in := "line one\r\n\r\n  line two  \rline three\n\n"
	want := "line one\nline two\nline three"
	if got := NormalizeLineBreaks(in); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestJoinList(t *testing.T) {
	got := JoinList([]string{"12 High St", "", " Bath ", "BA1 1AA"}, "\n")
	want := "12 High St\nBath\nBA1 1AA"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestParseIntAndFloat(t *testing.T) {
	if n, ok := ParseInt("1,250"); !ok || n != 1250 {
		t.Errorf("ParseInt: got %d, %v", n, ok)
	}
	if _, ok := ParseInt("n/a"); ok {
		t.Error("ParseInt should fail on non-numeric input")
	}
	if f, ok := ParseFloat("3,141.5"); !ok || f != 3141.5 {
		t.Errorf("ParseFloat: got %v, %v", f, ok)
	}
}
