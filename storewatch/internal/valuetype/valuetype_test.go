package valuetype

import "testing"

func TestDetect(t *testing.T) {
	tests := []struct {
		in   string
		want Type
	}{
		{"null", Null},
		{"true", Boolean},
		{"false", Boolean},
		{"42", Number},
		{"007", Number},
		{"-1", JSON},
		{"1.5", JSON},
		{`{"a":1}`, JSON},
		{`[1,2]`, JSON},
		{`"quoted"`, JSON},
		{"hello", String},
		{"", String},
		{"True", String},
		{"{broken", String},
	}
	for _, tt := range tests {
		if got := Detect(tt.in); got != tt.want {
			t.Errorf("Detect(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParse(t *testing.T) {
	if got, err := Parse("json"); err != nil || got != JSON {
		t.Fatalf("Parse(json) = %q, %v", got, err)
	}
	if _, err := Parse("object"); err == nil {
		t.Fatal("expected error for unknown type")
	}
}
