package partner

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Partner
		wantErr bool
	}{
		{"vistar", Vistar, false},
		{"vistar_french", VistarFrench, false},
		{"hivestack", Hivestack, false},
		{"Vistar", 0, true},
		{"", 0, true},
		{"broadsign", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownPartner) {
					t.Fatalf("expected ErrUnknownPartner, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v want %v", got, tt.want)
			}
			if got.String() != tt.in {
				t.Errorf("round trip: got %q want %q", got.String(), tt.in)
			}
		})
	}
}

func TestTagsAndLanguages(t *testing.T) {
	if Vistar.Tag() != "Vistar_EN" || VistarFrench.Tag() != "Vistar_FR" || Hivestack.Tag() != "Hivestack" {
		t.Error("unexpected notify tags")
	}
	if Vistar.Language() != "EN" || VistarFrench.Language() != "FR" || Hivestack.Language() != "" {
		t.Error("unexpected languages")
	}
	if !Vistar.IsVistar() || Hivestack.IsVistar() {
		t.Error("IsVistar mismatch")
	}
	if Partner(0).Tag() != "" || Partner(99).String() != "partner(99)" {
		t.Error("out-of-range partners must not map to a tag")
	}
}
