package domain

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from DocumentStatus
		to   DocumentStatus
		want bool
	}{
		{"queued starts processing", StatusQueued, StatusProcessing, true},
		{"failed retries into processing", StatusFailed, StatusProcessing, true},
		{"rotation rerun into processing", StatusNeedsRotation, StatusProcessing, true},
		{"validated never re-enters processing", StatusValidated, StatusProcessing, false},
		{"extracted never re-enters processing", StatusExtracted, StatusProcessing, false},

		{"processing completes", StatusProcessing, StatusExtracted, true},
		{"queued cannot skip to extracted", StatusQueued, StatusExtracted, false},

		{"reviewer flags rotation after extraction", StatusExtracted, StatusNeedsRotation, true},
		{"reviewer flags rotation on failure", StatusFailed, StatusNeedsRotation, true},
		{"validated cannot be flagged", StatusValidated, StatusNeedsRotation, false},

		{"manual stop fails a running document", StatusProcessing, StatusFailed, true},
		{"validated is terminal for failure", StatusValidated, StatusFailed, false},

		{"only extracted can be validated", StatusExtracted, StatusValidated, true},
		{"processing cannot be validated", StatusProcessing, StatusValidated, false},

		{"reprocess rewinds validated", StatusValidated, StatusQueued, true},
		{"reprocess rewinds failed", StatusFailed, StatusQueued, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestEffectiveTypePrefersOverride(t *testing.T) {
	doc := &Document{DocType: TypeFattura}
	if got := doc.EffectiveType(); got != TypeFattura {
		t.Fatalf("EffectiveType() = %s, want %s", got, TypeFattura)
	}

	doc.DocTypeOverride = TypeDDT
	if got := doc.EffectiveType(); got != TypeDDT {
		t.Fatalf("EffectiveType() with override = %s, want %s", got, TypeDDT)
	}

	empty := &Document{}
	if got := empty.EffectiveType(); got != TypeAltro {
		t.Fatalf("EffectiveType() on unclassified document = %s, want %s", got, TypeAltro)
	}
}
