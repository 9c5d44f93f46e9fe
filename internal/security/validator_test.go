package security_test

import (
	"strings"
	"testing"

	"github.com/Rrens/laundry-chat/internal/security"
)

func TestMessageValidator_Validate(t *testing.T) {
	validator := security.NewMessageValidator(20)

	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		// Valid messages
		{"plain", "on my way", false},
		{"multi line", "picked up\n3 bags", false},
		{"unicode", "terima kasih 🙏", false},
		{"exact length", strings.Repeat("a", 20), false},

		// Invalid - empty
		{"empty", "", true},
		{"whitespace only", "  \t\n ", true},

		// Invalid - too long
		{"too long", strings.Repeat("a", 21), true},

		// Invalid - control characters
		{"bell", "hi\x07", true},
		{"nul", "a\x00b", true},

		// Invalid - blocked patterns
		{"script tag", "<script>x</script>", true},
		{"js url", "javascript:alert(1)", true},
		{"handler", "<img onerror=x>", true},

		// Invalid - encoding
		{"bad utf8", "ok\xff", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.Validate(tt.content)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMessageValidator_ValidateAndPrepare(t *testing.T) {
	validator := security.NewMessageValidator(100)

	tests := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{"trims", "  ready for pickup  ", "ready for pickup", false},
		{"collapses blank lines", "a\n\n\n\n\nb", "a\n\nb", false},
		{"invalid returns error", "   ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := validator.ValidateAndPrepare(tt.content)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAndPrepare() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ValidateAndPrepare() = %q, want %q", got, tt.want)
			}
		})
	}
}
