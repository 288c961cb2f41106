package validation

import (
	"errors"
	"os"
	"slices"
	"testing"

	"github.com/noteduco342/om-realtime-hub/internal/models"
)

func TestMaxMessageLength(t *testing.T) {
	tests := []struct {
		name        string
		envValue    string
		expected    int
		shouldUnset bool
	}{
		{"Default length", "", 4000, true},
		{"Custom length", "200", 200, false},
		{"Invalid env value", "invalid", 4000, false},
		{"Non-positive value", "0", 4000, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.shouldUnset {
				os.Unsetenv("MAX_MESSAGE_LENGTH")
			} else {
				t.Setenv("MAX_MESSAGE_LENGTH", tt.envValue)
			}

			result := MaxMessageLength()
			if result != tt.expected {
				t.Errorf("MaxMessageLength() = %d, want %d", result, tt.expected)
			}
		})
	}

	SetMaxMessageLength(50)
	defer SetMaxMessageLength(0)
	if MaxMessageLength() != 50 {
		t.Errorf("configured length should win over the environment")
	}
}

func TestTrimAndLimit(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		limit    int
		expected string
	}{
		{"Normal string", "hello world", 20, "hello world"},
		{"String with spaces", "  hello world  ", 20, "hello world"},
		{"String exceeding limit", "hello world this is too long", 10, "hello worl"},
		{"Empty string", "", 20, ""},
		{"String at limit", "hello", 5, "hello"},
		{"Multibyte cut", "héllo", 2, "h"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := TrimAndLimit(tt.input, tt.limit)
			if result != tt.expected {
				t.Errorf("TrimAndLimit(%q, %d) = %q, want %q", tt.input, tt.limit, result, tt.expected)
			}
		})
	}
}

func TestRecipient(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		rt       models.RecipientType
		expected error
	}{
		{"Direct", "U2", models.RecipientUser, nil},
		{"Group", "grp-42", models.RecipientGroup, nil},
		{"Broadcast", "tenant.1", models.RecipientAll, nil},
		{"Empty id", "", models.RecipientUser, ErrInvalidID},
		{"Id with colon", "a:b", models.RecipientUser, ErrInvalidID},
		{"Unknown type", "U2", "ROOM", ErrInvalidRecipient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Recipient(tt.id, tt.rt); !errors.Is(err, tt.expected) {
				t.Errorf("Recipient(%q, %q) = %v, want %v", tt.id, tt.rt, err, tt.expected)
			}
		})
	}
}

func TestGroup(t *testing.T) {
	name, members, err := Group("  Sales  ", []string{"U3", " U2 ", "U1", "U3", ""}, "U1")
	if err != nil {
		t.Fatalf("Group error: %v", err)
	}
	if name != "Sales" || !slices.Equal(members, []string{"U2", "U3"}) {
		t.Errorf("Group = %q %v", name, members)
	}

	if _, _, err := Group("", []string{"U2"}, "U1"); !errors.Is(err, ErrGroupName) {
		t.Errorf("empty name error = %v", err)
	}
	if _, _, err := Group("Solo", []string{"U1"}, "U1"); !errors.Is(err, ErrGroupMembers) {
		t.Errorf("creator-only group error = %v", err)
	}
	if _, _, err := Group("Bad", []string{"U 2"}, "U1"); !errors.Is(err, ErrInvalidID) {
		t.Errorf("bad member error = %v", err)
	}
}
