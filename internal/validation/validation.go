package validation

import (
	"errors"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/noteduco342/om-realtime-hub/internal/models"
)

var idRe = regexp.MustCompile(`^[a-zA-Z0-9_.@-]{1,64}$`)

var (
	ErrInvalidID        = errors.New("invalid id")
	ErrInvalidRecipient = errors.New("invalid recipient type")
	ErrGroupName        = errors.New("group name must be 1-100 characters")
	ErrGroupMembers     = errors.New("group needs at least one other member")
)

const maxGroupName = 100

var maxMessageLength atomic.Int64

// SetMaxMessageLength overrides the limit read from MAX_MESSAGE_LENGTH.
func SetMaxMessageLength(n int) {
	maxMessageLength.Store(int64(n))
}

func MaxMessageLength() int {
	if n := maxMessageLength.Load(); n > 0 {
		return int(n)
	}
	maxStr := os.Getenv("MAX_MESSAGE_LENGTH")
	if maxStr == "" {
		return 4000
	}
	max, err := strconv.Atoi(maxStr)
	if err != nil || max < 1 {
		return 4000
	}
	return max
}

// TrimAndLimit trims s and cuts it to at most max bytes without splitting
// a rune.
func TrimAndLimit(s string, max int) string {
	s = strings.TrimSpace(s)
	if max > 0 && len(s) > max {
		for max > 0 && !utf8.RuneStart(s[max]) {
			max--
		}
		return strings.TrimSpace(s[:max])
	}
	return s
}

func ValidateID(id string) bool {
	return idRe.MatchString(id)
}

// Recipient checks the addressing of an outbound intent.
func Recipient(recipientID string, rt models.RecipientType) error {
	if !rt.Valid() {
		return ErrInvalidRecipient
	}
	if !ValidateID(recipientID) {
		return ErrInvalidID
	}
	return nil
}

// NormalizeMemberIDs trims, de-duplicates and sorts member IDs, dropping
// exclude (the creator, who is always a member).
func NormalizeMemberIDs(ids []string, exclude string) ([]string, error) {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || id == exclude {
			continue
		}
		if !ValidateID(id) {
			return nil, ErrInvalidID
		}
		out = append(out, id)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// Group validates a group creation request and returns the normalized
// name and members.
func Group(name string, memberIDs []string, creatorID string) (string, []string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxGroupName {
		return "", nil, ErrGroupName
	}
	members, err := NormalizeMemberIDs(memberIDs, creatorID)
	if err != nil {
		return "", nil, err
	}
	if len(members) == 0 {
		return "", nil, ErrGroupMembers
	}
	return name, members, nil
}
