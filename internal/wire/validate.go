package wire

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	ErrUnknownType  = errors.New("unknown frame type")
	ErrInvalidFrame = errors.New("invalid frame")
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(frameRules, Frame{})
	return v
}

// ValidateInbound checks that f is a well-formed frame the server may send.
func ValidateInbound(f *Frame) error {
	if !AcceptsInbound(f.Type) {
		return fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
	}
	if err := validate.Struct(f); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	return nil
}

// frameRules enforces the per-type required fields.
func frameRules(sl validator.StructLevel) {
	f := sl.Current().Interface().(Frame)

	require := func(ok bool, value interface{}, field, tag string) {
		if !ok {
			sl.ReportError(value, field, field, tag, "")
		}
	}

	switch f.Type {
	case TypeChatMessage:
		require(f.ID != "", f.ID, "ID", "required")
		require(f.SenderID != "", f.SenderID, "SenderID", "required")
		require(f.RecipientID != "", f.RecipientID, "RecipientID", "required")
		require(f.RecipientType.Valid(), f.RecipientType, "RecipientType", "oneof")
	case TypeTyping:
		require(f.SenderID != "", f.SenderID, "SenderID", "required")
		require(f.RecipientID != "", f.RecipientID, "RecipientID", "required")
		require(f.RecipientType.Valid(), f.RecipientType, "RecipientType", "oneof")
		require(f.Typing != nil, f.Typing, "Typing", "required")
	case TypeNotification:
		require(f.ID != "", f.ID, "ID", "required")
		require(f.Title != "" || f.Content != "", f.Content, "Content", "required")
	case TypePresence:
		require(f.SenderID != "", f.SenderID, "SenderID", "required")
		require(f.Online != nil, f.Online, "Online", "required")
	}
}
