package protocol

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxContentBytes = 4096 // 4KB max frame payload
	MaxContentChars = 2000 // max character count
)

// ErrEmptyContent is returned for content that is blank after trimming.
var ErrEmptyContent = errors.New("message content is empty")

// ValidateContent checks that outbound content meets the send requirements.
func ValidateContent(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyContent
	}
	if len(text) > MaxContentBytes {
		return fmt.Errorf("message exceeds %d byte limit", MaxContentBytes)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("message contains invalid UTF-8")
	}
	if utf8.RuneCountInString(text) > MaxContentChars {
		return fmt.Errorf("message exceeds %d character limit", MaxContentChars)
	}
	return nil
}
