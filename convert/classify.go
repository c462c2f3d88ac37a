package convert

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/text/unicode/norm"
)

// authTokens are matched case-insensitively against engine failure messages.
// Short abbreviations are deliberately absent: "mdp" matches "cmdparse".
var authTokens = []string{
	// en
	"password", "passwd", "protected", "encrypted", "encryption", "decrypt",
	// fr
	"mot de passe", "protégé", "chiffré",
	// de
	"kennwort", "passwort", "verschlüsselt", "geschützt",
	// es / pt / it
	"contraseña", "protegido", "cifrado", "senha", "protetto",
}

// IsAuthFailure reports whether err denotes an authentication or encryption
// obstacle. Timeouts and post-condition failures are never auth failures,
// whatever their message says. Occurrences of paths are removed from the
// message before matching, so a file named "password.docx" does not turn
// every failure into a password skip.
func IsAuthFailure(err error, paths ...string) bool {
	if err == nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrFalseSuccess) {
		return false
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return true
	}
	msg := err.Error()
	for _, p := range paths {
		if p == "" {
			continue
		}
		if abs, err := filepath.Abs(p); err == nil {
			msg = strings.ReplaceAll(msg, abs, "")
		}
		msg = strings.ReplaceAll(msg, p, "")
		msg = strings.ReplaceAll(msg, filepath.Base(p), "")
	}
	return HasAuthToken(msg)
}

// HasAuthToken reports whether msg contains one of the auth tokens.
func HasAuthToken(msg string) bool {
	msg = strings.ToLower(norm.NFC.String(msg))
	for _, tok := range authTokens {
		if strings.Contains(msg, tok) {
			return true
		}
	}
	return false
}

// IsFatal reports whether err is an environment failure that should stop the
// whole run: the destination is read-only or out of space.
func IsFatal(err error) bool {
	return errors.Is(err, syscall.EROFS) || errors.Is(err, syscall.ENOSPC)
}

// Classify maps an engine error to a typed attempt result. paths are the
// input and output of the call, ignored during token matching.
func Classify(err error, paths ...string) AttemptResult {
	switch {
	case err == nil:
		return Succeeded{}
	case IsAuthFailure(err, paths...):
		return AuthObstacle{Err: err}
	case IsFatal(err):
		return EngineFailure{Err: err, Retryable: false}
	default:
		return EngineFailure{Err: err, Retryable: true}
	}
}
