// ABOUTME: Error values returned by the help desk service
// ABOUTME: Store sentinels pass through wrapped; these cover input and permission checks

package helpdesk

import "errors"

var (
	// ErrInvalidInput is returned when a required field is missing or blank.
	ErrInvalidInput = errors.New("invalid input")

	// ErrForbidden is returned when the caller may see a record but not act on it.
	ErrForbidden = errors.New("forbidden")

	// ErrNotExpert is returned when an expert-only operation is called by a user without a profile.
	ErrNotExpert = errors.New("expert profile required")
)
