package models

import "errors"

// Validation errors returned by model Validate methods.
var (
	// ErrURLRequired indicates a required URL field is empty.
	ErrURLRequired = errors.New("url is required")
	// ErrInvalidURL indicates a URL field could not be parsed.
	ErrInvalidURL = errors.New("invalid url")
	// ErrInvalidShiftMode indicates a mapping shift mode is not wall or offset.
	ErrInvalidShiftMode = errors.New("shift mode must be \"wall\" or \"offset\"")
	// ErrInvalidZone indicates a mapping zone id is not a loadable IANA zone.
	ErrInvalidZone = errors.New("invalid IANA zone id")
	// ErrChannelIDRequired indicates a mapping is missing its playlist channel id.
	ErrChannelIDRequired = errors.New("channel id is required")
	// ErrSourceNotFound indicates a referenced source id does not exist.
	ErrSourceNotFound = errors.New("source not found")
)
