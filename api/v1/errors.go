package v1

import "errors"

var (
	ErrContentType = errors.New("Content-Type must be application/json")
	ErrSiteURL     = errors.New("siteUrl is required")
	ErrSessionID   = errors.New("sessionId is required")
	ErrLimit       = errors.New("limit must be a non-negative integer")
)
