package tracker

import "errors"

var (
	// ErrSessionInvalid means the tracker bounced the request to its login
	// page. The stored cookie must be replaced by a fresh login; retrying
	// with the same cookie only draws attention.
	ErrSessionInvalid = errors.New("tracker session invalid")
	// ErrNotTorrent is returned when download.php answers with an HTML page
	// instead of a torrent payload.
	ErrNotTorrent = errors.New("tracker returned a page instead of a torrent")
	ErrNoTable    = errors.New("listing table not found")

	ErrLoginExpired = errors.New("login session expired")
	ErrLoginFailed  = errors.New("login failed")
)
