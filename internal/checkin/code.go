package checkin

import (
	"encoding/json"
	"net/url"
	"path"
	"regexp"
	"strings"
)

var codePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// ParseTicketCode extracts a ticket code from a decoded QR payload. Accepted
// forms are a bare code, a URL carrying the code in its "code" or "t" query
// parameter or as its last path segment, and a JSON object with a
// "ticketCode" or "code" field.
func ParseTicketCode(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidCode
	}

	var candidate string
	switch {
	case strings.HasPrefix(raw, "{"):
		var payload struct {
			TicketCode string `json:"ticketCode"`
			Code       string `json:"code"`
		}
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return "", ErrInvalidCode
		}
		candidate = payload.TicketCode
		if candidate == "" {
			candidate = payload.Code
		}
	case strings.Contains(raw, "://"):
		u, err := url.Parse(raw)
		if err != nil {
			return "", ErrInvalidCode
		}
		q := u.Query()
		candidate = q.Get("code")
		if candidate == "" {
			candidate = q.Get("t")
		}
		if candidate == "" && u.Path != "" && u.Path != "/" {
			candidate = path.Base(u.Path)
		}
	default:
		candidate = raw
	}

	candidate = strings.TrimSpace(candidate)
	if !codePattern.MatchString(candidate) {
		return "", ErrInvalidCode
	}
	return candidate, nil
}
