package logger

import "strings"

// RedactEmail masks an address for log output, keeping just enough of
// the local part to correlate entries across a thread:
// "dana.reyes@acme.example" becomes "da***@acme.example". Local parts
// of two characters or fewer are masked whole, and anything that does
// not look like a single address is replaced outright.
func RedactEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "***@***"
	}
	if len(local) <= 2 {
		return "***@" + domain
	}
	return local[:2] + "***@" + domain
}
