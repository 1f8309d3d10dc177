package httpapi

import (
	"net/http"
	"strings"
)

// Locker is an HTTP middleware that answers 423 (locked) to requests that
// would modify the sweep while one is running
type Locker struct {
	// Locked reports if the resource is in use
	Locked func() bool

	// DoNotProtect is a list of paths not to apply the lock to
	DoNotProtect []string
}

// Check returns http.StatusLocked for protected requests if Locked() is
// true, otherwise passes down the line.  Reads are never protected.
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead && l.Locked() {
			protected := true
			for _, str := range l.DoNotProtect {
				if strings.Contains(r.URL.Path, str) {
					protected = false
				}
			}
			if protected {
				http.Error(w, "a sweep is running", http.StatusLocked)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
