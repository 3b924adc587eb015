package availability

import (
	"html"
	"net/http"
	"strconv"

	"github.com/alfredjeanlab/sitegate/internal/model"
)

// RetryAfter is advertised on maintenance responses, in seconds.
const RetryAfter = 300

// NoticeRenderer writes the body of the maintenance notice. The status
// line has already been written.
type NoticeRenderer func(w http.ResponseWriter, r *http.Request, a model.Availability)

// Middleware serves the maintenance notice instead of next while the site
// is unavailable. Wrap public routes only; admin routes must stay
// reachable during maintenance.
func Middleware(reader Reader, notice NoticeRenderer, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a := reader.Read()
		if !a.Unavailable {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Retry-After", strconv.Itoa(RetryAfter))
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusServiceUnavailable)
		if notice != nil {
			notice(w, r, a)
			return
		}
		_, _ = w.Write([]byte(html.EscapeString(a.NoticeText())))
	})
}
