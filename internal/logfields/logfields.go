package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyJobID      = "job_id"
	KeyJobStatus  = "job_status"
	KeyProjectID  = "project_id"
	KeyUserID     = "user_id"
	KeyThemeID    = "theme_id"
	KeyStage      = "stage"
	KeyWorker     = "worker"
	KeyAttempt    = "attempt"
	KeyDurationMS = "duration_ms"
	KeyPath       = "path"
	KeyURL        = "url"
	KeyMethod     = "method"
	KeyStatus     = "status_code"
	KeyRequestID  = "request_id"
	KeyProgress   = "progress"
	KeyName       = "name"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func JobID(id string) slog.Attr       { return slog.String(KeyJobID, id) }
func JobStatus(s string) slog.Attr    { return slog.String(KeyJobStatus, s) }
func ProjectID(id string) slog.Attr   { return slog.String(KeyProjectID, id) }
func UserID(id string) slog.Attr      { return slog.String(KeyUserID, id) }
func ThemeID(id string) slog.Attr     { return slog.String(KeyThemeID, id) }
func Stage(name string) slog.Attr     { return slog.String(KeyStage, name) }
func Worker(id int) slog.Attr         { return slog.Int(KeyWorker, id) }
func Attempt(n int) slog.Attr         { return slog.Int(KeyAttempt, n) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func URL(u string) slog.Attr          { return slog.String(KeyURL, u) }
func Method(m string) slog.Attr       { return slog.String(KeyMethod, m) }
func StatusCode(c int) slog.Attr      { return slog.Int(KeyStatus, c) }
func RequestID(id string) slog.Attr   { return slog.String(KeyRequestID, id) }
func Progress(p int) slog.Attr        { return slog.Int(KeyProgress, p) }
func Name(n string) slog.Attr         { return slog.String(KeyName, n) }

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
