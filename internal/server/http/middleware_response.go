package http

import "net/http"

type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

// Unwrap exposes the underlying ResponseWriter so downstream handlers
// can recover original capabilities like http.Flusher.
func (r *responseRecorder) Unwrap() http.ResponseWriter {
	if r == nil {
		return nil
	}
	return r.ResponseWriter
}

type responseRecorderFlusher struct {
	http.ResponseWriter
	http.Flusher
}

func (r *responseRecorderFlusher) Unwrap() http.ResponseWriter {
	if r == nil {
		return nil
	}
	return r.ResponseWriter
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(p)
	r.bytes += int64(n)
	return n, err
}

// wrapResponseWriter returns the recorder plus a writer that preserves the
// Flusher capability when the underlying writer has it.
func wrapResponseWriter(w http.ResponseWriter) (*responseRecorder, http.ResponseWriter) {
	rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
	if flusher, ok := w.(http.Flusher); ok {
		return rec, &responseRecorderFlusher{ResponseWriter: rec, Flusher: flusher}
	}
	return rec, rec
}
