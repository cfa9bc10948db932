package v1

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

const maxBody = 1 << 20

// decodeJSONStrict validates optional Content-Type, enforces a max body size,
// and decodes JSON into dst while disallowing unknown fields. It returns
// ErrContentType when the Content-Type header is present but not acceptable.
func decodeJSONStrict(w http.ResponseWriter, r *http.Request, dst any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return ErrContentType
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// fail records err for the access log and writes it as a JSON error.
func fail(w http.ResponseWriter, status int, err error) {
	markErr(w, err)
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func badJSON(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrContentType) {
		fail(w, http.StatusUnsupportedMediaType, err)
		return
	}
	fail(w, http.StatusBadRequest, err)
}
