package httpapi

import (
	"errors"
	"io"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"cronsmith/internal/jobs"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxBody = 1 << 20

type errorBody struct {
	Error string         `json:"error"`
	Kind  jobs.ErrorKind `json:"kind,omitempty"`
	Field string         `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the typed error taxonomy to a status code.
func writeError(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error(), Kind: jobs.KindOf(err)}
	code := http.StatusInternalServerError
	var ve *jobs.ValidationError
	switch {
	case errors.As(err, &ve):
		code = http.StatusBadRequest
		body.Field = ve.Field
		body.Kind = ""
	case errors.Is(err, errBadRequest):
		code = http.StatusBadRequest
		body.Kind = ""
	case errors.Is(err, jobs.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, jobs.ErrJobRunning), errors.Is(err, jobs.ErrAlreadyRunning), errors.Is(err, jobs.ErrDisabled):
		code = http.StatusConflict
	}
	writeJSON(w, code, body)
}

var errBadRequest = errors.New("bad request")

type badRequest struct{ err error }

func (b badRequest) Error() string        { return "bad request: " + b.err.Error() }
func (b badRequest) Unwrap() error        { return b.err }
func (b badRequest) Is(target error) bool { return target == errBadRequest }

// decodeBody reads a single JSON value with unknown fields rejected.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return badRequest{err}
	}
	if dec.More() {
		return badRequest{errors.New("trailing data after JSON body")}
	}
	return nil
}
