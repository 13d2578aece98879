package util

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// MaxBodySize bounds every JSON body we decode.
const MaxBodySize = 1 << 20

type apiError struct {
	Msg string `json:"error"`
}

// WriteError writes {"error": err} with the given status.
func WriteError(res http.ResponseWriter, status int, err string) error {
	encodingErr := WriteJsonStatus(res, status, apiError{Msg: err})
	if encodingErr != nil {
		return fmt.Errorf("could not write error to body: %w", encodingErr)
	}

	return nil
}

// WriteJson writes the specified body as JSON with a 200 status.
// The body is NOT CLOSED after writing to it.
//
// Returns an error if the write fails.
func WriteJson(res http.ResponseWriter, body any) error {
	return WriteJsonStatus(res, http.StatusOK, body)
}

func WriteJsonStatus(res http.ResponseWriter, status int, body any) error {
	res.Header().Set("Content-Type", "application/json")
	res.WriteHeader(status)

	err := json.NewEncoder(res).Encode(body)
	if err != nil {
		return fmt.Errorf("could not encode json: %w", err)
	}

	return nil
}

// DecodeJson decodes a request body of at most MaxBodySize bytes into dst,
// rejecting unknown fields.
func DecodeJson(res http.ResponseWriter, req *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(res, req.Body, MaxBodySize))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty request body")
		}
		return fmt.Errorf("could not decode json: %w", err)
	}

	return nil
}
