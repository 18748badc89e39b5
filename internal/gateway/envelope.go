// ABOUTME: JSON envelope and request binding helpers for HTTP handlers
// ABOUTME: Every JSON reply is {status, message, data}; request bodies are validated with go-playground/validator

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/2389/chat-gateway/internal/admission"
)

// Envelope statuses.
const (
	StatusSuccess = "Success"
	StatusFail    = "Fail"
)

// envelope is the JSON body of every non-streaming reply.
type envelope struct {
	Status  string `json:"status"`
	Message any    `json:"message"`
	Data    any    `json:"data"`
}

var validate = newValidator()

// newValidator reports field errors by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeSuccess writes a Success envelope. An empty message is sent as null.
func writeSuccess(w http.ResponseWriter, message string, data any) {
	env := envelope{Status: StatusSuccess, Data: data}
	if message != "" {
		env.Message = message
	}
	writeJSON(w, http.StatusOK, env)
}

// writeFail writes a Fail envelope on HTTP 200 and marks the request failed
// so admission buckets do not count it.
func writeFail(w http.ResponseWriter, r *http.Request, message string) {
	admission.MarkFailed(r.Context())
	writeJSON(w, http.StatusOK, envelope{Status: StatusFail, Message: message})
}

// bind decodes the JSON body into dst and validates it.
func bind(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dst); err != nil {
		return errors.New("invalid JSON body")
	}
	if decoder.More() {
		return errors.New("request body must contain a single JSON object")
	}
	if err := validate.Struct(dst); err != nil {
		return validationMessage(err)
	}
	return nil
}

// validationMessage turns validator errors into one readable message.
func validationMessage(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return errors.New(strings.Join(parts, "; "))
}
