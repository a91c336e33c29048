package api

// Request binding and validation.
//
// JSON bodies and query parameters are decoded into tagged structs and then
// validated with go-playground/validator/v10. Failures are recorded on the
// response state, so handlers only need to return when binding fails.

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]; name != "" && name != "-" {
			return name
		}
		if name := strings.SplitN(fld.Tag.Get("query"), ",", 2)[0]; name != "" && name != "-" {
			return name
		}
		return fld.Name
	})
}

func formatMessage(tag, param string) string {
	switch tag {
	case "required":
		return "required"
	case "min":
		return "must be at least " + param
	case "max":
		return "must be at most " + param
	case "url":
		return "must be a valid URL"
	case "printascii":
		return "must contain printable ASCII only"
	default:
		if param != "" {
			return tag + "=" + param
		}
		return tag
	}
}

// UserID is a user identifier that clients may send either as a JSON string
// or as an integer.
type UserID string

// UnmarshalJSON accepts "123", 123 and null.
func (id *UserID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*id = ""
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = UserID(s)
		return nil
	}

	if _, err := strconv.ParseUint(string(b), 10, 64); err != nil {
		return fmt.Errorf("userId must be a string or a non-negative integer, got %s", b)
	}
	*id = UserID(b)
	return nil
}

// JSON decodes the request body into dest and validates it. It returns false
// after recording the error when the body is not a JSON object, is too large
// or fails validation. An empty body binds as an empty object.
func JSON(r *http.Request, dest any) bool {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			SetError(r, ErrPayloadTooLarge.With("Request body too large"))
		} else {
			SetError(r, ErrInvalidBody)
		}
		return false
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 {
		if raw[0] != '{' {
			SetError(r, ErrInvalidBody)
			return false
		}
		if err := json.Unmarshal(raw, dest); err != nil {
			SetError(r, ErrInvalidBody)
			return false
		}
	}

	return validateStruct(r, dest)
}

// Query decodes query parameters into dest using `query` struct tags and
// validates it.
func Query(r *http.Request, dest any) bool {
	if err := decodeQuery(r, dest); err != nil {
		SetError(r, ErrBadRequest.With("Invalid query parameters"))
		return false
	}
	return validateStruct(r, dest)
}

func validateStruct(r *http.Request, dest any) bool {
	if err := validate.Struct(dest); err != nil {
		SetError(r, NewValidationError(translateErrors(err)))
		return false
	}
	return true
}

func translateErrors(err error) []FieldError {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return []FieldError{{
			Code:    "validation",
			Message: err.Error(),
		}}
	}
	result := make([]FieldError, len(errs))
	for i, e := range errs {
		result[i] = FieldError{
			Param:   e.Field(),
			Code:    e.Tag(),
			Message: formatMessage(e.Tag(), e.Param()),
		}
	}
	return result
}

func decodeQuery(r *http.Request, dest any) error {
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("dest must be non-nil pointer to struct")
	}
	v := rv.Elem()
	if v.Kind() != reflect.Struct {
		return fmt.Errorf("dest must be pointer to struct, got pointer to %s", v.Kind())
	}
	t := v.Type()

	query := r.URL.Query()

	for i := range t.NumField() {
		tag := t.Field(i).Tag.Get("query")
		if tag == "" || tag == "-" {
			continue
		}

		fieldVal := v.Field(i)
		if !fieldVal.CanSet() {
			continue
		}

		name := strings.SplitN(tag, ",", 2)[0]
		value := query.Get(name)
		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s: %w", name, err)
		}
	}

	return nil
}

func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	default:
		return fmt.Errorf("unsupported type: %s", field.Kind())
	}
	return nil
}

// MaxBodySize rejects requests whose Content-Length exceeds maxBytes and caps
// the body reader for the rest, covering chunked uploads.
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				SetError(r, ErrPayloadTooLarge.With("Request body too large"))
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
