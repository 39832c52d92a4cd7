package httpserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	apierrors "github.com/CedrosPay/terminal/internal/errors"
)

const maxRequestBody = 64 << 10

// idString accepts an identifier sent as a JSON string or number.
type idString string

func (s *idString) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = idString(strings.TrimSpace(str))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number")
	}
	*s = idString(n.String())
	return nil
}

func (s idString) String() string { return string(s) }

// validator is implemented by every request type.
type validator interface {
	validate() error
}

// decodeRequest decodes a JSON or form-encoded body into dest, rejecting unknown fields,
// then validates it. GET requests are read from the query string.
func decodeRequest(r *http.Request, dest validator) error {
	var (
		payload []byte
		err     error
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case r.Method == http.MethodGet:
		payload, err = valuesToJSON(r.URL.Query())
	case mediaType == "application/x-www-form-urlencoded":
		r.Body = io.NopCloser(io.LimitReader(r.Body, maxRequestBody))
		if err = r.ParseForm(); err == nil {
			payload, err = valuesToJSON(r.PostForm)
		}
	default:
		payload, err = io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		_ = r.Body.Close()
	}
	if err != nil {
		return apierrors.Wrap(apierrors.ErrCodeInvalidField, "Unable to read request", err)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		payload = []byte("{}")
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return apierrors.Wrap(apierrors.ErrCodeInvalidField, describeDecodeError(err), err)
	}
	return dest.validate()
}

// valuesToJSON maps form values onto a JSON object of strings. Numeric-looking
// amounts stay strings; decimal.Decimal accepts both.
func valuesToJSON(values map[string][]string) ([]byte, error) {
	obj := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			obj[k] = v[0]
		}
	}
	return json.Marshal(obj)
}

func describeDecodeError(err error) string {
	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	switch {
	case errors.As(err, &typeErr):
		return "Invalid value for field " + strconv.Quote(typeErr.Field)
	case errors.As(err, &syntaxErr):
		return "Malformed JSON body"
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		return "Unknown field " + strings.TrimPrefix(err.Error(), "json: unknown field ")
	default:
		return "Invalid request body"
	}
}

// required returns missing_field naming the first empty field.
func required(fields ...field) error {
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return apierrors.Newf(apierrors.ErrCodeMissingField, "%s is required", f.name).WithDetail("field", f.name)
		}
	}
	return nil
}

type field struct {
	name  string
	value string
}
