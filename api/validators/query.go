package validators

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
)

func invalidParam(field, msg string, extra map[string]any) error {
	details := map[string]any{"field": field}
	for k, v := range extra {
		details[k] = v
	}
	return pkgerrors.New(pkgerrors.CodeValidation, msg).WithDetails(details)
}

// queryValue returns the single value of key. Repeating a key is rejected
// rather than silently taking the first one.
func queryValue(r *http.Request, key string) (string, error) {
	values := r.URL.Query()[key]
	switch len(values) {
	case 0:
		return "", nil
	case 1:
		return strings.TrimSpace(values[0]), nil
	default:
		return "", invalidParam(key, "query parameter given more than once", nil)
	}
}

// ParseQueryInt reads ?key as an int in [min, max], or defaultVal when absent.
func ParseQueryInt(r *http.Request, key string, defaultVal, min, max int) (int, error) {
	raw, err := queryValue(r, key)
	if err != nil || raw == "" {
		return defaultVal, err
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalidParam(key, "query parameter must be numeric", nil)
	}
	if value < min || value > max {
		return 0, invalidParam(key, "query parameter out of range", map[string]any{"min": min, "max": max})
	}
	return value, nil
}

// ParseQueryString reads ?key, capped at maxLen bytes.
func ParseQueryString(r *http.Request, key string, maxLen int) (string, error) {
	raw, err := queryValue(r, key)
	if err != nil {
		return "", err
	}
	if len(raw) > maxLen {
		return "", invalidParam(key, "query parameter too long", map[string]any{"max": maxLen})
	}
	return raw, nil
}

// ParsePathUUID reads a chi route parameter as a UUID.
func ParsePathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, name)))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, invalidParam(name, "invalid "+name, nil)
	}
	return id, nil
}
