// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for parsing and validating HTTP request data.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"carelink/internal/core"
)

const (
	maxJSONBodyBytes = 1 << 20
	sessionCookie    = "carelink_session"
)

// MonthParams holds parsed year/month values from request parameters.
type MonthParams struct {
	Year  int
	Month time.Month
}

// ParseMonthParams extracts year and month from query parameters, defaulting to
// the month of now. Present but invalid values are an error.
func ParseMonthParams(query url.Values, now time.Time) (MonthParams, error) {
	params := MonthParams{Year: now.Year(), Month: now.Month()}

	if v := strings.TrimSpace(query.Get("year")); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil || y < 1 || y > 9999 {
			return MonthParams{}, badRequest{msg: fmt.Sprintf("invalid year %q", v)}
		}
		params.Year = y
	}
	if v := strings.TrimSpace(query.Get("month")); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil || m < 1 || m > 12 {
			return MonthParams{}, badRequest{msg: fmt.Sprintf("invalid month %q", v)}
		}
		params.Month = time.Month(m)
	}
	return params, nil
}

// ParseDateParam reads a required YYYY-MM-DD query parameter.
func ParseDateParam(query url.Values, name string) (core.DateKey, error) {
	v := strings.TrimSpace(query.Get(name))
	if v == "" {
		return "", badRequest{msg: fmt.Sprintf("missing %s parameter", name)}
	}
	key, err := core.ParseDateKey(v)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrInvalidDateFormat, err)
	}
	return key, nil
}

// ParseLimit reads an optional positive limit, capped at max.
func ParseLimit(query url.Values, max int) (int, error) {
	v := strings.TrimSpace(query.Get("limit"))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, badRequest{msg: fmt.Sprintf("invalid limit %q", v)}
	}
	if n > max {
		n = max
	}
	return n, nil
}

// decodeJSON reads a single JSON object into dst, rejecting unknown fields and
// oversized bodies.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return badRequest{msg: "request body is empty"}
		case errors.As(err, &maxErr):
			return badRequest{msg: "request body too large"}
		default:
			return badRequest{msg: "invalid JSON: " + err.Error()}
		}
	}
	if dec.More() {
		return badRequest{msg: "request body must contain a single JSON object"}
	}
	return nil
}

// sessionToken reads the bearer token, falling back to the session cookie
// used by the journal page and the event stream.
func sessionToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		return c.Value
	}
	return ""
}
