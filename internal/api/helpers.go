package api

import (
	"encoding/json/v2"
	"net/http"
	"strconv"

	domainerrors "github.com/inkwellapp/inkwell-server/internal/errors"
	"github.com/inkwellapp/inkwell-server/internal/service"
)

// maxBodyBytes caps JSON request bodies. Covers have their own larger cap.
const maxBodyBytes = 1 << 20 // 1 MiB

// decodeJSON reads and decodes a JSON request body into dst.
func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if err := json.UnmarshalRead(r.Body, dst); err != nil {
		return domainerrors.Validation("invalid JSON body").WithCause(err)
	}
	return nil
}

// parseListParams parses page, limit, and theme query parameters. Garbage
// and out-of-range values fall through as zero; the service clamps them.
func parseListParams(r *http.Request) service.ListParams {
	var params service.ListParams

	q := r.URL.Query()
	if pageStr := q.Get("page"); pageStr != "" {
		if page, err := strconv.Atoi(pageStr); err == nil {
			params.Page = page
		}
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			params.Limit = limit
		}
	}
	params.Theme = q.Get("theme")

	return params
}
