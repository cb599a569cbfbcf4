package response

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/baechuer/chatdesk-auth/internal/domain"
)

// maxBodyBytes caps request bodies; every auth payload is a handful of fields.
const maxBodyBytes = 64 << 10

// DecodeJSON decodes a JSON request body into dst.
// It rejects multiple JSON values. Unknown fields are ignored so older
// clients sending extra keys keep working.
func DecodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return domain.ErrInvalidJSON(errors.New("empty body"))
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))

	if err := dec.Decode(dst); err != nil {
		return domain.ErrInvalidJSON(err)
	}

	// Disallow trailing data: {}{}
	if err := dec.Decode(&struct{}{}); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return domain.ErrInvalidJSON(err)
	}

	return domain.ErrInvalidJSON(errors.New("multiple JSON values"))
}
