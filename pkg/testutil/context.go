package testutil

import (
	"net/http"

	id "beatframe/pkg/domain"
	"beatframe/pkg/requestcontext"
)

// WithUserID stands in for RequireAuth. Subjects that fail ParseUserID are
// left off so handlers see an anonymous request.
func WithUserID(req *http.Request, userID string) *http.Request {
	parsed, err := id.ParseUserID(userID)
	if err != nil {
		return req
	}
	return req.WithContext(requestcontext.WithUserID(req.Context(), parsed))
}
