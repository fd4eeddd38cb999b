package audit

import (
	"log/slog"
	"net/http"

	"github.com/onnwee/cafeindex/internal/middleware"
)

// Record appends an entry for a change made by the request's operator. The
// change has already been applied, so a failure to record is logged rather
// than returned. A nil repo records nothing.
func Record(r *http.Request, repo Repository, action string, cafeID int64) {
	if repo == nil {
		return
	}
	ctx := r.Context()
	_, err := repo.Append(Entry{
		Operator:  middleware.GetOperator(ctx),
		Action:    action,
		CafeID:    cafeID,
		RequestID: middleware.GetRequestID(ctx),
		IPAddress: AnonymizeIP(middleware.ClientIP(r)),
	})
	if err != nil {
		slog.WarnContext(ctx, "failed to record audit entry",
			"action", action,
			"cafe_id", cafeID,
			"error", err)
	}
}
