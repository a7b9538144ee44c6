package dataapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/rafaeljc/bifrost/internal/evaluator"
	"github.com/rafaeljc/bifrost/internal/logger"
	"github.com/rafaeljc/bifrost/internal/ruleengine"
)

// handleTreatment serves GET /api/v1/treatment?key=&bucketingKey=&flag=.
func (a *API) handleTreatment(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := strings.TrimSpace(q.Get("key"))
	bucketingKey := strings.TrimSpace(q.Get("bucketingKey"))
	flag := strings.TrimSpace(q.Get("flag"))

	var details []ErrorDetail
	if key == "" || len(key) > maxKeyLength {
		details = append(details, ErrorDetail{Field: "key", Issue: fmt.Sprintf("required, at most %d characters", maxKeyLength)})
	}
	if len(bucketingKey) > maxKeyLength {
		details = append(details, ErrorDetail{Field: "bucketingKey", Issue: fmt.Sprintf("at most %d characters", maxKeyLength)})
	}
	if flag == "" {
		details = append(details, ErrorDetail{Field: "flag", Issue: "required"})
	}
	if len(details) > 0 {
		a.badRequest(w, r, details)
		return
	}

	results := a.evaluator.Evaluations(r.Context(),
		ruleengine.Key{MatchingKey: key, BucketingKey: bucketingKey}, []string{flag}, nil)
	if len(results) == 0 {
		a.unavailable(w, r)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, toResponse(results[0]))
}

// handleTreatments serves POST /api/v1/treatments.
func (a *API) handleTreatments(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, a.opts.MaxBodyBytes)

	var req TreatmentsRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	req.Sanitize()
	if err := a.validate.Struct(&req); err != nil {
		a.badRequest(w, r, validationDetails(err))
		return
	}

	ctx := logger.With(r.Context(),
		slog.Int("flags", len(req.Flags)),
		slog.Int("flag_sets", len(req.FlagSets)),
	)
	log = logger.FromContext(ctx)

	key := ruleengine.Key{MatchingKey: req.Key, BucketingKey: req.BucketingKey}
	attrs := ruleengine.Attributes(req.Attributes)

	var results []evaluator.Result
	if len(req.Flags) > 0 {
		results = a.evaluator.Evaluations(ctx, key, req.Flags, attrs)
	}
	if len(req.FlagSets) > 0 {
		results = mergeResults(results, a.evaluator.EvaluationsBySets(ctx, key, req.FlagSets, attrs))
	}

	resp := TreatmentsResponse{Treatments: make([]TreatmentResponse, 0, len(results))}
	for _, res := range results {
		resp.Treatments = append(resp.Treatments, toResponse(res))
	}

	log.Debug("treatments evaluated", slog.Int("results", len(resp.Treatments)))
	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}

func (a *API) badRequest(w http.ResponseWriter, r *http.Request, details []ErrorDetail) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, ErrorResponse{
		Code:    "ERR_INVALID_INPUT",
		Message: "Request validation failed",
		Details: details,
	})
}

func (a *API) unavailable(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusServiceUnavailable)
	render.JSON(w, r, ErrorResponse{
		Code:    "ERR_UNAVAILABLE",
		Message: "Evaluations are not available",
	})
}

// mergeResults appends the results of extra whose flag is not already in base.
func mergeResults(base, extra []evaluator.Result) []evaluator.Result {
	seen := make(map[string]struct{}, len(base))
	for _, res := range base {
		seen[res.FlagName] = struct{}{}
	}
	for _, res := range extra {
		if _, ok := seen[res.FlagName]; ok {
			continue
		}
		seen[res.FlagName] = struct{}{}
		base = append(base, res)
	}
	return base
}

func validationDetails(err error) []ErrorDetail {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []ErrorDetail{{Field: "body", Issue: err.Error()}}
	}
	details := make([]ErrorDetail, 0, len(verrs))
	for _, fe := range verrs {
		issue := fe.Tag()
		if fe.Param() != "" {
			issue += "=" + fe.Param()
		}
		details = append(details, ErrorDetail{Field: jsonName(fe.Namespace()), Issue: issue})
	}
	return details
}

// jsonName turns "TreatmentsRequest.Flags[0]" into "flags[0]".
func jsonName(namespace string) string {
	_, field, ok := strings.Cut(namespace, ".")
	if !ok {
		field = namespace
	}
	if field == "" {
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}
