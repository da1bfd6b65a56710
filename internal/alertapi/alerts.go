package alertapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/linnemanlabs/sieve/internal/alert"
	"github.com/linnemanlabs/sieve/internal/authmw"
	"github.com/linnemanlabs/sieve/internal/triage"
)

type errorBody struct {
	Error   string             `json:"error"`
	Kind    string             `json:"kind,omitempty"`
	AlertID string             `json:"alert_id,omitempty"`
	Fields  []alert.FieldError `json:"fields,omitempty"`
}

type ingestResponse struct {
	Result   *triage.Result `json:"result"`
	Warnings []string       `json:"warnings,omitempty"`
}

func (a *API) handleIngestAlert(w http.ResponseWriter, r *http.Request) {
	var rec alert.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid payload"})
		return
	}

	al := rec.Alert()
	if al.Timestamp.IsZero() {
		al.Timestamp = a.now().UTC()
	}
	if a.onIngest != nil {
		a.onIngest()
	}

	kv := []any{"alert_id", al.ID, "source", al.Source}
	if slot, ok := authmw.TokenSlot(r.Context()); ok {
		kv = append(kv, "token_slot", slot)
	}
	a.logger.Info(r.Context(), "alert received", kv...)

	result, err := a.svc.Handle(r.Context(), al)
	if err == nil {
		writeJSON(w, http.StatusOK, ingestResponse{Result: result})
		return
	}

	status, body := classifyError(err)
	body.AlertID = al.ID

	// notification failures still leave a persisted, valid decision
	if status == http.StatusOK {
		writeJSON(w, http.StatusOK, ingestResponse{Result: result, Warnings: []string{err.Error()}})
		return
	}
	if status >= http.StatusInternalServerError {
		a.logger.Warn(r.Context(), "alert ingest failed", "alert_id", al.ID, "status", status, "error", err.Error())
	}
	writeJSON(w, status, body)
}

// classifyError maps a triage error to an HTTP status. Persistence wins over
// notification when both failed.
func classifyError(err error) (int, errorBody) {
	body := errorBody{Error: err.Error()}
	switch {
	case errors.Is(err, triage.ErrValidation):
		body.Kind = "validation"
		var verr *alert.ValidationError
		if errors.As(err, &verr) {
			body.Fields = verr.Fields
		}
		return http.StatusBadRequest, body
	case errors.Is(err, triage.ErrInference):
		body.Kind = "inference"
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout, body
		}
		return http.StatusBadGateway, body
	case errors.Is(err, triage.ErrPersistence):
		body.Kind = "persistence"
		return http.StatusServiceUnavailable, body
	case errors.Is(err, triage.ErrNotification):
		body.Kind = "notification"
		return http.StatusOK, body
	default:
		return http.StatusInternalServerError, errorBody{Error: "internal error"}
	}
}
