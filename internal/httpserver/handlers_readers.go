package httpserver

import (
	"net/http"
	"strconv"

	apierrors "github.com/CedrosPay/terminal/internal/errors"
	"github.com/CedrosPay/terminal/pkg/responders"
)

func (h *handlers) listReaders(w http.ResponseWriter, r *http.Request) {
	readers, err := h.reconciler.ListReaders(r.Context())
	if err != nil {
		apierrors.WriteErr(w, err)
		return
	}
	responders.OK(w, map[string]any{"readers": readers})
}

func (h *handlers) getReaderStatus(w http.ResponseWriter, r *http.Request) {
	var req readerRequest
	if err := decodeRequest(r, &req); err != nil {
		apierrors.WriteErr(w, err)
		return
	}
	reader, err := h.reconciler.GetReader(r.Context(), req.ReaderID)
	if err != nil {
		apierrors.WriteErr(w, err)
		return
	}
	responders.OK(w, reader)
}

func (h *handlers) validateService(w http.ResponseWriter, r *http.Request) {
	status, err := h.reconciler.ValidateService(r.Context())
	if err != nil {
		apierrors.WriteErr(w, err)
		return
	}
	responders.OK(w, status)
}

func (h *handlers) connectionToken(w http.ResponseWriter, r *http.Request) {
	var req connectionTokenRequest
	if err := decodeRequest(r, &req); err != nil {
		apierrors.WriteErr(w, err)
		return
	}
	secret, err := h.reconciler.CreateConnectionToken(r.Context(), req.Location)
	if err != nil {
		apierrors.WriteErr(w, err)
		return
	}
	responders.OK(w, map[string]string{"secret": secret})
}

// simulatePayment presents a test card on a simulated reader. Test mode only.
func (h *handlers) simulatePayment(w http.ResponseWriter, r *http.Request) {
	var req readerRequest
	if err := decodeRequest(r, &req); err != nil {
		apierrors.WriteErr(w, err)
		return
	}
	reader, err := h.reconciler.SimulatePayment(r.Context(), req.ReaderID)
	if err != nil {
		apierrors.WriteErr(w, err)
		return
	}
	responders.OK(w, reader)
}

const (
	defaultFailedCallbackLimit = 50
	maxFailedCallbackLimit     = 500
)

// listFailedCallbacks exposes merchant notifications that exhausted their retries.
func (h *handlers) listFailedCallbacks(w http.ResponseWriter, r *http.Request) {
	if h.deadLetters == nil {
		responders.OK(w, map[string]any{"deliveries": []any{}})
		return
	}

	limit := defaultFailedCallbackLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidField, "limit must be a positive integer", "field", "limit")
			return
		}
		limit = min(n, maxFailedCallbackLimit)
	}

	deliveries, err := h.deadLetters.ListFailedDeliveries(r.Context(), limit)
	if err != nil {
		apierrors.WriteErr(w, apierrors.Wrap(apierrors.ErrCodeDatabaseError, "Unable to list failed callbacks", err))
		return
	}
	responders.OK(w, map[string]any{"deliveries": deliveries})
}
