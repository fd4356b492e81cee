package httpapi

import (
	"net/http"

	"github.com/BearBump/ParcelDesk/internal/services/settlement"
	"github.com/go-chi/chi/v5"
)

func (h *Handler) createShipment(w http.ResponseWriter, r *http.Request) {
	caller := CallerFrom(r.Context())
	if !h.allowCreate(r.Context(), caller.ID) {
		writeFail(w, http.StatusTooManyRequests, "too many shipments created, try again in a minute")
		return
	}

	var req createShipmentRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.wf.CreateShipment(r.Context(), caller, req.toInput(r.Header.Get("Idempotency-Key")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeOK(w, status, "shipment created", createShipmentResponse{
		ShipmentID:   res.ShipmentID,
		TrackingCode: res.TrackingCode,
		TotalPrice:   res.Total,
		Replayed:     res.Replayed,
	})
}

func (h *Handler) listShipments(w http.ResponseWriter, r *http.Request) {
	page, err := h.wf.ListShipments(r.Context(), CallerFrom(r.Context()), queryInt(r, "page"), queryInt(r, "limit"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := pageDTO{
		Items:      make([]shipmentDTO, 0, len(page.Items)),
		Page:       page.Page,
		Limit:      page.Limit,
		Total:      page.Total,
		TotalPages: page.TotalPages,
	}
	for _, s := range page.Items {
		out.Items = append(out.Items, toShipmentDTO(s))
	}
	writeOK(w, http.StatusOK, "", out)
}

func (h *Handler) getShipment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	sh, err := h.wf.GetShipment(r.Context(), CallerFrom(r.Context()), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "", toShipmentDTO(sh))
}

func (h *Handler) assignExpedition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req assignExpeditionRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	err = h.wf.AssignExpedition(r.Context(), CallerFrom(r.Context()), id, settlement.AssignExpeditionInput{
		ExpeditionID: req.ExpeditionID,
		TrackingCode: req.ExpeditionTrackingCode,
		Manual:       req.ManualFlag,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "shipment handed over to expedition", nil)
}

func (h *Handler) cancelShipment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	refund, err := h.wf.CancelShipment(r.Context(), CallerFrom(r.Context()), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "shipment canceled", cancelResponse{Refunded: refund})
}

func (h *Handler) track(w http.ResponseWriter, r *http.Request) {
	v, err := h.wf.Track(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "", toTrackingDTO(v))
}

func (h *Handler) appendTracking(w http.ResponseWriter, r *http.Request) {
	var req trackingUpdateRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	err := h.wf.AppendTrackingUpdate(r.Context(), CallerFrom(r.Context()), chi.URLParam(r, "code"), req.Status, req.Description)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "tracking updated", nil)
}

func (h *Handler) quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	charge, err := h.wf.Quote(r.Context(), CallerFrom(r.Context()), req.Destination, req.Category, req.toModel())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "", toQuoteResponse(charge))
}
