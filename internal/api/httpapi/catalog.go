package httpapi

import (
	"net/http"

	"github.com/BearBump/ParcelDesk/internal/apperr"
	"github.com/BearBump/ParcelDesk/internal/models"
)

func (h *Handler) listPrices(w http.ResponseWriter, r *http.Request) {
	prices, err := h.catalog.ListPrices(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]priceDTO, 0, len(prices))
	for _, p := range prices {
		out = append(out, toPriceDTO(p))
	}
	writeOK(w, http.StatusOK, "", out)
}

func (h *Handler) savePrice(w http.ResponseWriter, r *http.Request) {
	var req savePriceRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	id, err := h.catalog.SavePrice(r.Context(), CallerFrom(r.Context()), req.toModel(), req.Replace)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "price saved", idResponse{ID: id})
}

func (h *Handler) listExpeditions(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	list, err := h.catalog.ListExpeditions(r.Context(), activeOnly)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]expeditionDTO, 0, len(list))
	for _, e := range list {
		out = append(out, expeditionDTO(*e))
	}
	writeOK(w, http.StatusOK, "", out)
}

func (h *Handler) createExpedition(w http.ResponseWriter, r *http.Request) {
	var req expeditionDTO
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	e := models.Expedition(req)
	e.ID = 0
	id, err := h.catalog.CreateExpedition(r.Context(), CallerFrom(r.Context()), &e)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, "expedition created", idResponse{ID: id})
}

func (h *Handler) updateExpedition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req expeditionDTO
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	e := models.Expedition(req)
	e.ID = id
	if err := h.catalog.UpdateExpedition(r.Context(), CallerFrom(r.Context()), &e); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "expedition updated", nil)
}

func (h *Handler) listTopups(w http.ResponseWriter, r *http.Request) {
	status := models.TopupStatus(r.URL.Query().Get("status"))
	list, err := h.wf.ListTopups(r.Context(), CallerFrom(r.Context()), status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]topupDTO, 0, len(list))
	for _, t := range list {
		out = append(out, topupDTO(*t))
	}
	writeOK(w, http.StatusOK, "", out)
}

func (h *Handler) profile(w http.ResponseWriter, r *http.Request) {
	u, err := h.wf.Wallet(r.Context(), CallerFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "", profileDTO{ID: u.ID, Name: u.Name, Role: u.Role, Balance: u.Balance})
}

func (h *Handler) requestTopup(w http.ResponseWriter, r *http.Request) {
	var req topupRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	id, err := h.wf.RequestTopup(r.Context(), CallerFrom(r.Context()), req.Amount, req.ProofRef)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, "topup requested", idResponse{ID: id})
}

func (h *Handler) decideTopup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req topupDecisionRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	var approve bool
	switch req.Status {
	case models.TopupApproved:
		approve = true
	case models.TopupRejected:
	default:
		h.writeError(w, r, apperr.Validation("status must be approved or rejected"))
		return
	}
	if err := h.wf.DecideTopup(r.Context(), CallerFrom(r.Context()), id, approve, req.AdminNotes); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "topup "+string(req.Status), nil)
}
