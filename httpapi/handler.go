package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"guildcourt/auth"
	"guildcourt/dispute"
)

// Disputes is the engine surface the API exposes. *dispute.Service
// satisfies it.
type Disputes interface {
	Create(ctx context.Context, p dispute.CreateParams) (uint64, error)
	SubmitEvidence(ctx context.Context, disputeID uint64, party, url string) error
	CastVote(ctx context.Context, disputeID uint64, voter string, decision dispute.Decision) error
	VoteWeight(ctx context.Context, guildID uint64, voter string) (uint32, error)
	Tally(ctx context.Context, disputeID uint64) (dispute.Resolution, error)
	Resolve(ctx context.Context, disputeID uint64) (dispute.Resolution, error)
	ExecuteResolution(ctx context.Context, disputeID uint64) ([]dispute.FundDistribution, error)
	Get(ctx context.Context, disputeID uint64) (dispute.Dispute, error)
	Vote(ctx context.Context, disputeID uint64, voter string) (dispute.Vote, error)
}

type Handler struct{ disputes Disputes }

func NewHandler(disputes Disputes) *Handler { return &Handler{disputes: disputes} }

type createDisputeRequest struct {
	ReferenceID uint64 `json:"reference_id"`
	Defendant   string `json:"defendant"`
	Reason      string `json:"reason"`
	EvidenceURL string `json:"evidence_url"`
}

type evidenceRequest struct {
	URL string `json:"url"`
}

type voteRequest struct {
	Decision dispute.Decision `json:"decision"`
}

// The authenticated caller always acts as the plaintiff, party or voter.
func (h *Handler) createDispute(w http.ResponseWriter, r *http.Request) {
	var req createDisputeRequest
	if !decode(w, r, &req) {
		return
	}
	caller, _ := auth.CallerFrom(r.Context())
	id, err := h.disputes.Create(r.Context(), dispute.CreateParams{
		ReferenceID: req.ReferenceID,
		Plaintiff:   caller,
		Defendant:   strings.TrimSpace(req.Defendant),
		Reason:      req.Reason,
		EvidenceURL: strings.TrimSpace(req.EvidenceURL),
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "dispute created", map[string]any{"dispute_id": id})
}

func (h *Handler) getDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := disputeID(w, r)
	if !ok {
		return
	}
	d, err := h.disputes.Get(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", d)
}

func (h *Handler) submitEvidence(w http.ResponseWriter, r *http.Request) {
	id, ok := disputeID(w, r)
	if !ok {
		return
	}
	var req evidenceRequest
	if !decode(w, r, &req) {
		return
	}
	caller, _ := auth.CallerFrom(r.Context())
	if err := h.disputes.SubmitEvidence(r.Context(), id, caller, strings.TrimSpace(req.URL)); err != nil {
		fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "evidence recorded", nil)
}

func (h *Handler) castVote(w http.ResponseWriter, r *http.Request) {
	id, ok := disputeID(w, r)
	if !ok {
		return
	}
	var req voteRequest
	if !decode(w, r, &req) {
		return
	}
	caller, _ := auth.CallerFrom(r.Context())
	if err := h.disputes.CastVote(r.Context(), id, caller, req.Decision); err != nil {
		fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "vote cast", nil)
}

func (h *Handler) getVote(w http.ResponseWriter, r *http.Request) {
	id, ok := disputeID(w, r)
	if !ok {
		return
	}
	v, err := h.disputes.Vote(r.Context(), id, chi.URLParam(r, "voter"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", v)
}

func (h *Handler) tally(w http.ResponseWriter, r *http.Request) {
	id, ok := disputeID(w, r)
	if !ok {
		return
	}
	res, err := h.disputes.Tally(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", res)
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	id, ok := disputeID(w, r)
	if !ok {
		return
	}
	res, err := h.disputes.Resolve(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "dispute closed", res)
}

func (h *Handler) execute(w http.ResponseWriter, r *http.Request) {
	id, ok := disputeID(w, r)
	if !ok {
		return
	}
	dists, err := h.disputes.ExecuteResolution(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "resolution executed", map[string]any{"fund_distribution": dists})
}

func (h *Handler) voteWeight(w http.ResponseWriter, r *http.Request) {
	guildID, err := strconv.ParseUint(chi.URLParam(r, "guild_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "guild_id must be a positive integer", requestIDFromContext(r.Context()))
		return
	}
	address := chi.URLParam(r, "address")
	weight, err := h.disputes.VoteWeight(r.Context(), guildID, address)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", map[string]any{"guild_id": guildID, "address": address, "weight": weight})
}

func disputeID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "dispute_id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid_input", "dispute_id must be a positive integer", requestIDFromContext(r.Context()))
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error(), requestIDFromContext(r.Context()))
		return false
	}
	return true
}

func fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := mapDomainError(err)
	writeError(w, status, code, err.Error(), requestIDFromContext(r.Context()))
}
