package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/avolkov/agrosklad-system/internal/model"
)

type receiptResponse struct {
	ID                        string            `json:"id"`
	ReceiptNumber             string            `json:"receipt_number"`
	CommodityID               string            `json:"commodity_id"`
	WarehouseID               string            `json:"warehouse_id"`
	QuantityKg                decimal.Decimal   `json:"quantity_kg"`
	Valuation                 decimal.Decimal   `json:"valuation"`
	Status                    string            `json:"status"`
	Liens                     map[string]string `json:"liens"`
	ActiveWithdrawalProcessID string            `json:"active_withdrawal_process_id,omitempty"`
	IssuedAt                  string            `json:"issued_at"`
	ExpiresAt                 string            `json:"expires_at"`
}

func toReceiptResponse(rc *model.WarehouseReceipt) receiptResponse {
	resp := receiptResponse{
		ID:            rc.ID.String(),
		ReceiptNumber: rc.ReceiptNumber,
		CommodityID:   rc.CommodityID.String(),
		WarehouseID:   rc.WarehouseID.String(),
		QuantityKg:    rc.QuantityKg,
		Valuation:     rc.Valuation,
		Status:        string(rc.Status),
		Liens:         rc.Liens,
		IssuedAt:      rc.IssuedAt.Format(time.RFC3339),
		ExpiresAt:     rc.ExpiresAt.Format(time.RFC3339),
	}
	if rc.ActiveWithdrawalProcessID != nil {
		resp.ActiveWithdrawalProcessID = rc.ActiveWithdrawalProcessID.String()
	}
	return resp
}

type processResponse struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	Status        string            `json:"status"`
	ReceiptID     string            `json:"receipt_id"`
	CurrentStage  string            `json:"current_stage"`
	StageProgress map[string]string `json:"stage_progress"`
	ProgressPct   int               `json:"progress_pct"`
	CreatedAt     string            `json:"created_at"`
	CompletedAt   string            `json:"completed_at,omitempty"`
}

func toProcessResponse(p *model.Process) processResponse {
	progress := make(map[string]string, len(p.StageProgress))
	for stage, status := range p.StageProgress {
		progress[stage] = string(status)
	}

	resp := processResponse{
		ID:            p.ID.String(),
		Type:          string(p.Type),
		Status:        string(p.Status),
		ReceiptID:     p.ReceiptID.String(),
		CurrentStage:  p.CurrentStage,
		StageProgress: progress,
		ProgressPct:   p.ProgressPct,
		CreatedAt:     p.CreatedAt.Format(time.RFC3339),
	}
	if p.CompletedAt != nil {
		resp.CompletedAt = p.CompletedAt.Format(time.RFC3339)
	}
	return resp
}

// GetReceipts возвращает расписки текущего пользователя.
func (h *Handler) GetReceipts(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	receipts, err := h.service.GetReceiptsByUser(r.Context(), uid)
	if err != nil {
		h.writeError(w, err, "get receipts error")
		return
	}

	if len(receipts) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]receiptResponse, 0, len(receipts))
	for i := range receipts {
		resp = append(resp, toReceiptResponse(&receipts[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// GetReceipt возвращает расписку текущего пользователя.
func (h *Handler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	id, ok := pathUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	receipt, err := h.service.GetReceipt(r.Context(), id, uid)
	if err != nil {
		h.writeError(w, err, "get receipt error")
		return
	}

	h.writeJSON(w, http.StatusOK, toReceiptResponse(receipt))
}

type withdrawRequest struct {
	QuantityKg *decimal.Decimal `json:"quantity_kg,omitempty"`
}

type withdrawResponse struct {
	Process processResponse `json:"process"`
	Receipt receiptResponse `json:"receipt"`
	Partial bool            `json:"partial"`
}

// InitiateWithdrawal начинает изъятие по расписке текущего пользователя.
// Без указания количества изымается вся расписка.
func (h *Handler) InitiateWithdrawal(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	id, ok := pathUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req withdrawRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
	}

	process, receipt, partial, err := h.service.InitiateWithdrawal(r.Context(), id, uid, req.QuantityKg)
	if err != nil {
		h.writeError(w, err, "initiate withdrawal error")
		return
	}

	h.writeJSON(w, http.StatusAccepted, withdrawResponse{
		Process: toProcessResponse(process),
		Receipt: toReceiptResponse(receipt),
		Partial: partial,
	})
}

type transferRequest struct {
	ToLogin string `json:"to_login"`
}

// TransferReceipt переводит расписку текущего пользователя другому пользователю.
func (h *Handler) TransferReceipt(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	id, ok := pathUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ToLogin == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	replacement, err := h.service.TransferReceipt(r.Context(), id, uid, req.ToLogin)
	if err != nil {
		h.writeError(w, err, "transfer receipt error")
		return
	}

	h.writeJSON(w, http.StatusOK, toReceiptResponse(replacement))
}

// GetProcess возвращает процесс текущего пользователя.
func (h *Handler) GetProcess(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	id, ok := pathUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	process, err := h.service.GetProcess(r.Context(), id, uid)
	if err != nil {
		h.writeError(w, err, "get process error")
		return
	}

	h.writeJSON(w, http.StatusOK, toProcessResponse(process))
}

type stageUpdateRequest struct {
	Stage   string `json:"stage"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

var validStageStatuses = map[model.StageStatus]struct{}{
	model.StageStatusPending:    {},
	model.StageStatusInProgress: {},
	model.StageStatusCompleted:  {},
	model.StageStatusFailed:     {},
}

// UpdateWithdrawalStage обновляет статус этапа процесса изъятия.
func (h *Handler) UpdateWithdrawalStage(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	id, ok := pathUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req stageUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Stage == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	status := model.StageStatus(req.Status)
	if _, ok := validStageStatuses[status]; !ok {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	// Процесс должен принадлежать пользователю.
	if _, err := h.service.GetProcess(r.Context(), id, uid); err != nil {
		h.writeError(w, err, "get process error")
		return
	}

	if req.Message != "" {
		h.logger.Info("withdrawal stage note",
			zap.String("process", id.String()),
			zap.String("stage", req.Stage),
			zap.String("message", req.Message),
		)
	}

	process, err := h.service.UpdateWithdrawalStage(r.Context(), id, req.Stage, status)
	if err != nil {
		h.writeError(w, err, "update withdrawal stage error")
		return
	}

	h.writeJSON(w, http.StatusOK, toProcessResponse(process))
}

// CompleteWithdrawal принудительно завершает процесс изъятия.
func (h *Handler) CompleteWithdrawal(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	id, ok := pathUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	if _, err := h.service.GetProcess(r.Context(), id, uid); err != nil {
		h.writeError(w, err, "get process error")
		return
	}

	process, err := h.service.CompleteWithdrawal(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "complete withdrawal error")
		return
	}

	h.writeJSON(w, http.StatusOK, toProcessResponse(process))
}

type sackResponse struct {
	ID            string            `json:"id"`
	SackCode      string            `json:"sack_code"`
	CommodityID   string            `json:"commodity_id"`
	WarehouseID   string            `json:"warehouse_id"`
	ReceiptID     string            `json:"receipt_id"`
	WeightKg      decimal.Decimal   `json:"weight_kg"`
	Status        string            `json:"status"`
	QualityParams map[string]string `json:"quality_params"`
	LedgerHash    string            `json:"ledger_hash"`
	CreatedAt     string            `json:"created_at"`
}

func toSackResponse(s *model.CommoditySack) sackResponse {
	return sackResponse{
		ID:            s.ID.String(),
		SackCode:      s.SackCode,
		CommodityID:   s.CommodityID.String(),
		WarehouseID:   s.WarehouseID.String(),
		ReceiptID:     s.ReceiptID.String(),
		WeightKg:      s.WeightKg,
		Status:        string(s.Status),
		QualityParams: s.QualityParams,
		LedgerHash:    s.LedgerHash,
		CreatedAt:     s.CreatedAt.Format(time.RFC3339),
	}
}

// GetReceiptSacks возвращает мешки расписки текущего пользователя.
func (h *Handler) GetReceiptSacks(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	id, ok := pathUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	sacks, err := h.service.GetSacksByReceipt(r.Context(), id, uid)
	if err != nil {
		h.writeError(w, err, "get sacks error")
		return
	}

	resp := make([]sackResponse, 0, len(sacks))
	for i := range sacks {
		resp = append(resp, toSackResponse(&sacks[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type movementRequest struct {
	ToLocation string `json:"to_location"`
	Note       string `json:"note,omitempty"`
	Status     string `json:"status,omitempty"`
}

type movementResponse struct {
	ID           string `json:"id"`
	SackID       string `json:"sack_id"`
	FromLocation string `json:"from_location"`
	ToLocation   string `json:"to_location"`
	Note         string `json:"note,omitempty"`
	MovedAt      string `json:"moved_at"`
}

func toMovementResponse(m *model.SackMovement) movementResponse {
	return movementResponse{
		ID:           m.ID.String(),
		SackID:       m.SackID.String(),
		FromLocation: m.FromLocation,
		ToLocation:   m.ToLocation,
		Note:         m.Note,
		MovedAt:      m.MovedAt.Format(time.RFC3339),
	}
}

// RecordSackMovement добавляет запись в журнал перемещений мешка.
func (h *Handler) RecordSackMovement(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	id, ok := pathUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req movementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ToLocation == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	movement, err := h.service.RecordSackMovement(r.Context(), id, uid, req.ToLocation, req.Note, model.SackStatus(req.Status))
	if err != nil {
		h.writeError(w, err, "record sack movement error")
		return
	}

	h.writeJSON(w, http.StatusCreated, toMovementResponse(movement))
}

// GetSackMovements возвращает журнал перемещений мешка.
func (h *Handler) GetSackMovements(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	id, ok := pathUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	movements, err := h.service.GetSackMovements(r.Context(), id, uid)
	if err != nil {
		h.writeError(w, err, "get sack movements error")
		return
	}

	resp := make([]movementResponse, 0, len(movements))
	for i := range movements {
		resp = append(resp, toMovementResponse(&movements[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type qualityRequest struct {
	Parameters map[string]string `json:"parameters"`
}

// UpdateSackQuality заменяет снимок параметров качества мешка.
func (h *Handler) UpdateSackQuality(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	id, ok := pathUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req qualityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Parameters) == 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.UpdateSackQuality(r.Context(), id, uid, req.Parameters); err != nil {
		h.writeError(w, err, "update sack quality error")
		return
	}

	w.WriteHeader(http.StatusOK)
}
