package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/avolkov/agrosklad-system/internal/model"
)

type warehouseRequest struct {
	Name       string          `json:"name"`
	Location   string          `json:"location"`
	CapacityKg decimal.Decimal `json:"capacity_kg"`
}

type warehouseResponse struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Location   string          `json:"location"`
	CapacityKg decimal.Decimal `json:"capacity_kg"`
	CreatedAt  string          `json:"created_at"`
}

func toWarehouseResponse(w *model.Warehouse) warehouseResponse {
	return warehouseResponse{
		ID:         w.ID.String(),
		Name:       w.Name,
		Location:   w.Location,
		CapacityKg: w.CapacityKg,
		CreatedAt:  w.CreatedAt.Format(time.RFC3339),
	}
}

// CreateWarehouse регистрирует новый склад.
func (h *Handler) CreateWarehouse(w http.ResponseWriter, r *http.Request) {
	if _, ok := userID(w, r); !ok {
		return
	}

	var req warehouseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	warehouse, err := h.service.CreateWarehouse(r.Context(), req.Name, req.Location, req.CapacityKg)
	if err != nil {
		h.writeError(w, err, "create warehouse error")
		return
	}

	h.writeJSON(w, http.StatusCreated, toWarehouseResponse(warehouse))
}

// GetWarehouse возвращает склад по идентификатору.
func (h *Handler) GetWarehouse(w http.ResponseWriter, r *http.Request) {
	if _, ok := userID(w, r); !ok {
		return
	}

	id, ok := pathUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	warehouse, err := h.service.GetWarehouse(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "get warehouse error")
		return
	}

	h.writeJSON(w, http.StatusOK, toWarehouseResponse(warehouse))
}

// ListWarehouses возвращает все склады.
func (h *Handler) ListWarehouses(w http.ResponseWriter, r *http.Request) {
	if _, ok := userID(w, r); !ok {
		return
	}

	warehouses, err := h.service.ListWarehouses(r.Context())
	if err != nil {
		h.writeError(w, err, "list warehouses error")
		return
	}

	resp := make([]warehouseResponse, 0, len(warehouses))
	for i := range warehouses {
		resp = append(resp, toWarehouseResponse(&warehouses[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type commodityRequest struct {
	Name       string          `json:"name"`
	Grade      string          `json:"grade"`
	PricePerKg decimal.Decimal `json:"price_per_kg"`
}

type commodityResponse struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Grade      string          `json:"grade"`
	PricePerKg decimal.Decimal `json:"price_per_kg"`
	CreatedAt  string          `json:"created_at"`
}

func toCommodityResponse(c *model.Commodity) commodityResponse {
	return commodityResponse{
		ID:         c.ID.String(),
		Name:       c.Name,
		Grade:      c.Grade,
		PricePerKg: c.PricePerKg,
		CreatedAt:  c.CreatedAt.Format(time.RFC3339),
	}
}

// CreateCommodity регистрирует новый вид продукции.
func (h *Handler) CreateCommodity(w http.ResponseWriter, r *http.Request) {
	if _, ok := userID(w, r); !ok {
		return
	}

	var req commodityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	commodity, err := h.service.CreateCommodity(r.Context(), req.Name, req.Grade, req.PricePerKg)
	if err != nil {
		h.writeError(w, err, "create commodity error")
		return
	}

	h.writeJSON(w, http.StatusCreated, toCommodityResponse(commodity))
}

// GetCommodity возвращает вид продукции по идентификатору.
func (h *Handler) GetCommodity(w http.ResponseWriter, r *http.Request) {
	if _, ok := userID(w, r); !ok {
		return
	}

	id, ok := pathUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	commodity, err := h.service.GetCommodity(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "get commodity error")
		return
	}

	h.writeJSON(w, http.StatusOK, toCommodityResponse(commodity))
}

// ListCommodities возвращает все виды продукции.
func (h *Handler) ListCommodities(w http.ResponseWriter, r *http.Request) {
	if _, ok := userID(w, r); !ok {
		return
	}

	commodities, err := h.service.ListCommodities(r.Context())
	if err != nil {
		h.writeError(w, err, "list commodities error")
		return
	}

	resp := make([]commodityResponse, 0, len(commodities))
	for i := range commodities {
		resp = append(resp, toCommodityResponse(&commodities[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type depositRequest struct {
	WarehouseID string          `json:"warehouse_id"`
	CommodityID string          `json:"commodity_id"`
	QuantityKg  decimal.Decimal `json:"quantity_kg"`
}

type depositResponse struct {
	Process processResponse `json:"process"`
	Receipt receiptResponse `json:"receipt"`
}

// CreateDeposit принимает партию продукции и выдаёт складскую расписку.
func (h *Handler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	warehouseID, ok := pathUUID(w, req.WarehouseID)
	if !ok {
		return
	}
	commodityID, ok := pathUUID(w, req.CommodityID)
	if !ok {
		return
	}

	process, receipt, err := h.service.InitiateDeposit(r.Context(), uid, warehouseID, commodityID, req.QuantityKg)
	if err != nil {
		h.writeError(w, err, "create deposit error")
		return
	}

	h.writeJSON(w, http.StatusCreated, depositResponse{
		Process: toProcessResponse(process),
		Receipt: toReceiptResponse(receipt),
	})
}
