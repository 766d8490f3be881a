package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/ecommerce-orders/internal/order"
	"github.com/vasiliy-maslov/ecommerce-orders/internal/validation"
)

type OrderHandler struct {
	service  order.Service
	validate *validation.Validator
}

func NewOrderHandler(service order.Service) *OrderHandler {
	return &OrderHandler{
		service:  service,
		validate: validation.New(),
	}
}

func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Post("/orders", h.handleCreateOrder)
	router.Get("/orders", h.handleListOrders)
	router.Get("/orders/{id}", h.handleGetOrder)
	router.Patch("/orders/{id}/status", h.handleChangeStatus)
	router.Post("/orders/{id}/payment-session", h.handleRetryPaymentSession)
}

func (h *OrderHandler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req validation.CreateOrderRequest
	if !h.bind(w, r, &req) {
		return
	}

	res, err := h.service.Create(r.Context(), req.ItemRequests())
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, res)
}

func (h *OrderHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	var req validation.PaginationRequest
	q := r.URL.Query()

	if s := q.Get("status"); s != "" {
		req.Status = &s
	}
	var err error
	if req.Page, err = queryInt(q.Get("page")); err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("page: %v", err))
		return
	}
	if req.Limit, err = queryInt(q.Get("limit")); err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("limit: %v", err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := h.service.FindAll(r.Context(), req.Params())
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, page)
}

func (h *OrderHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}

	o, err := h.service.FindOne(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, o)
}

type changeStatusRequest struct {
	Status string `json:"status"`
}

func (h *OrderHandler) handleChangeStatus(w http.ResponseWriter, r *http.Request) {
	var body changeStatusRequest
	if !h.decode(w, r, &body) {
		return
	}

	req := validation.StatusRequest{ID: chi.URLParam(r, "id"), Status: body.Status}
	if err := h.validate.Struct(req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	o, err := h.service.ChangeStatus(r.Context(), req.OrderID(), order.Status(req.Status))
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) handleRetryPaymentSession(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}

	res, err := h.service.RetryPaymentSession(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

func (h *OrderHandler) bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Error().Err(err).Msg("http: failed to read request body")
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := h.validate.Bind(body, dst); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (h *OrderHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request payload %v", err))
		return false
	}
	return true
}

func orderID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
