package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/arlan/demping-bot/internal/domain"
	"github.com/arlan/demping-bot/internal/engine"
	"github.com/arlan/demping-bot/internal/storage"
	"github.com/arlan/demping-bot/pkg/utils"
)

type Server struct {
	logger  *utils.Logger
	engine  *engine.Engine
	storage *storage.PostgresStorage
	port    int
}

type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type ProductRequest struct {
	ProductID      string `json:"product_id"`
	Strategy       string `json:"strategy"`
	TargetRank     int    `json:"target_rank,omitempty"`
	MinPrice       *int64 `json:"min_price,omitempty"`
	MaxPrice       *int64 `json:"max_price,omitempty"`
	PriceStep      int64  `json:"price_step,omitempty"`
	IsPriority     bool   `json:"is_priority"`
	Mode           string `json:"mode"`
	DeliveryFilter string `json:"delivery_filter,omitempty"`
	PreOrderDays   int    `json:"pre_order_days,omitempty"`
}

type RunRequest struct {
	ProductID string   `json:"product_id"`
	CityIDs   []string `json:"city_ids,omitempty"`
}

type BulkActiveRequest struct {
	ProductIDs []string `json:"product_ids"`
	Active     bool     `json:"active"`
}

type SegmentRequest struct {
	ProductID string `json:"product_id"`
	CityID    string `json:"city_id"`
	MinPrice  *int64 `json:"min_price,omitempty"`
	MaxPrice  *int64 `json:"max_price,omitempty"`
	PriceStep int64  `json:"price_step,omitempty"`
	BotActive *bool  `json:"bot_active,omitempty"`
}

func NewServer(logger *utils.Logger, eng *engine.Engine, store *storage.PostgresStorage, port int) *Server {
	return &Server{
		logger:  logger,
		engine:  eng,
		storage: store,
		port:    port,
	}
}

func (s *Server) Start() error {
	mux := http.NewServeMux()

	// Register routes
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/products", s.handleProducts)
	mux.HandleFunc("/product", s.handleProduct)
	mux.HandleFunc("/product/check", s.handleCheckNow)
	mux.HandleFunc("/product/run", s.handleRunNow)
	mux.HandleFunc("/product/run-city", s.handleRunCity)
	mux.HandleFunc("/products/bot-active", s.handleBulkActive)
	mux.HandleFunc("/segment", s.handleSegment)
	mux.HandleFunc("/segment/bot-active", s.handleSegmentActive)
	mux.HandleFunc("/segment/delete", s.handleSegmentDelete)
	mux.HandleFunc("/history/checks", s.handleCheckHistory)
	mux.HandleFunc("/history/events", s.handlePriceHistory)

	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("Starting HTTP server on %s", addr)

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth - health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	}

	s.sendSuccess(w, health)
}

// handleProducts - list all product configs
func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	configs, err := s.storage.Configs().GetAll()
	if err != nil {
		s.sendError(w, fmt.Sprintf("Failed to list products: %v", err), http.StatusInternalServerError)
		return
	}

	s.sendSuccess(w, map[string]interface{}{
		"products": configs,
		"count":    len(configs),
	})
}

// handleProduct - get or upsert a product config
func (s *Server) handleProduct(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.getProduct(w, r)
	case http.MethodPost:
		s.upsertProduct(w, r)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	productID := r.URL.Query().Get("product_id")
	if productID == "" {
		s.sendError(w, "product_id is required", http.StatusBadRequest)
		return
	}

	cfg, err := s.storage.Configs().Get(productID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.sendError(w, "Product not found", http.StatusNotFound)
			return
		}
		s.sendError(w, fmt.Sprintf("Failed to get product: %v", err), http.StatusInternalServerError)
		return
	}

	segs, err := s.storage.Segments().GetByProduct(productID)
	if err != nil {
		s.sendError(w, fmt.Sprintf("Failed to get segments: %v", err), http.StatusInternalServerError)
		return
	}

	checks, err := s.storage.Checks().GetLatestByProduct(productID)
	if err != nil {
		s.sendError(w, fmt.Sprintf("Failed to get check records: %v", err), http.StatusInternalServerError)
		return
	}

	s.sendSuccess(w, map[string]interface{}{
		"config":      cfg,
		"segments":    segs,
		"last_checks": checks,
	})
}

func (s *Server) upsertProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.ProductID == "" {
		s.sendError(w, "product_id is required", http.StatusBadRequest)
		return
	}

	cfg := &domain.ProductConfig{
		ProductID:      req.ProductID,
		Strategy:       req.Strategy,
		TargetRank:     req.TargetRank,
		MinPrice:       nullInt64(req.MinPrice),
		MaxPrice:       nullInt64(req.MaxPrice),
		PriceStep:      req.PriceStep,
		IsPriority:     req.IsPriority,
		Mode:           req.Mode,
		DeliveryFilter: req.DeliveryFilter,
		PreOrderDays:   req.PreOrderDays,
	}

	if err := s.engine.UpsertConfig(r.Context(), cfg); err != nil {
		switch {
		case errors.Is(err, domain.ErrConfig):
			s.sendError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, domain.ErrPriorityLimit):
			s.sendError(w, err.Error(), http.StatusConflict)
		default:
			s.sendError(w, fmt.Sprintf("Failed to save product: %v", err), http.StatusInternalServerError)
		}
		return
	}

	s.sendSuccess(w, map[string]interface{}{
		"message":    "Product saved",
		"product_id": req.ProductID,
	})
}

// handleCheckNow - evaluate a product without changing prices
func (s *Server) handleCheckNow(w http.ResponseWriter, r *http.Request) {
	s.runManual(w, r, func(req RunRequest) ([]engine.SegmentCheck, error) {
		return s.engine.CheckNow(r.Context(), req.ProductID)
	})
}

// handleRunNow - evaluate and apply across all segments
func (s *Server) handleRunNow(w http.ResponseWriter, r *http.Request) {
	s.runManual(w, r, func(req RunRequest) ([]engine.SegmentCheck, error) {
		return s.engine.RunNow(r.Context(), req.ProductID)
	})
}

// handleRunCity - evaluate and apply for selected cities only
func (s *Server) handleRunCity(w http.ResponseWriter, r *http.Request) {
	s.runManual(w, r, func(req RunRequest) ([]engine.SegmentCheck, error) {
		if len(req.CityIDs) == 0 {
			return nil, fmt.Errorf("%w: city_ids is required", domain.ErrConfig)
		}
		return s.engine.RunCityDemping(r.Context(), req.ProductID, req.CityIDs)
	})
}

func (s *Server) runManual(w http.ResponseWriter, r *http.Request, run func(RunRequest) ([]engine.SegmentCheck, error)) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.ProductID == "" {
		s.sendError(w, "product_id is required", http.StatusBadRequest)
		return
	}

	results, err := run(req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			s.sendError(w, "Product not found", http.StatusNotFound)
		case errors.Is(err, domain.ErrNoSegments):
			s.sendError(w, "Product has no warehouse data", http.StatusConflict)
		case errors.Is(err, domain.ErrConfig):
			s.sendError(w, err.Error(), http.StatusBadRequest)
		default:
			s.sendError(w, fmt.Sprintf("Run failed: %v", err), http.StatusInternalServerError)
		}
		return
	}

	s.sendSuccess(w, map[string]interface{}{
		"product_id": req.ProductID,
		"segments":   results,
		"timestamp":  time.Now().Unix(),
	})
}

// handleBulkActive - enable or disable the bot for many products at once
func (s *Server) handleBulkActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req BulkActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if len(req.ProductIDs) == 0 {
		s.sendError(w, "product_ids is required", http.StatusBadRequest)
		return
	}

	results := s.engine.SetBotActive(r.Context(), req.ProductIDs, req.Active)

	failed := 0
	for _, res := range results {
		if !res.OK {
			failed++
		}
	}

	s.sendSuccess(w, map[string]interface{}{
		"results": results,
		"total":   len(results),
		"failed":  failed,
	})
}

// handleSegment - update a per-city price segment
func (s *Server) handleSegment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req SegmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.ProductID == "" || req.CityID == "" {
		s.sendError(w, "product_id and city_id are required", http.StatusBadRequest)
		return
	}

	seg, err := s.storage.Segments().Get(req.ProductID, req.CityID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.sendError(w, "Segment not found", http.StatusNotFound)
			return
		}
		s.sendError(w, fmt.Sprintf("Failed to get segment: %v", err), http.StatusInternalServerError)
		return
	}

	seg.MinPrice = nullInt64(req.MinPrice)
	seg.MaxPrice = nullInt64(req.MaxPrice)
	if req.PriceStep > 0 {
		seg.PriceStep = req.PriceStep
	}
	if req.BotActive != nil {
		seg.BotActive = *req.BotActive
	}

	if err := s.engine.UpdateSegment(seg); err != nil {
		if errors.Is(err, domain.ErrConfig) {
			s.sendError(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.sendError(w, fmt.Sprintf("Failed to update segment: %v", err), http.StatusInternalServerError)
		return
	}

	s.sendSuccess(w, map[string]interface{}{
		"message": "Segment updated",
		"segment": seg,
	})
}

// handleSegmentActive - pause or resume the bot for a single city
func (s *Server) handleSegmentActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req SegmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.ProductID == "" || req.CityID == "" {
		s.sendError(w, "product_id and city_id are required", http.StatusBadRequest)
		return
	}

	if req.BotActive == nil {
		s.sendError(w, "bot_active is required", http.StatusBadRequest)
		return
	}

	if err := s.engine.SetSegmentActive(req.ProductID, req.CityID, *req.BotActive); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.sendError(w, "Segment not found", http.StatusNotFound)
			return
		}
		s.sendError(w, fmt.Sprintf("Failed to update segment: %v", err), http.StatusInternalServerError)
		return
	}

	s.sendSuccess(w, map[string]interface{}{
		"message":    "Segment updated",
		"product_id": req.ProductID,
		"city_id":    req.CityID,
		"bot_active": *req.BotActive,
	})
}

// handleSegmentDelete - remove a city segment
func (s *Server) handleSegmentDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req SegmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.ProductID == "" || req.CityID == "" {
		s.sendError(w, "product_id and city_id are required", http.StatusBadRequest)
		return
	}

	if err := s.engine.DeleteSegment(req.ProductID, req.CityID); err != nil {
		s.sendError(w, fmt.Sprintf("Failed to delete segment: %v", err), http.StatusInternalServerError)
		return
	}

	s.sendSuccess(w, map[string]interface{}{
		"message":    "Segment deleted",
		"product_id": req.ProductID,
		"city_id":    req.CityID,
	})
}

// handleCheckHistory - check records for a product over the last N hours
func (s *Server) handleCheckHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	productID := r.URL.Query().Get("product_id")
	if productID == "" {
		s.sendError(w, "product_id is required", http.StatusBadRequest)
		return
	}

	hours := getQueryParamInt(r, "hours", 24)
	to := time.Now()
	from := to.Add(-time.Duration(hours) * time.Hour)

	records, err := s.storage.Checks().GetRange(productID, from, to)
	if err != nil {
		s.sendError(w, fmt.Sprintf("Failed to get check history: %v", err), http.StatusInternalServerError)
		return
	}

	s.sendSuccess(w, map[string]interface{}{
		"product_id": productID,
		"hours":      hours,
		"checks":     records,
		"count":      len(records),
	})
}

// handlePriceHistory - recent price change events for a product
func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	productID := r.URL.Query().Get("product_id")
	if productID == "" {
		s.sendError(w, "product_id is required", http.StatusBadRequest)
		return
	}

	limit := getQueryParamInt(r, "limit", 50)

	events, err := s.storage.Events().GetRecent(productID, limit)
	if err != nil {
		s.sendError(w, fmt.Sprintf("Failed to get price history: %v", err), http.StatusInternalServerError)
		return
	}

	s.sendSuccess(w, map[string]interface{}{
		"product_id": productID,
		"events":     events,
		"count":      len(events),
	})
}

// Helper methods
func (s *Server) sendSuccess(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(Response{
		Success: true,
		Data:    data,
	})
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(Response{
		Success: false,
		Error:   message,
	})
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// Helper function to parse int query parameter
func getQueryParamInt(r *http.Request, key string, defaultValue int) int {
	if value := r.URL.Query().Get(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
