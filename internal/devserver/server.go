// Package devserver реализует встроенный эмулятор серверного API dearlove
// для локальной разработки и сквозных тестов.
package devserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	custommiddleware "github.com/mmeshcher/dearlove-system/internal/middleware"
	"github.com/mmeshcher/dearlove-system/internal/model"
)

// paymentSession описывает созданную платёжную сессию эмулятора.
type paymentSession struct {
	OrderCode   string
	UID         string
	Amount      int64
	CheckoutURL string
	Method      string
}

// Server хранит сайты, продукты и платёжные сессии в памяти.
type Server struct {
	logger *zap.Logger
	hub    *hub

	mu       sync.Mutex
	websites map[string]model.Website
	products map[string]model.Product
	payments map[string]paymentSession
	vouchers map[string]int
}

// New создаёт эмулятор с предзаполненными ваучерами.
func New(logger *zap.Logger) *Server {
	return &Server{
		logger:   logger,
		hub:      newHub(logger),
		websites: make(map[string]model.Website),
		products: make(map[string]model.Product),
		payments: make(map[string]paymentSession),
		vouchers: map[string]int{
			"LOVE10": 10,
			"HALF":   50,
			"FULL":   100,
		},
	}
}

// SetupRouter настраивает HTTP-маршруты эмулятора.
func (s *Server) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	// Websocket-маршрут вне логирующего middleware: обёртка
	// ResponseWriter мешает перехвату соединения при апгрейде.
	r.Get("/ws", s.hub.handleWS)

	r.Group(func(r chi.Router) {
		r.Use(custommiddleware.Logger(s.logger))

		r.Route("/api", func(r chi.Router) {
			r.Post("/r2/upload", s.uploadImage)
			r.Post("/birthday/birthday-websites", s.createWebsite)
			r.Get("/birthday/birthday-websites/website/{websiteID}", s.getWebsite)
			r.Post("/products", s.createProduct)
			r.Post("/vouchers/apply", s.applyVoucher)
			r.Post("/payment/create", s.createPayment)
			r.Post("/payment/notify", s.notifyPayment)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	return r
}

func (s *Server) uploadImage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Base64 string `json:"base64"`
		Prefix string `json:"prefix"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Base64 == "" {
		writeFailure(w, "base64 image data is required")
		return
	}
	if req.Prefix == "" {
		req.Prefix = "birthday"
	}

	writeJSON(w, map[string]any{
		"success": true,
		"url":     "https://cdn.dearlove.local/" + req.Prefix + "/" + uuid.NewString() + ".png",
	})
}

func (s *Server) createWebsite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Settings model.Settings      `json:"settings"`
		Status   model.WebsiteStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, "malformed website payload")
		return
	}

	site := model.Website{
		ID:       uuid.NewString(),
		Settings: req.Settings,
		Status:   req.Status,
	}

	s.mu.Lock()
	s.websites[site.ID] = site
	s.mu.Unlock()

	writeJSON(w, map[string]any{"success": true, "data": site})
}

func (s *Server) getWebsite(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "websiteID")

	s.mu.Lock()
	site, ok := s.websites[id]
	s.mu.Unlock()

	if !ok {
		writeFailure(w, "website not found")
		return
	}

	writeJSON(w, map[string]any{"success": true, "data": site})
}

func (s *Server) createProduct(w http.ResponseWriter, r *http.Request) {
	var product model.Product
	if err := json.NewDecoder(r.Body).Decode(&product); err != nil {
		writeFailure(w, "malformed product payload")
		return
	}
	if product.OrderCode == "" || product.ConfigID == "" {
		writeFailure(w, "orderCode and configId are required")
		return
	}

	s.mu.Lock()
	s.products[product.OrderCode] = product
	s.mu.Unlock()

	writeJSON(w, map[string]any{"success": true, "data": product})
}

func (s *Server) applyVoucher(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UID       string `json:"uid"`
		Code      string `json:"code"`
		OrderCode string `json:"orderCode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		writeFailure(w, "voucher code is required")
		return
	}

	s.mu.Lock()
	percent, ok := s.vouchers[req.Code]
	s.mu.Unlock()

	if !ok {
		writeFailure(w, "voucher not found or expired")
		return
	}

	writeJSON(w, map[string]any{
		"success": true,
		"data":    map[string]any{"discountPercent": percent},
	})
}

func (s *Server) createPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount        int64  `json:"amount"`
		Description   string `json:"description"`
		OrderCode     int64  `json:"orderCode"`
		UID           string `json:"uid"`
		CustomerEmail string `json:"customerEmail"`
		PaymentMethod string `json:"paymentMethod"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderCode == 0 {
		writeFailure(w, "orderCode is required")
		return
	}

	code := strconv.FormatInt(req.OrderCode, 10)

	s.mu.Lock()
	existing, ok := s.payments[code]
	if ok {
		s.mu.Unlock()
		writeJSON(w, map[string]any{
			"success": true,
			"data": map[string]any{
				"checkoutUrl":     existing.CheckoutURL,
				"isExistingOrder": true,
				"orderCode":       req.OrderCode,
			},
		})
		return
	}

	sess := paymentSession{
		OrderCode:   code,
		UID:         req.UID,
		Amount:      req.Amount,
		CheckoutURL: "https://pay.dearlove.local/checkout/" + code,
		Method:      req.PaymentMethod,
	}
	s.payments[code] = sess
	s.mu.Unlock()

	if req.PaymentMethod == "PAYPAL" {
		writeJSON(w, map[string]any{
			"success": true,
			"data":    map[string]any{"checkoutUrl": sess.CheckoutURL},
		})
		return
	}

	// PayOS кладёт ссылку на оплату на верхний уровень ответа.
	writeJSON(w, map[string]any{
		"success":     true,
		"checkoutUrl": sess.CheckoutURL,
	})
}

// notifyPayment заменяет webhook платёжного провайдера: переводит заказ в
// терминальный статус и рассылает событие в комнату заказа.
func (s *Server) notifyPayment(w http.ResponseWriter, r *http.Request) {
	var ev model.PaymentStatusEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil || ev.OrderCode == "" {
		writeFailure(w, "orderCode is required")
		return
	}

	s.mu.Lock()
	if product, ok := s.products[ev.OrderCode]; ok {
		if ev.Status == model.OrderStatusPaid {
			product.Status = model.ProductStatusPaid
		}
		s.products[ev.OrderCode] = product

		if ev.WebsiteID == "" {
			ev.WebsiteID = product.ConfigID
		}
		if ev.Amount == 0 {
			ev.Amount = product.Price
		}
	}
	s.mu.Unlock()

	delivered := s.hub.publish(ev.OrderCode, "payment_status_update", ev)

	writeJSON(w, map[string]any{
		"success": true,
		"data":    map[string]any{"delivered": delivered},
	})
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeFailure(w http.ResponseWriter, message string) {
	writeJSON(w, map[string]any{"success": false, "message": message})
}
