package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	qrcode "github.com/skip2/go-qrcode"

	"microtask-backend/core/marketplace"
	"microtask-backend/middleware/marketplace/middleware"
	storemkt "microtask-backend/storage/marketplace"
)

// PaymentHandler handles buyer coin top-ups: checkout references, QR
// codes for external payment, and completed payment records.
type PaymentHandler struct {
	store storemkt.Store
	log   *logrus.Logger
}

// NewPaymentHandler creates a new payment handler.
func NewPaymentHandler(store storemkt.Store, log *logrus.Logger) *PaymentHandler {
	return &PaymentHandler{store: store, log: log}
}

// Payments handles /payments, /payments/checkout and /payments/qr.
func (h *PaymentHandler) Payments(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/marketplace/payments")
	path = strings.Trim(path, "/")

	switch {
	case r.Method == http.MethodGet && path == "":
		h.handleListPayments(w, r)
	case r.Method == http.MethodGet && path == "qr":
		h.handleQRCode(w, r)
	case r.Method == http.MethodPost && path == "":
		h.handleRecordPayment(w, r)
	case r.Method == http.MethodPost && path == "checkout":
		h.handleCheckout(w, r)
	default:
		middleware.Error(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *PaymentHandler) handleListPayments(w http.ResponseWriter, r *http.Request) {
	acct, _ := middleware.AccountFrom(r.Context())

	payments, err := h.store.ListPayments(r.Context(), acct.Email)
	if err != nil {
		middleware.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	if payments == nil {
		payments = []marketplace.Payment{}
	}
	middleware.JSON(w, http.StatusOK, map[string]interface{}{"payments": payments})
}

// handleCheckout issues a payment reference for an external coin
// purchase. Nothing is credited yet; the provider callback posts the
// completed payment against this reference.
func (h *PaymentHandler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CoinAmount int64 `json:"coin_amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.CoinAmount <= 0 {
		middleware.Error(w, http.StatusBadRequest, "positive coin_amount required")
		return
	}

	ref := "PAY-" + uuid.NewString()
	amountDue := marketplace.PayoutFor(body.CoinAmount)
	middleware.JSON(w, http.StatusOK, map[string]interface{}{
		"payment_ref": ref,
		"coin_amount": body.CoinAmount,
		"amount_due":  amountDue.StringFixed(2),
	})
}

// handleQRCode renders a payment reference as a PNG QR code for mobile
// payment apps.
func (h *PaymentHandler) handleQRCode(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("ref")
	if strings.TrimSpace(ref) == "" {
		middleware.Error(w, http.StatusBadRequest, "ref required")
		return
	}

	png, err := qrcode.Encode(ref, qrcode.Medium, 256)
	if err != nil {
		middleware.Error(w, http.StatusInternalServerError, "qr generation failed")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// handleRecordPayment handles POST /payments. Crediting the coins and
// inserting the record happen in one store operation.
func (h *PaymentHandler) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	acct, _ := middleware.AccountFrom(r.Context())

	var body struct {
		CoinAmount int64  `json:"coin_amount"`
		AmountPaid string `json:"amount_paid"`
		PaymentRef string `json:"payment_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		middleware.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	payment, err := h.store.RecordPayment(r.Context(), acct, body.CoinAmount, body.AmountPaid, body.PaymentRef)
	if err != nil {
		middleware.DomainError(w, err)
		return
	}

	h.log.WithFields(logrus.Fields{"buyer": acct.Email, "coins": payment.CoinAmount}).Info("payment recorded")
	middleware.JSON(w, http.StatusCreated, map[string]interface{}{
		"payment_id": payment.ID,
		"payment":    payment,
	})
}
