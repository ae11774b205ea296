package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	coremkt "microtask-backend/core/marketplace"
	"microtask-backend/services"
	"microtask-backend/storage/auth"
	storemkt "microtask-backend/storage/marketplace"
)

type testEnv struct {
	mux    *http.ServeMux
	store  *storemkt.MemoryStore
	tokens *auth.TokenStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	store := storemkt.NewMemoryStore()
	tokens := auth.NewTokenStore()
	notifier := services.NewNotifier(store, log, "admin@example.com")
	srv := NewServer(store, tokens, notifier, log)

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	return &testEnv{mux: mux, store: store, tokens: tokens}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

// register creates an account through the API and returns its bearer token.
func (e *testEnv) register(t *testing.T, email, role string) (coremkt.Account, string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/marketplace/auth/register", "", map[string]string{
		"email": email, "name": "Test " + email, "role": role,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d body %s", email, rec.Code, rec.Body.String())
	}
	var resp struct {
		Account coremkt.Account `json:"account"`
		Token   string          `json:"token"`
	}
	decodeBody(t, rec, &resp)
	return resp.Account, resp.Token
}

// seedAdmin creates an admin account directly in the store, the way
// marketctl does, and returns a bearer token for it.
func (e *testEnv) seedAdmin(t *testing.T, email string) string {
	t.Helper()
	acct, err := e.store.CreateAccount(context.Background(), email, "Admin", "", coremkt.RoleAdmin)
	if err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	tok, err := e.tokens.Issue(acct.ID, acct.Email, "seed")
	if err != nil {
		t.Fatalf("issue admin token: %v", err)
	}
	return tok.Token
}

func taskBody(capacity int, payable int64) map[string]interface{} {
	return map[string]interface{}{
		"title":           "Label 50 images",
		"detail":          "Draw bounding boxes",
		"capacity":        capacity,
		"payable_amount":  payable,
		"deadline":        time.Now().Add(48 * time.Hour).Format(time.RFC3339),
		"submission_info": "Link to results",
	}
}

func TestRegisterGrantsAndRejectsAdmin(t *testing.T) {
	env := newTestEnv(t)

	buyer, _ := env.register(t, "buyer@example.com", "buyer")
	if buyer.Balance != coremkt.BuyerSignupGrant {
		t.Fatalf("buyer grant: %d", buyer.Balance)
	}
	worker, _ := env.register(t, "worker@example.com", "worker")
	if worker.Balance != coremkt.WorkerSignupGrant {
		t.Fatalf("worker grant: %d", worker.Balance)
	}

	rec := env.do(t, http.MethodPost, "/api/marketplace/auth/register", "", map[string]string{
		"email": "evil@example.com", "name": "Evil", "role": "admin",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("admin self-registration: status %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/marketplace/auth/register", "", map[string]string{
		"email": "buyer@example.com", "name": "Again", "role": "buyer",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate email: status %d", rec.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/marketplace/tasks", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/marketplace/tasks", "bogus-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status %d", rec.Code)
	}
}

func TestTaskCreationRoleAndFunds(t *testing.T) {
	env := newTestEnv(t)
	_, buyerTok := env.register(t, "buyer@example.com", "buyer")
	_, workerTok := env.register(t, "worker@example.com", "worker")

	rec := env.do(t, http.MethodPost, "/api/marketplace/tasks", workerTok, taskBody(2, 10))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("worker created task: status %d", rec.Code)
	}

	// grant is 50; 2*10=20 fits
	rec = env.do(t, http.MethodPost, "/api/marketplace/tasks", buyerTok, taskBody(2, 10))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create task: status %d body %s", rec.Code, rec.Body.String())
	}

	// remaining balance 30, next escrow needs 100
	rec = env.do(t, http.MethodPost, "/api/marketplace/tasks", buyerTok, taskBody(10, 10))
	if rec.Code != http.StatusConflict {
		t.Fatalf("underfunded create: status %d", rec.Code)
	}
}

func TestSubmissionWorkflowOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	_, buyerTok := env.register(t, "buyer@example.com", "buyer")
	worker, workerTok := env.register(t, "worker@example.com", "worker")

	rec := env.do(t, http.MethodPost, "/api/marketplace/tasks", buyerTok, taskBody(1, 25))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create task: %d %s", rec.Code, rec.Body.String())
	}
	var created struct {
		TaskID string `json:"task_id"`
	}
	decodeBody(t, rec, &created)

	rec = env.do(t, http.MethodPost, "/api/marketplace/submissions", workerTok, map[string]string{
		"task_id": created.TaskID, "details": "all done",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit: %d %s", rec.Code, rec.Body.String())
	}
	var submitted struct {
		SubmissionID string `json:"submission_id"`
	}
	decodeBody(t, rec, &submitted)

	// Buyers cannot submit, workers cannot resolve.
	rec = env.do(t, http.MethodPost, "/api/marketplace/submissions", buyerTok, map[string]string{
		"task_id": created.TaskID, "details": "hah",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("buyer submit: status %d", rec.Code)
	}
	rec = env.do(t, http.MethodPut, "/api/marketplace/submissions/"+submitted.SubmissionID, workerTok, map[string]string{"action": "approve"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("worker resolve: status %d", rec.Code)
	}

	rec = env.do(t, http.MethodPut, "/api/marketplace/submissions/"+submitted.SubmissionID, buyerTok, map[string]string{"action": "approve"})
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/marketplace/users/me", workerTok, nil)
	var me coremkt.Account
	decodeBody(t, rec, &me)
	if me.Balance != coremkt.WorkerSignupGrant+25 {
		t.Fatalf("worker balance after settlement: %d", me.Balance)
	}

	// Settlement notified the worker.
	notes, err := env.store.ListNotifications(context.Background(), worker.Email, 10)
	if err != nil {
		t.Fatalf("ListNotifications: %v", err)
	}
	if len(notes) == 0 {
		t.Fatal("no settlement notification")
	}

	// Second resolution conflicts.
	rec = env.do(t, http.MethodPut, "/api/marketplace/submissions/"+submitted.SubmissionID, buyerTok, map[string]string{"action": "reject"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("re-resolution: status %d", rec.Code)
	}
}

func TestWithdrawalWorkflowOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	worker, workerTok := env.register(t, "worker@example.com", "worker")
	adminTok := env.seedAdmin(t, "admin@example.com")

	if err := env.store.Credit(context.Background(), worker.ID, 490); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	// balance 500

	rec := env.do(t, http.MethodPost, "/api/marketplace/withdrawals", workerTok, map[string]interface{}{
		"coin_amount": 199, "payment_system": "bank", "account_number": "12345",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("below minimum: status %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/marketplace/withdrawals", workerTok, map[string]interface{}{
		"coin_amount": 200, "payment_system": "bank", "account_number": "12345",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("request withdrawal: %d %s", rec.Code, rec.Body.String())
	}
	var requested struct {
		WithdrawalID string `json:"withdrawal_id"`
	}
	decodeBody(t, rec, &requested)

	// Worker cannot decide their own withdrawal.
	rec = env.do(t, http.MethodPut, "/api/marketplace/withdrawals/"+requested.WithdrawalID, workerTok, map[string]string{"action": "approve"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("worker decided: status %d", rec.Code)
	}

	rec = env.do(t, http.MethodPut, "/api/marketplace/withdrawals/"+requested.WithdrawalID, adminTok, map[string]string{"action": "approve"})
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/marketplace/users/me", workerTok, nil)
	var me coremkt.Account
	decodeBody(t, rec, &me)
	if me.Balance != 300 {
		t.Fatalf("balance after payout: %d", me.Balance)
	}
}

func TestAdminGates(t *testing.T) {
	env := newTestEnv(t)
	_, workerTok := env.register(t, "worker@example.com", "worker")
	adminTok := env.seedAdmin(t, "admin@example.com")

	rec := env.do(t, http.MethodGet, "/api/marketplace/users", workerTok, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("worker listed users: status %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/marketplace/users", adminTok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin list users: status %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/marketplace/dashboard/admin-stats", workerTok, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("worker read admin stats: status %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/marketplace/dashboard/worker-stats", workerTok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("worker stats: status %d", rec.Code)
	}
}

func TestPublicEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "worker@example.com", "worker")

	rec := env.do(t, http.MethodGet, "/api/marketplace/stats", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: status %d", rec.Code)
	}
	var stats coremkt.PlatformStats
	decodeBody(t, rec, &stats)
	if stats.TotalUsers != 1 {
		t.Fatalf("total users: %d", stats.TotalUsers)
	}

	rec = env.do(t, http.MethodGet, "/api/marketplace/users/best-workers", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("best workers: status %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: status %d", rec.Code)
	}
}

func TestNotificationInboxScoping(t *testing.T) {
	env := newTestEnv(t)
	worker, workerTok := env.register(t, "worker@example.com", "worker")
	_, otherTok := env.register(t, "other@example.com", "worker")

	if err := env.store.AppendNotification(context.Background(), coremkt.Notification{
		ID: "n-1", ToEmail: worker.Email, Message: "hello",
	}); err != nil {
		t.Fatalf("AppendNotification: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/api/marketplace/notifications", workerTok, nil)
	var inbox struct {
		Notifications []coremkt.Notification `json:"notifications"`
	}
	decodeBody(t, rec, &inbox)
	if len(inbox.Notifications) != 1 {
		t.Fatalf("inbox size: %d", len(inbox.Notifications))
	}

	// Another account cannot mark it read.
	rec = env.do(t, http.MethodPut, "/api/marketplace/notifications/n-1/read", otherTok, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cross-account mark read: status %d", rec.Code)
	}
	rec = env.do(t, http.MethodPut, "/api/marketplace/notifications/n-1/read", workerTok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("mark read: status %d", rec.Code)
	}
}

func TestPaymentEndpointsBuyerOnly(t *testing.T) {
	env := newTestEnv(t)
	buyer, buyerTok := env.register(t, "buyer@example.com", "buyer")
	_, workerTok := env.register(t, "worker@example.com", "worker")

	rec := env.do(t, http.MethodPost, "/api/marketplace/payments", workerTok, map[string]interface{}{
		"coin_amount": 100, "amount_paid": "5.00", "payment_ref": "PAY-x",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("worker recorded payment: status %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/marketplace/payments/checkout", buyerTok, map[string]interface{}{"coin_amount": 100})
	if rec.Code != http.StatusOK {
		t.Fatalf("checkout: %d %s", rec.Code, rec.Body.String())
	}
	var checkout struct {
		PaymentRef string `json:"payment_ref"`
	}
	decodeBody(t, rec, &checkout)
	if checkout.PaymentRef == "" {
		t.Fatal("no payment ref")
	}

	rec = env.do(t, http.MethodGet, "/api/marketplace/payments/qr?ref="+checkout.PaymentRef, buyerTok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("qr: status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("qr content type: %s", ct)
	}

	rec = env.do(t, http.MethodPost, "/api/marketplace/payments", buyerTok, map[string]interface{}{
		"coin_amount": 100, "amount_paid": "5.00", "payment_ref": checkout.PaymentRef,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("record payment: %d %s", rec.Code, rec.Body.String())
	}

	acct, err := env.store.GetAccount(context.Background(), buyer.ID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acct.Balance != coremkt.BuyerSignupGrant+100 {
		t.Fatalf("balance after top-up: %d", acct.Balance)
	}
}
