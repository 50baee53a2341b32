package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"erplite/backend/internal/domain"
	"erplite/backend/internal/service"
	"erplite/backend/internal/store/memory"
)

const testManagerPIN = "739154"

// newTestAPI builds a full API over a seeded in-memory store, a real
// AuthManager and a real Service so handler tests exercise the complete
// request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, nil, nil, service.Options{}, nil)
	auth := NewAuthManager("test-secret-key-0123456789abcdef!", time.Hour, testManagerPIN, repo, nil)

	return New(svc, auth, Options{AllowedOrigin: "*"}, nil)
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v (body: %s)", err, rec.Body.String())
	}
	return out
}

func loginToken(t *testing.T, handler http.Handler, email, password string) string {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Email: email, Password: password})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d (body: %s)", email, rec.Code, rec.Body.String())
	}
	return decodeBody[domain.LoginResponse](t, rec).AccessToken
}

func managerToken(t *testing.T, handler http.Handler) string {
	return loginToken(t, handler, "manager@erplite.local", "manager123")
}

func productBySKU(t *testing.T, handler http.Handler, token, sku string) domain.Product {
	t.Helper()
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/products/sku/"+sku, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get product %s: expected 200, got %d", sku, rec.Code)
	}
	return decodeBody[domain.Product](t, rec)
}

func stockOf(t *testing.T, handler http.Handler, token, productID string) int {
	t.Helper()
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/stock/"+productID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get stock: expected 200, got %d", rec.Code)
	}
	return decodeBody[domain.StockEntry](t, rec).Quantity
}

func TestHandleHealth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	for _, path := range []string{"/healthz", "/api/v1/healthz"} {
		rec := doJSON(t, handler, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
		body := decodeBody[map[string]any](t, rec)
		if body["ok"] != true {
			t.Fatalf("%s: expected ok:true, got %v", path, body["ok"])
		}
	}
}

func TestHandleLogin_Success(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
		Email:    "Admin@ERPLite.local",
		Password: "admin123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == tokenCookie {
			cookie = c
		}
	}
	if cookie == nil || !cookie.HttpOnly {
		t.Fatalf("expected HttpOnly %s cookie, got %+v", tokenCookie, cookie)
	}

	resp := decodeBody[domain.LoginResponse](t, rec)
	if resp.AccessToken == "" || resp.AccessToken != cookie.Value {
		t.Fatalf("expected access token to match cookie")
	}
	if resp.Role != domain.RoleAdmin {
		t.Fatalf("expected admin role, got %q", resp.Role)
	}
}

func TestHandleLogin_WrongPassword(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
		Email:    "admin@erplite.local",
		Password: "nope-nope",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/products", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/products", "garbage", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", rec.Code)
	}
}

func TestCreateProductAndLookupBySKU(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := managerToken(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/products", token, domain.ProductCreateRequest{
		SKU:          "cab-usb-c",
		Name:         "USB-C Cable",
		Category:     "Accessories",
		CostPrice:    decimal.RequireFromString("2.10"),
		SellingPrice: decimal.RequireFromString("6.50"),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	created := decodeBody[domain.Product](t, rec)

	got := productBySKU(t, handler, token, created.SKU)
	if got.ID != created.ID {
		t.Fatalf("expected %s, got %s", created.ID, got.ID)
	}
	if stock := stockOf(t, handler, token, created.ID); stock != 0 {
		t.Fatalf("expected new product to start with 0 stock, got %d", stock)
	}

	dup := doJSON(t, handler, http.MethodPost, "/api/v1/products", token, domain.ProductCreateRequest{
		SKU:          created.SKU,
		Name:         "Again",
		Category:     "Accessories",
		CostPrice:    decimal.RequireFromString("1"),
		SellingPrice: decimal.RequireFromString("2"),
	})
	if dup.Code != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate SKU, got %d", dup.Code)
	}
}

func TestCreateProductValidationReportsViolations(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := managerToken(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/products", token, map[string]any{"name": "No SKU"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	body := decodeBody[map[string]any](t, rec)
	violations, ok := body["violations"].(map[string]any)
	if !ok || violations["sku"] == nil {
		t.Fatalf("expected sku violation, got %v", body)
	}
}

func TestUserRoleCannotManageCatalog(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/register", "", domain.UserCreateRequest{
		Name:     "Clerk",
		Email:    "clerk@erplite.local",
		Password: "clerk-pass-1",
		Role:     domain.RoleAdmin,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if user := decodeBody[domain.UserAccount](t, rec); user.Role != domain.RoleUser {
		t.Fatalf("expected self-registered role user, got %q", user.Role)
	}

	token := loginToken(t, handler, "clerk@erplite.local", "clerk-pass-1")
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/products", token, domain.ProductCreateRequest{SKU: "x"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/products", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected clerk to list products, got %d", rec.Code)
	}
}

func TestRecordSaleReplaysIdempotencyKey(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := managerToken(t, handler)
	product := productBySKU(t, handler, token, "KEY-100")
	before := stockOf(t, handler, token, product.ID)

	req := domain.SaleRequest{
		CustomerID:     "CUST-001",
		ProductID:      product.ID,
		Quantity:       3,
		IdempotencyKey: "order-7781",
	}
	first := doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, req)
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", first.Code, first.Body.String())
	}
	sale := decodeBody[domain.Sale](t, first)
	if !sale.Total.Equal(decimal.RequireFromString("179.7")) {
		t.Fatalf("expected total 179.7, got %s", sale.Total)
	}

	second := doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, req)
	if second.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d", second.Code)
	}
	if second.Header().Get("Idempotent-Replay") != "true" {
		t.Fatalf("expected Idempotent-Replay header")
	}
	if replay := decodeBody[domain.Sale](t, second); replay.ID != sale.ID {
		t.Fatalf("expected replay of %s, got %s", sale.ID, replay.ID)
	}

	if after := stockOf(t, handler, token, product.ID); after != before-3 {
		t.Fatalf("expected stock %d, got %d", before-3, after)
	}
}

func TestRecordSaleInsufficientStockConflict(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := managerToken(t, handler)
	product := productBySKU(t, handler, token, "DSK-310")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, domain.SaleRequest{
		CustomerID: "CUST-002",
		ProductID:  product.ID,
		Quantity:   10_000,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestCancelSaleRequiresManagerPIN(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := managerToken(t, handler)
	product := productBySKU(t, handler, token, "MOU-200")
	before := stockOf(t, handler, token, product.ID)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, domain.SaleRequest{
		CustomerID: "CUST-003",
		ProductID:  product.ID,
		Quantity:   5,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	sale := decodeBody[domain.Sale](t, rec)

	path := "/api/v1/sales/" + sale.ID + "/cancel"
	rec = doJSON(t, handler, http.MethodPost, path, token, domain.CancelRequest{Reason: "typo", ManagerPIN: "000001"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with wrong PIN, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, path, token, domain.CancelRequest{Reason: "typo", ManagerPIN: testManagerPIN})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if cancelled := decodeBody[domain.Sale](t, rec); cancelled.Status != domain.StatusCancelled {
		t.Fatalf("expected cancelled, got %q", cancelled.Status)
	}
	if after := stockOf(t, handler, token, product.ID); after != before {
		t.Fatalf("expected stock restored to %d, got %d", before, after)
	}

	rec = doJSON(t, handler, http.MethodPost, path, token, domain.CancelRequest{Reason: "again", ManagerPIN: testManagerPIN})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second cancel, got %d", rec.Code)
	}
}

func TestPaymentUpdatesSaleStatus(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := managerToken(t, handler)
	product := productBySKU(t, handler, token, "PPR-A4")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, domain.SaleRequest{
		CustomerID: "CUST-004",
		ProductID:  product.ID,
		Quantity:   2,
	})
	sale := decodeBody[domain.Sale](t, rec)

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/payments", token, domain.PaymentRequest{
		Amount:    decimal.RequireFromString("5"),
		Method:    "cash",
		Type:      domain.PaymentTypeSale,
		RelatedID: sale.ID,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/sales/"+sale.ID, token, nil)
	if got := decodeBody[domain.Sale](t, rec); got.PaymentStatus != domain.PaymentStatusPartial {
		t.Fatalf("expected partial, got %q", got.PaymentStatus)
	}
}

func TestListSalesRejectsBadDate(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := managerToken(t, handler)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/sales?from=yesterday", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestReportTypes(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := managerToken(t, handler)

	for _, reportType := range service.ReportTypes {
		rec := doJSON(t, handler, http.MethodGet, "/api/v1/reports/"+reportType, token, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d (body: %s)", reportType, rec.Code, rec.Body.String())
		}
	}

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/reports/astrology", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown report, got %d", rec.Code)
	}
}

func TestStockExportThenImport(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := managerToken(t, handler)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/stock/export", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export: expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != xlsxContentType {
		t.Fatalf("unexpected content type %q", ct)
	}
	workbook := rec.Body.Bytes()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "levels.xlsx")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(workbook); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	_ = writer.WriteField("notes", "monthly count")
	_ = writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/stock/import", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusCreated {
		t.Fatalf("import: expected 201, got %d (body: %s)", res.Code, res.Body.String())
	}
	result := decodeBody[map[string]any](t, res)
	if rows, _ := result["totalRows"].(float64); rows != 8 {
		t.Fatalf("expected 8 rows, got %v", result["totalRows"])
	}
}

func TestStockImportRejectsMissingFile(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := managerToken(t, handler)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	_ = writer.WriteField("notes", "nothing attached")
	_ = writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/stock/import", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}
