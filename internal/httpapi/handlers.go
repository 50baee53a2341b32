package httpapi

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"erplite/backend/internal/domain"
	"erplite/backend/internal/excel"
	"erplite/backend/internal/service"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err)
		return
	case errors.Is(err, ErrInactiveAccount):
		writeError(w, http.StatusForbidden, err)
		return
	case err != nil:
		a.fail(w, r, err)
		return
	}

	expiresAt, _ := time.Parse(time.RFC3339, resp.ExpiresAt)
	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookie,
		Value:    resp.AccessToken,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   a.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req domain.UserCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	user, err := a.auth.Register(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// handleCSRFToken returns the token cookie-authenticated clients send in
// X-CSRF-Token on mutating requests.
func (a *API) handleCSRFToken(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrfToken": a.generateCSRFToken(),
	})
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	includeInactive, _ := strconv.ParseBool(r.URL.Query().Get("includeInactive"))
	products, err := a.service.ListProducts(r.Context(), includeInactive)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products, "count": len(products)})
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.ProductByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (a *API) handleGetProductBySKU(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.ProductBySKU(r.Context(), chi.URLParam(r, "sku"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	product, err := a.service.CreateProduct(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	product, err := a.service.UpdateProduct(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (a *API) handleListStock(w http.ResponseWriter, r *http.Request) {
	entries, err := a.service.ListStock(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stock": entries, "count": len(entries)})
}

func (a *API) handleGetStock(w http.ResponseWriter, r *http.Request) {
	entry, err := a.service.Stock(r.Context(), chi.URLParam(r, "productId"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) handleStockMovements(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 500)
	movements, err := a.service.StockMovements(r.Context(), chi.URLParam(r, "productId"), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"movements": movements, "count": len(movements)})
}

func (a *API) handleStockCount(w http.ResponseWriter, r *http.Request) {
	var req domain.StockCountRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	resp, err := a.service.StockCount(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleStockImport(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("failed to parse multipart form"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("file field is required"))
		return
	}
	defer file.Close()

	lines, err := excel.ParseStockCount(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.StockCount(r.Context(), domain.StockCountRequest{
		Notes: strings.TrimSpace(r.FormValue("notes")),
		Lines: lines,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"fileName":  header.Filename,
		"totalRows": len(lines),
		"count":     resp,
	})
}

func (a *API) handleStockExport(w http.ResponseWriter, r *http.Request) {
	report, err := a.service.StockLevelsReport(r.Context(), r.URL.Query().Get("location"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := excel.WriteStockLevels(&buf, report); err != nil {
		a.fail(w, r, err)
		return
	}
	filename := "stock-levels-" + report.GeneratedAt.Format("20060102") + ".xlsx"
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	sales, err := a.service.ListSales(r.Context(), filter)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": sales, "count": len(sales)})
}

// handleRecordSale answers 201 with the new sale, or 200 with the stored
// sale when the idempotency key was seen before.
func (a *API) handleRecordSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	resp, err := a.service.RecordSale(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if resp.Duplicate {
		w.Header().Set("Idempotent-Replay", "true")
		writeJSON(w, http.StatusOK, resp.Sale)
		return
	}
	writeJSON(w, http.StatusCreated, resp.Sale)
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleCancelSale(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeCancel(w, r)
	if !ok {
		return
	}
	sale, err := a.service.CancelSale(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleListPurchases(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	purchases, err := a.service.ListPurchases(r.Context(), filter)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchases": purchases, "count": len(purchases)})
}

func (a *API) handleRecordPurchase(w http.ResponseWriter, r *http.Request) {
	var req domain.PurchaseRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	resp, err := a.service.RecordPurchase(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if resp.Duplicate {
		w.Header().Set("Idempotent-Replay", "true")
		writeJSON(w, http.StatusOK, resp.Purchase)
		return
	}
	writeJSON(w, http.StatusCreated, resp.Purchase)
}

func (a *API) handleGetPurchase(w http.ResponseWriter, r *http.Request) {
	purchase, err := a.service.GetPurchase(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, purchase)
}

func (a *API) handleCancelPurchase(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeCancel(w, r)
	if !ok {
		return
	}
	purchase, err := a.service.CancelPurchase(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, purchase)
}

// decodeCancel reads a cancel request and checks the manager PIN, writing
// the error response itself when either fails.
func (a *API) decodeCancel(w http.ResponseWriter, r *http.Request) (domain.CancelRequest, bool) {
	var req domain.CancelRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return req, false
	}
	if !a.pinLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many manager PIN attempts"))
		return req, false
	}
	if !a.auth.ValidateManagerPIN(req.ManagerPIN) {
		writeError(w, http.StatusForbidden, errors.New("invalid manager PIN"))
		return req, false
	}
	return req, true
}

func (a *API) handleListPayments(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	payments, err := a.service.ListPayments(r.Context(), filter)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": payments, "count": len(payments)})
}

func (a *API) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	var req domain.PaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	payment, err := a.service.RecordPayment(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

func (a *API) handleListCosts(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	costs, err := a.service.ListCosts(r.Context(), filter)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"costs": costs, "count": len(costs)})
}

func (a *API) handleRecordCost(w http.ResponseWriter, r *http.Request) {
	var req domain.CostRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	cost, err := a.service.RecordCost(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cost)
}

func (a *API) handleReport(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	query := r.URL.Query()
	report, err := a.service.Report(r.Context(), chi.URLParam(r, "type"), service.ReportQuery{
		From:     filter.From,
		To:       filter.To,
		Location: query.Get("location"),
		Customer: query.Get("customer"),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.auth.ListUsers(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users, "count": len(users)})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.UserCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	user, err := a.auth.CreateUser(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}
