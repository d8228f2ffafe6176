package inventory

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"laby-backend/internal/platform/auth"
)

type Handler struct{ svc *Service }

func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}

	// 1. 備品カタログ
	r.GET("/equipment", h.ListEquipment)
	r.POST("/equipment", h.CreateEquipment)
	r.GET("/equipment/:id", h.GetEquipment)
	r.PATCH("/equipment/:id", h.UpdateEquipment)
	r.GET("/equipment/:id/movements", h.ListMovements)
	r.POST("/equipment/:id/maintenance", h.ReportMaintenance)

	// 2. 貸出依頼
	r.POST("/requests", h.SubmitRequest)
	r.GET("/requests", h.ListRequests)
	r.GET("/requests/:id", h.GetRequest)
	r.POST("/requests/:id/decision", h.Decide)

	// 3. 貸出記録
	r.GET("/loans", h.ListLoans)
	r.GET("/loans/mine", h.MyLoans)
	r.GET("/loans/overdue", h.OverdueLoans)
	r.GET("/loans/:id", h.GetLoan)
	r.POST("/loans/:id/collect", h.Collect)
	r.POST("/loans/:id/return", h.Return)

	// 4. アラート
	r.GET("/alerts", h.ListAlerts)
	r.GET("/alerts/:id", h.GetAlert)
	r.POST("/alerts/:id/resolve", h.ResolveAlert)
}

// ---------- equipment ----------

// ListEquipment godoc
// @Summary  備品一覧
// @Tags     equipment
// @Produce  json
// @Param    q              query string false "name / category 部分一致"
// @Param    category       query string false "category"
// @Param    low_stock_only query bool   false "しきい値未満のみ"
// @Success  200 {object} ListResponse[EquipmentResponse]
// @Router   /equipment [get]
func (h *Handler) ListEquipment(c *gin.Context) {
	p := pageFrom(c)
	items, err := h.svc.ListEquipment(c.Request.Context(), auth.IdentityFrom(c), ListEquipmentQuery{
		Query:        c.Query("q"),
		Category:     c.Query("category"),
		LowStockOnly: queryBool(c, "low_stock_only"),
		Page:         p,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]EquipmentResponse, 0, len(items))
	for i := range items {
		out = append(out, h.svc.toEquipmentResponse(&items[i]))
	}
	c.JSON(http.StatusOK, ListResponse[EquipmentResponse]{Items: out, Limit: p.Limit, Offset: p.Offset})
}

// CreateEquipment godoc
// @Summary  備品登録（初期在庫は initial_stock として記録）
// @Tags     equipment
// @Accept   json
// @Produce  json
// @Param    body body CreateEquipmentRequest true "equipment"
// @Success  201 {object} EquipmentResponse
// @Router   /equipment [post]
func (h *Handler) CreateEquipment(c *gin.Context) {
	var req CreateEquipmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "", "invalid json or missing required fields"))
		return
	}
	e, err := h.svc.CreateEquipment(c.Request.Context(), auth.IdentityFrom(c), EquipmentInput{
		Name:        req.Name,
		Category:    req.Category,
		Location:    req.Location,
		Condition:   req.Condition,
		Quantity:    req.Quantity,
		Description: req.Description,
		SupplierID:  req.SupplierID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Location", "/equipment/"+formatID(e.ID))
	c.JSON(http.StatusCreated, h.svc.toEquipmentResponse(e))
}

func (h *Handler) GetEquipment(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	e, err := h.svc.GetEquipment(c.Request.Context(), auth.IdentityFrom(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.svc.toEquipmentResponse(e))
}

func (h *Handler) UpdateEquipment(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	var req UpdateEquipmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "", "invalid json"))
		return
	}
	e, err := h.svc.UpdateEquipment(c.Request.Context(), auth.IdentityFrom(c), id, EquipmentPatch{
		Name:          req.Name,
		Category:      req.Category,
		Location:      req.Location,
		Condition:     req.Condition,
		Description:   req.Description,
		SupplierID:    req.SupplierID,
		ClearSupplier: req.ClearSupplier,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.svc.toEquipmentResponse(e))
}

func (h *Handler) ListMovements(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	p := pageFrom(c)
	f := MovementFilter{EquipmentID: &id, Page: p}
	if t, ok := queryTime(c, "from"); ok {
		f.From = &t
	}
	if t, ok := queryTime(c, "to"); ok {
		f.To = &t
	}
	items, err := h.svc.ListMovements(c.Request.Context(), auth.IdentityFrom(c), f)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]MovementResponse, 0, len(items))
	for i := range items {
		out = append(out, toMovementResponse(&items[i]))
	}
	c.JSON(http.StatusOK, ListResponse[MovementResponse]{Items: out, Limit: p.Limit, Offset: p.Offset})
}

func (h *Handler) ReportMaintenance(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	var req MaintenanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "", "invalid json"))
		return
	}
	a, err := h.svc.ReportMaintenance(c.Request.Context(), auth.IdentityFrom(c), id, req.Note)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toAlertResponse(a))
}

// ---------- requests ----------

// SubmitRequest godoc
// @Summary  貸出依頼（在庫チェックは承認時）
// @Tags     requests
// @Accept   json
// @Produce  json
// @Param    body body SubmitRequestRequest true "request"
// @Success  201 {object} RequestResponse
// @Router   /requests [post]
func (h *Handler) SubmitRequest(c *gin.Context) {
	var req SubmitRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "", "invalid json or missing required fields"))
		return
	}
	r, err := h.svc.SubmitRequest(c.Request.Context(), auth.IdentityFrom(c), SubmitInput{
		EquipmentID: req.EquipmentID,
		Quantity:    req.Quantity,
		Purpose:     req.Purpose,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Location", "/requests/"+r.ID)
	c.JSON(http.StatusCreated, toRequestResponse(r))
}

func (h *Handler) ListRequests(c *gin.Context) {
	p := pageFrom(c)
	f := RequestFilter{RequesterID: c.Query("requester_id"), Page: p}
	if v := c.Query("status"); v != "" {
		st := RequestStatus(v)
		f.Status = &st
	}
	if v := c.Query("equipment_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			f.EquipmentID = &id
		}
	}
	items, err := h.svc.ListRequests(c.Request.Context(), auth.IdentityFrom(c), f)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]RequestResponse, 0, len(items))
	for i := range items {
		out = append(out, toRequestResponse(&items[i]))
	}
	c.JSON(http.StatusOK, ListResponse[RequestResponse]{Items: out, Limit: p.Limit, Offset: p.Offset})
}

func (h *Handler) GetRequest(c *gin.Context) {
	r, err := h.svc.GetRequest(c.Request.Context(), auth.IdentityFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRequestResponse(r))
}

// Decide godoc
// @Summary  依頼の承認/却下
// @Tags     requests
// @Accept   json
// @Produce  json
// @Param    id   path string          true "request id"
// @Param    body body DecisionRequest true "decision"
// @Success  200 {object} DecisionResponse
// @Failure  409 {object} errorDTO
// @Router   /requests/{id}/decision [post]
func (h *Handler) Decide(c *gin.Context) {
	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "", "invalid json or missing required fields"))
		return
	}
	action, err := ParseDecision(req.Action)
	if err != nil {
		writeError(c, err)
		return
	}
	in := DecideInput{Action: action, Note: req.Note}
	if req.DueDate != nil && *req.DueDate != "" {
		due, err := ParseDate(*req.DueDate)
		if err != nil {
			writeError(c, withReason(ErrInvalid("invalid due_date format, expected YYYY-MM-DD"), ReasonInvalidDueDate))
			return
		}
		in.DueDate = &due
	}

	res, err := h.svc.Decide(c.Request.Context(), auth.IdentityFrom(c), c.Param("id"), in)
	if err != nil {
		writeError(c, err)
		return
	}
	out := DecisionResponse{Request: toRequestResponse(&res.Request), Alerts: toAlertResponses(res.Alerts)}
	if res.Loan != nil {
		l := toLoanResponse(res.Loan, h.svc.Today())
		out.Loan = &l
	}
	c.JSON(http.StatusOK, out)
}

// ---------- loans ----------

func (h *Handler) ListLoans(c *gin.Context) {
	p := pageFrom(c)
	h.writeLoans(c, p, func() ([]Loan, error) {
		return h.svc.ListLoans(c.Request.Context(), auth.IdentityFrom(c), LoanQuery{
			UserID:        c.Query("user_id"),
			EquipmentName: c.Query("equipment_name"),
			OpenOnly:      queryBool(c, "open"),
			OverdueOnly:   queryBool(c, "overdue"),
			Page:          p,
		})
	})
}

func (h *Handler) MyLoans(c *gin.Context) {
	id := auth.IdentityFrom(c)
	h.writeLoans(c, Page{}, func() ([]Loan, error) {
		return h.svc.OpenLoansForUser(c.Request.Context(), id, id.UserID)
	})
}

func (h *Handler) OverdueLoans(c *gin.Context) {
	h.writeLoans(c, Page{}, func() ([]Loan, error) {
		return h.svc.OverdueLoans(c.Request.Context(), auth.IdentityFrom(c))
	})
}

func (h *Handler) writeLoans(c *gin.Context, p Page, fetch func() ([]Loan, error)) {
	items, err := fetch()
	if err != nil {
		writeError(c, err)
		return
	}
	today := h.svc.Today()
	out := make([]LoanResponse, 0, len(items))
	for i := range items {
		out = append(out, toLoanResponse(&items[i], today))
	}
	c.JSON(http.StatusOK, ListResponse[LoanResponse]{Items: out, Limit: p.Limit, Offset: p.Offset})
}

func (h *Handler) GetLoan(c *gin.Context) {
	l, err := h.svc.GetLoan(c.Request.Context(), auth.IdentityFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toLoanResponse(l, h.svc.Today()))
}

func (h *Handler) Collect(c *gin.Context) {
	var req CollectRequest
	// body は省略可（借主本人が受け取り）
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "", "invalid json"))
			return
		}
	}
	l, err := h.svc.MarkCollected(c.Request.Context(), auth.IdentityFrom(c), c.Param("id"), req.CollectorID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toLoanResponse(l, h.svc.Today()))
}

// Return godoc
// @Summary  返却登録（破損時は在庫から差し引き、アラートを発行）
// @Tags     loans
// @Accept   json
// @Produce  json
// @Param    id   path string        true "loan id"
// @Param    body body ReturnRequest true "return"
// @Success  200 {object} CloseResponse
// @Failure  409 {object} errorDTO
// @Router   /loans/{id}/return [post]
func (h *Handler) Return(c *gin.Context) {
	var req ReturnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "", "invalid json"))
		return
	}
	penalty := decimal.Zero
	if req.PenaltyAmount != nil {
		penalty = *req.PenaltyAmount
	}
	res, err := h.svc.CloseLoan(c.Request.Context(), auth.IdentityFrom(c), c.Param("id"), ReturnInput{
		IsDamaged:     req.IsDamaged,
		DamageReport:  req.DamageReport,
		PenaltyAmount: penalty,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	out := CloseResponse{
		Loan:      toLoanResponse(&res.Loan, h.svc.Today()),
		Equipment: h.svc.toEquipmentResponse(&res.Equipment),
		Alerts:    toAlertResponses(res.Alerts),
	}
	if res.Movement != nil {
		m := toMovementResponse(res.Movement)
		out.Movement = &m
	}
	c.JSON(http.StatusOK, out)
}

// ---------- alerts ----------

func (h *Handler) ListAlerts(c *gin.Context) {
	p := pageFrom(c)
	f := AlertFilter{ActiveOnly: queryBool(c, "active"), Page: p}
	if v := c.Query("equipment_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			f.EquipmentID = &id
		}
	}
	if v := c.Query("kind"); v != "" {
		k := AlertKind(v)
		f.Kind = &k
	}
	items, err := h.svc.ListAlerts(c.Request.Context(), auth.IdentityFrom(c), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ListResponse[AlertResponse]{Items: toAlertResponses(items), Limit: p.Limit, Offset: p.Offset})
}

func (h *Handler) GetAlert(c *gin.Context) {
	a, err := h.svc.GetAlert(c.Request.Context(), auth.IdentityFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAlertResponse(a))
}

// ResolveAlert godoc
// @Summary  アラート解決（discard: 品目を破棄 / restock: 在庫+1）
// @Tags     alerts
// @Accept   json
// @Produce  json
// @Param    id   path string         true "alert id"
// @Param    body body ResolveRequest true "resolution"
// @Success  200 {object} ResolveResponse
// @Router   /alerts/{id}/resolve [post]
func (h *Handler) ResolveAlert(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "", "invalid json or missing required fields"))
		return
	}
	action, err := ParseResolution(req.Action)
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := h.svc.ResolveAlert(c.Request.Context(), auth.IdentityFrom(c), c.Param("id"), action)
	if err != nil {
		writeError(c, err)
		return
	}
	out := ResolveResponse{Alert: toAlertResponse(&res.Alert), RejectedRequests: res.RejectedRequests}
	if res.Equipment != nil {
		e := h.svc.toEquipmentResponse(res.Equipment)
		out.Equipment = &e
	}
	if res.Movement != nil {
		m := toMovementResponse(res.Movement)
		out.Movement = &m
	}
	c.JSON(http.StatusOK, out)
}

// ---------- helpers ----------

func parseIntDefault(s string, d int) int {
	if s == "" {
		return d
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return d
	}
	return v
}

func pageFrom(c *gin.Context) Page {
	limit := parseIntDefault(c.Query("limit"), 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset := parseIntDefault(c.Query("offset"), 0)
	if offset < 0 {
		offset = 0
	}
	return Page{Limit: limit, Offset: offset}
}

func queryBool(c *gin.Context, key string) bool {
	b, _ := strconv.ParseBool(c.Query(key))
	return b
}

// queryTime: RFC3339 か YYYY-MM-DD を受ける
func queryTime(c *gin.Context, key string) (time.Time, bool) {
	v := c.Query(key)
	if v == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, true
	}
	if t, err := time.Parse(DateLayout, v); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func int64Param(c *gin.Context, key string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(key), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "", key+" must be a positive integer"))
		return 0, false
	}
	return id, true
}

type errorDTO struct {
	Error struct {
		Code    Code   `json:"code"`
		Reason  Reason `json:"reason,omitempty"`
		Message string `json:"message"`
	} `json:"error"`
}

func errorBody(code Code, reason Reason, msg string) errorDTO {
	var e errorDTO
	e.Error.Code = code
	e.Error.Reason = reason
	e.Error.Message = msg
	return e
}

func errorFromErr(err error) errorDTO {
	var api *APIError
	if errors.As(err, &api) {
		return errorBody(api.Code, api.Reason, api.Message)
	}
	// 内部エラーの詳細はレスポンスに出さない
	return errorBody(CodeInternal, "", "internal error")
}

func writeError(c *gin.Context, err error) {
	if CodeOf(err) == CodeInternal {
		_ = c.Error(err)
	}
	c.JSON(ToHTTPStatus(err), errorFromErr(err))
}
