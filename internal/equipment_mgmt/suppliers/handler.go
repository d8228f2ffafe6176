package suppliers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"laby-backend/internal/platform/auth"
)

type Handler struct{ svc *Service }

func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}

	r.GET("/suppliers", h.List)
	r.POST("/suppliers", h.Create)
	r.GET("/suppliers/:id", h.Get)
	r.PATCH("/suppliers/:id", h.Update)
	r.DELETE("/suppliers/:id", h.Delete)
}

// Create godoc
// @Summary  仕入先登録
// @Tags     suppliers
// @Accept   json
// @Produce  json
// @Param    body body CreateSupplierRequest true "supplier"
// @Success  201 {object} Supplier
// @Router   /suppliers [post]
func (h *Handler) Create(c *gin.Context) {
	var req CreateSupplierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apiErr(CodeInvalidArgument, "invalid json or missing required fields"))
		return
	}
	sp, err := h.svc.Create(c.Request.Context(), auth.IdentityFrom(c), req)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.Header("Location", "/suppliers/"+strconv.FormatInt(sp.ID, 10))
	c.JSON(http.StatusCreated, sp)
}

func (h *Handler) Get(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	sp, err := h.svc.Get(c.Request.Context(), auth.IdentityFrom(c), id)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, sp)
}

func (h *Handler) Update(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req UpdateSupplierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apiErr(CodeInvalidArgument, "invalid json"))
		return
	}
	sp, err := h.svc.Update(c.Request.Context(), auth.IdentityFrom(c), id, req)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, sp)
}

func (h *Handler) Delete(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), auth.IdentityFrom(c), id); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) List(c *gin.Context) {
	p := Page{Limit: atoiDef(c.Query("limit"), 50), Offset: atoiDef(c.Query("offset"), 0)}
	items, err := h.svc.List(c.Request.Context(), auth.IdentityFrom(c), c.Query("q"), p)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "limit": p.Limit, "offset": p.Offset})
}

// ---- helpers ----

func atoiDef(s string, d int) int {
	if v, err := strconv.Atoi(s); err == nil && v >= 0 {
		return v
	}
	return d
}

func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, apiErr(CodeInvalidArgument, "id must be a positive integer"))
		return 0, false
	}
	return id, true
}

type errorDTO struct {
	Error struct {
		Code    Code   `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func apiErr(code Code, msg string) errorDTO {
	var e errorDTO
	e.Error.Code = code
	e.Error.Message = msg
	return e
}

func writeErr(c *gin.Context, err error) {
	var api *APIError
	if errors.As(err, &api) {
		c.JSON(toHTTPStatus(err), apiErr(api.Code, api.Message))
		return
	}
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, apiErr(CodeInternal, "internal error"))
}
