package reports

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"laby-backend/internal/equipment_mgmt/inventory"
	"laby-backend/internal/platform/auth"
)

type Handler struct{ exp *Exporter }

func RegisterRoutes(r gin.IRoutes, exp *Exporter) {
	h := &Handler{exp: exp}
	r.GET("/reports/loans.csv", h.Loans)
	r.GET("/reports/overdue.csv", h.Overdue)
	r.GET("/reports/movements.csv", h.Movements)
}

// Loans godoc
// @Summary  貸出記録 CSV
// @Tags     reports
// @Produce  text/csv
// @Param    encoding       query string false "utf8 | utf8bom | sjis"
// @Param    user_id        query string false "user id"
// @Param    equipment_name query string false "備品名 部分一致"
// @Param    open           query bool   false "未返却のみ"
// @Router   /reports/loans.csv [get]
func (h *Handler) Loans(c *gin.Context) {
	open, _ := strconv.ParseBool(c.Query("open"))
	q := inventory.LoanQuery{
		UserID:        c.Query("user_id"),
		EquipmentName: c.Query("equipment_name"),
		OpenOnly:      open,
	}
	h.serve(c, "loans", func(buf *bytes.Buffer, enc Encoding) error {
		return h.exp.WriteLoans(c.Request.Context(), auth.IdentityFrom(c), buf, enc, q)
	})
}

func (h *Handler) Overdue(c *gin.Context) {
	h.serve(c, "overdue", func(buf *bytes.Buffer, enc Encoding) error {
		return h.exp.WriteOverdue(c.Request.Context(), auth.IdentityFrom(c), buf, enc)
	})
}

func (h *Handler) Movements(c *gin.Context) {
	var f inventory.MovementFilter
	if v := c.Query("equipment_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, errBody(inventory.CodeInvalidArgument, "equipment_id must be an integer"))
			return
		}
		f.EquipmentID = &id
	}
	h.serve(c, "movements", func(buf *bytes.Buffer, enc Encoding) error {
		return h.exp.WriteMovements(c.Request.Context(), auth.IdentityFrom(c), buf, enc, f)
	})
}

// serve: 全部書けてから返す（途中で失敗したら JSON エラーにする）
func (h *Handler) serve(c *gin.Context, name string, write func(*bytes.Buffer, Encoding) error) {
	enc, err := ParseEncoding(c.Query("encoding"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errBody(inventory.CodeInvalidArgument, err.Error()))
		return
	}
	var buf bytes.Buffer
	if err := write(&buf, enc); err != nil {
		var api *inventory.APIError
		if errors.As(err, &api) {
			c.JSON(inventory.ToHTTPStatus(err), errBody(api.Code, api.Message))
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, errBody(inventory.CodeInternal, "internal error"))
		return
	}
	filename := name + "_" + time.Now().Format("20060102") + ".csv"
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "text/csv; charset="+enc.Charset(), buf.Bytes())
}

func errBody(code inventory.Code, msg string) gin.H {
	return gin.H{"error": gin.H{"code": code, "message": msg}}
}
