package server

import (
	"net/http"
	"strings"
	"time"

	invoicedomain "github.com/facturio/facturio/internal/invoice/domain"
	"github.com/gin-gonic/gin"
)

type invoiceItemRequest struct {
	Description string   `json:"description"`
	Quantity    int64    `json:"quantity"`
	UnitPrice   int64    `json:"unit_price"`
	Material    string   `json:"material"`
	WeightGrams *float64 `json:"weight_grams"`
	Category    string   `json:"category"`
}

func commitItems(items []invoiceItemRequest) []invoicedomain.CommitItem {
	out := make([]invoicedomain.CommitItem, 0, len(items))
	for _, item := range items {
		out = append(out, invoicedomain.CommitItem{
			Description: strings.TrimSpace(item.Description),
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Material:    strings.TrimSpace(item.Material),
			WeightGrams: item.WeightGrams,
			Category:    strings.TrimSpace(item.Category),
		})
	}
	return out
}

type issueInvoiceRequest struct {
	Items    []invoiceItemRequest `json:"items"`
	Customer *customerPayload     `json:"customer"`
	Totals   *struct {
		Subtotal int64 `json:"subtotal"`
		Discount int64 `json:"discount"`
		Tax      int64 `json:"tax"`
		Total    int64 `json:"total"`
	} `json:"totals"`
	Notes     string `json:"notes"`
	CreatedBy string `json:"created_by"`
}

func (s *Server) IssueInvoice(c *gin.Context) {
	var req issueInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	snapshot := invoicedomain.CommitSnapshot{
		Items:     commitItems(req.Items),
		Notes:     strings.TrimSpace(req.Notes),
		Prefix:    s.cfg.InvoicePrefix,
		CreatedBy: strings.TrimSpace(req.CreatedBy),
	}
	if req.Customer != nil {
		snapshot.Customer = req.Customer.data()
	}
	if req.Totals != nil {
		snapshot.Totals = invoicedomain.CommitTotals{
			Subtotal:      req.Totals.Subtotal,
			Discount:      req.Totals.Discount,
			Tax:           req.Totals.Tax,
			Total:         req.Totals.Total,
			Authoritative: true,
		}
	}

	resp, err := s.invoiceSvc.Issue(c.Request.Context(), snapshot)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.metrics.RecordInvoiceIssued("direct")

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListInvoices(c *gin.Context) {
	var query struct {
		Status      string `form:"status"`
		CustomerID  string `form:"customer_id"`
		Number      string `form:"number"`
		CreatedFrom string `form:"created_from"`
		CreatedTo   string `form:"created_to"`
		Limit       int    `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req := invoicedomain.ListInvoiceRequest{
		CustomerID: strings.TrimSpace(query.CustomerID),
		Number:     strings.TrimSpace(query.Number),
		Limit:      query.Limit,
	}
	if status := strings.TrimSpace(query.Status); status != "" {
		parsed := invoicedomain.InvoiceStatus(strings.ToUpper(status))
		req.Status = &parsed
	}

	createdFrom, err := parseOptionalTime(query.CreatedFrom)
	if err != nil {
		AbortWithError(c, newValidationError("created_from", "invalid_created_from", "invalid created_from"))
		return
	}
	req.CreatedFrom = createdFrom

	createdTo, err := parseOptionalTime(query.CreatedTo)
	if err != nil {
		AbortWithError(c, newValidationError("created_to", "invalid_created_to", "invalid created_to"))
		return
	}
	req.CreatedTo = createdTo

	resp, err := s.invoiceSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))

	// A prefixed value is an invoice number, not a snowflake id.
	if strings.Contains(id, "-") {
		resp, err := s.invoiceSvc.GetByNumber(c.Request.Context(), id)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": resp})
		return
	}

	resp, err := s.invoiceSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type reviseInvoiceRequest struct {
	Items     []invoiceItemRequest `json:"items"`
	UpdatedBy string               `json:"updated_by"`
}

func (s *Server) ReviseInvoice(c *gin.Context) {
	var req reviseInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.invoiceSvc.Update(c.Request.Context(), invoicedomain.UpdateInvoiceRequest{
		ID:        strings.TrimSpace(c.Param("id")),
		Items:     commitItems(req.Items),
		UpdatedBy: strings.TrimSpace(req.UpdatedBy),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type updateInvoiceStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) UpdateInvoiceStatus(c *gin.Context) {
	var req updateInvoiceStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	status := invoicedomain.InvoiceStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	switch status {
	case invoicedomain.InvoiceStatusPaid, invoicedomain.InvoiceStatusVoid:
	default:
		AbortWithError(c, newValidationError("status", "invalid_status", "invalid status"))
		return
	}

	resp, err := s.invoiceSvc.UpdateStatus(c.Request.Context(), strings.TrimSpace(c.Param("id")), status)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListInvoiceItems(c *gin.Context) {
	resp, err := s.invoiceSvc.ListItems(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetInvoiceItem(c *gin.Context) {
	resp, err := s.invoiceSvc.GetItem(c.Request.Context(), strings.TrimSpace(c.Param("itemId")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RenderInvoice(c *gin.Context) {
	resp, err := s.invoiceSvc.RenderData(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func parseOptionalTime(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
