package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	customerdomain "github.com/facturio/facturio/internal/customer/domain"
	draftdomain "github.com/facturio/facturio/internal/draft/domain"
	"github.com/gin-gonic/gin"
)

type createDraftRequest struct {
	OwnerRef  string `json:"owner_ref"`
	InputType string `json:"input_type"`
	CreatedBy string `json:"created_by"`
}

func (s *Server) CreateDraft(c *gin.Context) {
	var req createDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	create := draftdomain.CreateDraftRequest{
		OwnerRef:  strings.TrimSpace(req.OwnerRef),
		CreatedBy: strings.TrimSpace(req.CreatedBy),
	}
	if inputType, ok := parseInputType(req.InputType); ok {
		create.InputType = &inputType
	}

	resp, err := s.draftSvc.Create(c.Request.Context(), create)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListDrafts(c *gin.Context) {
	var query struct {
		Status string `form:"status"`
		Limit  int    `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req := draftdomain.ListDraftRequest{Limit: query.Limit}
	if status := strings.TrimSpace(query.Status); status != "" {
		parsed := draftdomain.DraftStatus(strings.ToLower(status))
		req.Status = &parsed
	}

	resp, err := s.draftSvc.ListByOrg(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	total, err := s.draftSvc.CountByOrg(c.Request.Context(), req.Status)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp, "total": total})
}

func (s *Server) GetActiveDraft(c *gin.Context) {
	ownerRef := strings.TrimSpace(c.Query("owner_ref"))

	resp, err := s.draftSvc.GetActiveForOwner(c.Request.Context(), ownerRef)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if resp == nil {
		AbortWithError(c, draftdomain.ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetDraftByID(c *gin.Context) {
	resp, err := s.draftSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type recordDraftInputRequest struct {
	RawInput  string `json:"raw_input"`
	InputType string `json:"input_type"`
}

func (s *Server) RecordDraftInput(c *gin.Context) {
	var req recordDraftInputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	inputType, ok := parseInputType(req.InputType)
	if !ok {
		AbortWithError(c, newValidationError("input_type", "invalid_input_type", "invalid input_type"))
		return
	}

	resp, err := s.draftSvc.RecordInput(c.Request.Context(), strings.TrimSpace(c.Param("id")), draftdomain.RecordInputRequest{
		RawInput:  req.RawInput,
		InputType: inputType,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RecordDraftExtraction(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var payload draftdomain.ExtractionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	// Keep the untouched provider response alongside the parsed fields.
	payload.Raw = raw

	resp, err := s.draftSvc.RecordExtraction(c.Request.Context(), strings.TrimSpace(c.Param("id")), payload)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type recordDraftEditRequest struct {
	Field    string `json:"field"`
	OldValue any    `json:"old_value"`
	NewValue any    `json:"new_value"`
	Source   string `json:"source"`
}

func (s *Server) RecordDraftEdit(c *gin.Context) {
	var req recordDraftEditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.draftSvc.RecordEdit(c.Request.Context(), strings.TrimSpace(c.Param("id")), draftdomain.RecordEditRequest{
		Field:    strings.TrimSpace(req.Field),
		OldValue: req.OldValue,
		NewValue: req.NewValue,
		Source:   draftdomain.ChangeSource(strings.TrimSpace(req.Source)),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type updateDraftDataRequest struct {
	Items    *[]draftdomain.DraftItem     `json:"items"`
	Customer *customerdomain.CustomerData `json:"customer"`
	Totals   *draftdomain.DraftTotals     `json:"totals"`
	Source   string                       `json:"source"`
}

func (s *Server) UpdateDraftData(c *gin.Context) {
	var req updateDraftDataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.draftSvc.UpdateData(c.Request.Context(), strings.TrimSpace(c.Param("id")), draftdomain.UpdateDataRequest{
		Items:    req.Items,
		Customer: req.Customer,
		Totals:   req.Totals,
		Source:   draftdomain.ChangeSource(strings.TrimSpace(req.Source)),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) FinalizeDraft(c *gin.Context) {
	resp, err := s.draftSvc.Finalize(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.metrics.RecordInvoiceIssued("draft")

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type cancelDraftRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) CancelDraft(c *gin.Context) {
	var req cancelDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.draftSvc.Cancel(c.Request.Context(), strings.TrimSpace(c.Param("id")), strings.TrimSpace(req.Reason)); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"cancelled": true}})
}

func parseInputType(raw string) (draftdomain.InputType, bool) {
	switch draftdomain.InputType(strings.ToLower(strings.TrimSpace(raw))) {
	case draftdomain.InputTypeText:
		return draftdomain.InputTypeText, true
	case draftdomain.InputTypeVoice:
		return draftdomain.InputTypeVoice, true
	case draftdomain.InputTypePhoto:
		return draftdomain.InputTypePhoto, true
	default:
		return "", false
	}
}
