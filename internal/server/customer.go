package server

import (
	"net/http"
	"strings"

	customerdomain "github.com/facturio/facturio/internal/customer/domain"
	"github.com/gin-gonic/gin"
)

type customerPayload struct {
	Name       string `json:"name"`
	NationalID string `json:"national_id"`
	Phone      string `json:"phone"`
	Email      string `json:"email"`
	Address    string `json:"address"`
	City       string `json:"city"`
	Notes      string `json:"notes"`
}

func (p customerPayload) data() customerdomain.CustomerData {
	return customerdomain.CustomerData{
		Name:       strings.TrimSpace(p.Name),
		NationalID: strings.TrimSpace(p.NationalID),
		Phone:      strings.TrimSpace(p.Phone),
		Email:      strings.TrimSpace(p.Email),
		Address:    strings.TrimSpace(p.Address),
		City:       strings.TrimSpace(p.City),
		Notes:      strings.TrimSpace(p.Notes),
	}
}

type resolveCustomerRequest struct {
	customerPayload
	CreatedBy string `json:"created_by"`
}

func (s *Server) ResolveCustomer(c *gin.Context) {
	var req resolveCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.customerSvc.Resolve(c.Request.Context(), customerdomain.ResolveCustomerRequest{
		Data:      req.data(),
		CreatedBy: strings.TrimSpace(req.CreatedBy),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListCustomers(c *gin.Context) {
	var query struct {
		Search string `form:"search"`
		Limit  int    `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.customerSvc.List(c.Request.Context(), customerdomain.ListCustomerRequest{
		Search: strings.TrimSpace(query.Search),
		Limit:  query.Limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetCustomerByID(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	resp, err := s.customerSvc.GetByID(c.Request.Context(), customerdomain.GetCustomerRequest{
		ID: id,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type updateCustomerRequest struct {
	customerPayload
	UpdatedBy string `json:"updated_by"`
}

func (s *Server) UpdateCustomer(c *gin.Context) {
	var req updateCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.customerSvc.Update(c.Request.Context(), customerdomain.UpdateCustomerRequest{
		ID:        strings.TrimSpace(c.Param("id")),
		Data:      req.data(),
		UpdatedBy: strings.TrimSpace(req.UpdatedBy),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteCustomer(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	actor := strings.TrimSpace(c.Query("actor"))

	if err := s.customerSvc.SoftDelete(c.Request.Context(), id, actor); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"deleted": true}})
}
