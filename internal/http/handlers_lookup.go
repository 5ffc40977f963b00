package http

import (
	"errors"
	"net/http"

	"ainopay/internal/core"
	"ainopay/internal/log"
)

type categoryRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=100"`
	Description string `json:"description" validate:"max=500"`
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.svc.Lookups.Categories(r.Context())
	if err != nil {
		writeServiceError(w, r, err, log.OpList)
		return
	}
	if categories == nil {
		categories = []core.Category{}
	}
	NewJSONResponse().Data(categories).Write(w)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if rerr := decodeJSON(w, r, &req); rerr != nil {
		rerr.write(w)
		return
	}
	c, err := s.svc.Lookups.CreateCategory(r.Context(), sanitizeInput(req.Name), sanitizeInput(req.Description))
	if err != nil {
		if errors.Is(err, core.ErrConflict) {
			ErrorResponse(http.StatusConflict, "Category already exists").Write(w)
			return
		}
		writeServiceError(w, r, err, log.OpCreate)
		return
	}
	NewJSONResponse().
		Status(http.StatusCreated).
		Message("Category created successfully").
		Data(c).
		Write(w)
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		BadRequestError("Invalid category ID").Write(w)
		return
	}
	if err := s.svc.Lookups.DeleteCategory(r.Context(), id); err != nil {
		if errors.Is(err, core.ErrConflict) {
			ErrorResponse(http.StatusConflict, "Category is in use").Write(w)
			return
		}
		writeServiceError(w, r, err, log.OpDelete)
		return
	}
	NewJSONResponse().Message("Category deleted successfully").Write(w)
}

func (s *Server) handleListPaymentMethods(w http.ResponseWriter, r *http.Request) {
	methods, err := s.svc.Lookups.PaymentMethods(r.Context())
	if err != nil {
		writeServiceError(w, r, err, log.OpList)
		return
	}
	if methods == nil {
		methods = []core.PaymentMethod{}
	}
	NewJSONResponse().Data(methods).Write(w)
}
