package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/quantleap/tradecrm/internal/services"
	"github.com/quantleap/tradecrm/pkg/response"
)

// UserHandler exposes user management endpoints.
type UserHandler struct {
	users *services.UserService
}

func NewUserHandler(users *services.UserService) *UserHandler {
	return &UserHandler{users: users}
}

type createUserRequest struct {
	Username  string `json:"username" validate:"required,min=3,max=64"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
}

type updateUserRequest struct {
	Username  *string `json:"username"`
	Email     *string `json:"email"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
}

type setRoleRequest struct {
	Role string `json:"role" validate:"required"`
}

// GET /api/users
func (h *UserHandler) List(c *gin.Context) {
	opts := services.ListUsersOptions{
		Page:     parseIntQuery(c, "page", 1),
		PageSize: parseIntQuery(c, "per_page", 50),
		Filters: services.UserFilters{
			Role:  strings.TrimSpace(c.Query("role")),
			Query: strings.TrimSpace(c.Query("q")),
		},
	}
	switch strings.ToLower(c.Query("active")) {
	case "true":
		active := true
		opts.Filters.IsActive = &active
	case "false":
		active := false
		opts.Filters.IsActive = &active
	}

	users, total, err := h.users.List(requestContext(c), opts)
	if err != nil {
		response.Error(c, err)
		return
	}

	perPage := opts.PageSize
	if perPage <= 0 {
		perPage = 50
	}
	totalPages := int((total + int64(perPage) - 1) / int64(perPage))

	response.SuccessWithMeta(c, http.StatusOK, users, &response.Meta{
		Page:       opts.Page,
		PerPage:    perPage,
		Total:      int(total),
		TotalPages: totalPages,
	})
}

// GET /api/users/:id
func (h *UserHandler) Get(c *gin.Context) {
	user, err := h.users.GetByID(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

// POST /api/users
func (h *UserHandler) Create(c *gin.Context) {
	var req createUserRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.Create(requestContext(c), services.CreateUserInput{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      req.Role,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, user)
}

// PATCH /api/users/:id
func (h *UserHandler) Update(c *gin.Context) {
	var req updateUserRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.Update(requestContext(c), c.Param("id"), services.UpdateUserInput{
		Username:  req.Username,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

// PUT /api/users/:id/role
func (h *UserHandler) SetRole(c *gin.Context) {
	var req setRoleRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.SetRole(requestContext(c), c.Param("id"), req.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

// POST /api/users/:id/activate
func (h *UserHandler) Activate(c *gin.Context) {
	h.setActive(c, true)
}

// POST /api/users/:id/deactivate
func (h *UserHandler) Deactivate(c *gin.Context) {
	h.setActive(c, false)
}

func (h *UserHandler) setActive(c *gin.Context, active bool) {
	if err := h.users.SetActive(requestContext(c), c.Param("id"), active); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"is_active": active})
}

// DELETE /api/users/:id
func (h *UserHandler) Delete(c *gin.Context) {
	if err := h.users.Delete(requestContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}
