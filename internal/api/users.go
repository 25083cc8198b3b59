package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	ipa "github.com/netresearch/ipa-admin-portal"
	"github.com/netresearch/ipa-admin-portal/internal/bulk"
	"github.com/netresearch/ipa-admin-portal/internal/excel"
	"github.com/netresearch/ipa-admin-portal/internal/translit"
)

// writeDirectoryError maps a failed directory call of a single-item request
// to a problem response. The directory's message is passed on verbatim.
func writeDirectoryError(w http.ResponseWriter, err error) {
	detail := ipa.UpstreamMessage(err)
	switch {
	case ipa.IsNotFoundError(err):
		notFound(w, detail)
	case ipa.IsAuthenticationError(err):
		unauthorized(w, detail)
	default:
		badGateway(w, detail)
	}
}

func (s *Server) handleShowUser(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "id")
	user, err := directoryOf(r).ShowUser(r.Context(), uid)
	if err != nil {
		writeDirectoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type searchResponse struct {
	Query string     `json:"query"`
	Count int        `json:"count"`
	Users []ipa.User `json:"users"`
}

func (s *Server) handleSearchByEmail(w http.ResponseWriter, r *http.Request) {
	query := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "email")))
	if query == "" {
		badRequest(w, "email is required")
		return
	}
	users, err := directoryOf(r).FindUsersByMail(r.Context(), query)
	if err != nil {
		writeDirectoryError(w, err)
		return
	}
	if users == nil {
		users = []ipa.User{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Query: query, Count: len(users), Users: users})
}

type operationResponse struct {
	Username string `json:"username"`
	Message  string `json:"message"`
	Status   string `json:"status"`
}

type resetResponse struct {
	Username        string     `json:"username"`
	Password        string     `json:"password"`
	SecretLink      string     `json:"secret_link,omitempty"`
	SecretLinkError string     `json:"secret_link_error,omitempty"`
	Expiration      *time.Time `json:"expiration"`
	Message         string     `json:"message"`
}

// handleUserOperation applies delete, disable, enable or reset-password to
// one account named by user name.
func (s *Server) handleUserOperation(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "id")
	op, ok := bulk.ParseOperation(chi.URLParam(r, "operation"))
	if !ok {
		notFound(w, "unknown operation "+chi.URLParam(r, "operation"))
		return
	}

	operator := operatorOf(r)
	dir := directoryOf(r)
	// The change is applied even if the client goes away mid-request.
	ctx := context.WithoutCancel(r.Context())

	var (
		err    error
		status string
		msg    string
	)
	switch op {
	case bulk.OpDelete:
		s.logger.Warn("user_delete_requested", slog.String("username", uid), slog.String("operator", operator))
		err = dir.DeleteUser(ctx, uid)
		status, msg = "deleted", fmt.Sprintf("user %s deleted", uid)
	case bulk.OpDisable:
		s.logger.Info("user_disable_requested", slog.String("username", uid), slog.String("operator", operator))
		err = dir.DisableUser(ctx, uid)
		status, msg = "disable", fmt.Sprintf("user %s disabled", uid)
	case bulk.OpEnable:
		s.logger.Info("user_enable_requested", slog.String("username", uid), slog.String("operator", operator))
		err = dir.EnableUser(ctx, uid)
		status, msg = "enable", fmt.Sprintf("user %s enabled", uid)
	case bulk.OpResetPassword:
		s.resetPassword(ctx, w, dir, uid, operator)
		return
	}

	if err != nil {
		s.logger.Error("user_operation_failed",
			slog.String("operation", string(op)),
			slog.String("username", uid),
			slog.String("operator", operator),
			slog.String("error", err.Error()))
		writeDirectoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, operationResponse{Username: uid, Message: msg, Status: status})
}

func (s *Server) resetPassword(ctx context.Context, w http.ResponseWriter, dir ipa.Directory, uid, operator string) {
	s.logger.Warn("password_reset_requested", slog.String("username", uid), slog.String("operator", operator))

	reset, err := dir.ResetPassword(ctx, uid)
	if err != nil {
		s.logger.Error("password_reset_failed",
			slog.String("username", uid),
			slog.String("operator", operator),
			slog.String("error", err.Error()))
		writeDirectoryError(w, err)
		return
	}

	resp := resetResponse{
		Username:   uid,
		Password:   reset.Password,
		Expiration: reset.Expiration,
		Message:    fmt.Sprintf("password of user %s reset", uid),
	}
	if s.deps.Links != nil {
		link, err := s.deps.Links.CreateLink(ctx, uid, reset.Password)
		if err != nil {
			resp.SecretLinkError = err.Error()
			s.logger.Warn("secret_link_failed", slog.String("username", uid), slog.String("error", err.Error()))
		} else {
			resp.SecretLink = link
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// createUserRequest is the body of a single create. Form submissions are
// decoded into the same shape.
type createUserRequest struct {
	FirstName string   `json:"first_name" validate:"required"`
	LastName  string   `json:"last_name" validate:"required"`
	Email     string   `json:"email" validate:"required,email"`
	Title     string   `json:"title"`
	Phone     string   `json:"phone"`
	Groups    []string `json:"groups" validate:"dive,required"`
}

func (req *createUserRequest) normalize() {
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.Email = strings.TrimSpace(req.Email)
	req.Title = strings.TrimSpace(req.Title)
	req.Phone = strings.TrimSpace(req.Phone)
	groups := req.Groups[:0:0]
	for _, g := range req.Groups {
		if g = strings.TrimSpace(g); g != "" {
			groups = append(groups, g)
		}
	}
	req.Groups = groups
}

func (req createUserRequest) intent() bulk.CreationIntent {
	return bulk.CreationIntent{
		Username:  translit.Username(req.FirstName, req.LastName),
		GivenName: req.FirstName,
		Surname:   req.LastName,
		FullName:  req.FirstName + " " + req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
		Title:     req.Title,
		Groups:    req.Groups,
	}
}

type createUserResponse struct {
	Username string             `json:"username"`
	Password string             `json:"password"`
	Email    string             `json:"email"`
	Message  string             `json:"message"`
	Groups   *bulk.GroupOutcome `json:"groups,omitempty"`
}

// handleCreateJSON creates one account from a JSON body.
func (s *Server) handleCreateJSON(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	s.createUser(w, r, req)
}

// handleCreateForm creates one account from form fields; groups are a
// comma-separated list.
func (s *Server) handleCreateForm(w http.ResponseWriter, r *http.Request) {
	req := createUserRequest{
		FirstName: r.PostFormValue("first_name"),
		LastName:  r.PostFormValue("last_name"),
		Email:     r.PostFormValue("email"),
		Title:     r.PostFormValue("title"),
		Phone:     r.PostFormValue("phone"),
		Groups:    excel.ParseGroups(r.PostFormValue("groups")),
	}
	s.createUser(w, r, req)
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request, req createUserRequest) {
	req.normalize()
	if err := s.validate.Struct(req); err != nil {
		unprocessable(w, validationDetail(err))
		return
	}

	intent := req.intent()
	operator := operatorOf(r)
	s.logger.Info("user_create_requested",
		slog.String("username", intent.Username),
		slog.String("email", intent.Email),
		slog.String("operator", operator))

	creator := bulk.NewCreator(directoryOf(r), bulk.WithLogger(s.logger), bulk.WithOperator(operator))
	result := creator.CreateWithGroups(context.WithoutCancel(r.Context()), intent)
	if !result.Succeeded() {
		s.logger.Error("user_create_failed",
			slog.String("username", intent.Username),
			slog.String("operator", operator),
			slog.Bool("rolled_back", result.RolledBack),
			slog.String("error", result.Error))
		badGateway(w, result.Error)
		return
	}

	s.logger.Info("user_created",
		slog.String("username", result.Username),
		slog.String("operator", operator))
	writeJSON(w, http.StatusOK, createUserResponse{
		Username: result.Username,
		Password: result.Password,
		Email:    result.Email,
		Message:  fmt.Sprintf("user %s created", result.Username),
		Groups:   result.Groups,
	})
}

// validationDetail renders validator errors as "field: failed tag" pairs.
func validationDetail(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s: failed %q", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
