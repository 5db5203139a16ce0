package user

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/modelzoo/modelzoo/internal/api"
	"github.com/modelzoo/modelzoo/internal/db"
	"github.com/modelzoo/modelzoo/pkg/check"
	"github.com/modelzoo/modelzoo/pkg/model"
)

// sortColumns maps the accepted sort keys to columns.
var sortColumns = map[string]string{
	"userId":        "user_id",
	"user_id":       "user_id",
	"name":          "name",
	"adminPriv":     "admin_priv",
	"admin_priv":    "admin_priv",
	"created":       "created",
	"lastModified":  "last_modified",
	"last_modified": "last_modified",
}

// Service handles account administration.
type Service struct {
	store Store
}

// NewService creates the IAM service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

type userInsert struct {
	Name            string `json:"name"`
	UserID          string `json:"user_id"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
	AdminPriv       bool   `json:"admin_priv"`
}

func (u userInsert) Validate() []error {
	errs := []error{check.NotEmpty(u.Name, "name")}
	if u.Password != u.PasswordConfirm {
		return append(errs, errors.New("Passwords do not match"))
	}
	return append(errs, CheckPasswordPolicy(u.Password))
}

// toUser builds the account described by the request, generating an id when none is given.
func (u userInsert) toUser() (*model.User, error) {
	userID := NormalizeUserID(u.UserID)
	if userID == "" {
		generated, err := GenerateUserID(u.Name)
		if err != nil {
			return nil, err
		}
		userID = generated
	}
	user := &model.User{UserID: userID, Name: u.Name, AdminPriv: u.AdminPriv}
	if err := user.UpdatePasswordHash(u.Password); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Service) postUser(c echo.Context) (interface{}, error) {
	var params userInsert
	if err := api.BindJSON(&params, c); err != nil {
		return nil, err
	}
	user, err := params.toUser()
	if err != nil {
		return nil, err
	}

	switch err := s.store.Add(c.Request().Context(), user); {
	case errors.Is(err, db.ErrDuplicateRecord):
		return nil, echo.NewHTTPError(http.StatusConflict,
			fmt.Sprintf("User with ID of %s already exists", user.UserID))
	case err != nil:
		return nil, err
	}
	return api.Response{
		Code: http.StatusCreated,
		Body: fmt.Sprintf("User of ID: %s created", user.UserID),
	}, nil
}

func (s *Service) putUser(c echo.Context) (interface{}, error) {
	var params userInsert
	if err := api.BindJSON(&params, c); err != nil {
		return nil, err
	}
	if NormalizeUserID(params.UserID) == "" {
		return nil, echo.NewHTTPError(http.StatusUnprocessableEntity, "user_id is required")
	}
	user, err := params.toUser()
	if err != nil {
		return nil, err
	}

	switch err := s.store.Replace(c.Request().Context(), user); {
	case errors.Is(err, db.ErrNotFound):
		return nil, echo.NewHTTPError(http.StatusNotFound, "User not found")
	case err != nil:
		return nil, err
	}
	return nil, nil
}

type userRemoval struct {
	Users []string `json:"users"`
}

func (s *Service) deleteUsers(c echo.Context) (interface{}, error) {
	var params userRemoval
	if err := api.BindJSON(&params, c); err != nil {
		return nil, err
	}
	if err := s.store.Delete(c.Request().Context(), params.Users); err != nil {
		return nil, err
	}
	return nil, nil
}

type usersEdit struct {
	Users []string `json:"users"`
	Priv  *bool    `json:"priv"`
}

func (s *Service) putUsersPriv(c echo.Context) (interface{}, error) {
	var params usersEdit
	if err := api.BindJSON(&params, c); err != nil {
		return nil, err
	}
	if params.Priv == nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "Privilege must be set properly")
	}
	if err := s.store.SetAdmin(c.Request().Context(), params.Users, *params.Priv); err != nil {
		return nil, err
	}
	return nil, nil
}

type userPage struct {
	PageNum           int           `json:"page_num"`
	UserNum           int           `json:"user_num"`
	Name              string        `json:"name"`
	UserID            string        `json:"userId"`
	AdminPriv         int           `json:"admin_priv"`
	LastModifiedRange *db.TimeRange `json:"last_modified_range"`
	DateCreatedRange  *db.TimeRange `json:"date_created_range"`
}

func (p userPage) Validate() []error {
	return []error{
		check.True(p.PageNum > 0, "Page number should be above one"),
		check.True(p.UserNum > 0, "Number of users displayed must be more than one"),
	}
}

// adminFilter maps 0 to non-admins, 1 to admins and anything else to no filter.
func (p userPage) adminFilter() *bool {
	switch p.AdminPriv {
	case 0:
		f := false
		return &f
	case 1:
		t := true
		return &t
	default:
		return nil
	}
}

type userList struct {
	Results   []model.User `json:"results"`
	TotalRows int          `json:"total_rows"`
}

func (s *Service) postUserList(c echo.Context) (interface{}, error) {
	args := struct {
		Desc *bool   `query:"desc"`
		Sort *string `query:"sort"`
	}{}
	if err := api.BindArgs(&args, c); err != nil {
		return nil, err
	}
	sortKey := "lastModified"
	if args.Sort != nil {
		sortKey = *args.Sort
	}
	column, ok := sortColumns[sortKey]
	if !ok {
		return nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid sort key: %s", sortKey))
	}

	params := userPage{PageNum: 1, UserNum: 5, AdminPriv: 2}
	if err := api.BindJSON(&params, c); err != nil {
		return nil, err
	}

	users, total, err := s.store.List(c.Request().Context(), Filter{
		Name:              params.Name,
		UserID:            params.UserID,
		AdminPriv:         params.adminFilter(),
		LastModifiedRange: params.LastModifiedRange,
		DateCreatedRange:  params.DateCreatedRange,
		SortColumn:        column,
		Desc:              args.Desc == nil || *args.Desc,
		Page:              params.PageNum,
		PageSize:          params.UserNum,
	})
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []model.User{}
	}
	return userList{Results: users, TotalRows: total}, nil
}
