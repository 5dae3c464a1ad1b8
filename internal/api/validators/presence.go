package validators

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
}

type ValidationError struct {
	Field string `json:"field"`
	Tag   string `json:"tag"`
	Value string `json:"value"`
}

type ValidationResponse struct {
	Errors []ValidationError `json:"errors"`
}

func Validate(data interface{}) []ValidationError {
	return collect(validate.Struct(data))
}

func collect(err error) []ValidationError {
	var validationErrors []ValidationError

	if errs, ok := err.(validator.ValidationErrors); ok {
		for _, e := range errs {
			validationErrors = append(validationErrors, ValidationError{
				Field: e.Field(),
				Tag:   e.Tag(),
				Value: e.Param(),
			})
		}
	}

	return validationErrors
}

// UserIDsRequest is the body shared by the bulk presence endpoints.
type UserIDsRequest struct {
	UserIDs []string `json:"userIds" validate:"required,min=1,dive,required"`
}

// DecodeUserIDsRequest decodes and validates a UserIDsRequest holding at most
// maxUsers ids, writing a 400 response and returning false when it is invalid.
func DecodeUserIDsRequest(w http.ResponseWriter, r *http.Request, maxUsers int) (*UserIDsRequest, bool) {
	var req UserIDsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return nil, false
	}

	errs := Validate(req)
	if len(errs) == 0 && maxUsers > 0 {
		errs = collect(validate.Var(req.UserIDs, fmt.Sprintf("max=%d", maxUsers)))
		for i := range errs {
			errs[i].Field = "UserIDs"
		}
	}
	if len(errs) > 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(ValidationResponse{Errors: errs})
		return nil, false
	}

	return &req, true
}
