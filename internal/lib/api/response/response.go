package response

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

type Response struct {
	Status string   `json:"status"`
	Error  string   `json:"error,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

const (
	StatusOK    = "ok"
	StatusError = "error"
)

func OK() Response {
	return Response{
		Status: StatusOK,
	}
}

func Error(msg string) Response {
	return Response{
		Status: StatusError,
		Error:  msg,
	}
}

// ValidationError keeps one message per failed field in Errors and a joined summary in Error.
func ValidationError(errs validator.ValidationErrors) Response {
	var errMsgs []string

	for _, err := range errs {
		switch err.ActualTag() {
		case "required", "required_if":
			errMsgs = append(errMsgs, fmt.Sprintf("field %s is a required field", err.Field()))
		case "oneof":
			errMsgs = append(errMsgs, fmt.Sprintf("field %s must be one of [%s]", err.Field(), err.Param()))
		case "min", "max", "gt", "gte", "lt", "lte":
			errMsgs = append(errMsgs, fmt.Sprintf("field %s must satisfy %s=%s", err.Field(), err.ActualTag(), err.Param()))
		case "service_name":
			errMsgs = append(errMsgs, fmt.Sprintf("field %s is not an allowed service name", err.Field()))
		default:
			errMsgs = append(errMsgs, fmt.Sprintf("field %s is not valid", err.Field()))
		}
	}

	return Response{
		Status: StatusError,
		Error:  "request validation failed",
		Errors: errMsgs,
	}
}
