package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// DataResponse writes data inside an APIResponse whose status mirrors code.
func DataResponse(c echo.Context, code int, data interface{}) error {
	return c.JSON(code, APIResponse{
		Status:  code,
		Message: http.StatusText(code),
		Data:    data,
	})
}

// ListResponse writes rows with their count. An empty result is sent as []
// so clients never have to special-case null.
func ListResponse[T any](c echo.Context, rows []T) error {
	if rows == nil {
		rows = []T{}
	}
	return DataResponse(c, http.StatusOK, &ListDataResponse{Rows: rows, Total: int64(len(rows))})
}

// SuccessResponse writes a 200 envelope.
func SuccessResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusOK, data)
}

// BadRequestResponse writes validation failures as a 400 envelope.
func BadRequestResponse(c echo.Context, failures interface{}) error {
	return DataResponse(c, http.StatusBadRequest, failures)
}

// AppErrorResponse writes err as a one element error list. Anything that is
// not an *AppError is reported as a bare 500 and its text is not exposed.
func AppErrorResponse(c echo.Context, err error) error {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		appErr = InternalError("internal error")
	}
	return DataResponse(c, appErr.Status, []*AppError{appErr})
}
