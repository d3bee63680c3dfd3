package web

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// NoResponse tells Respond to not respond to the request. In these cases
// the handler has already written the response.
type NoResponse struct{}

// NewNoResponse constructs a no response value.
func NewNoResponse() NoResponse {
	return NoResponse{}
}

// Encode implements the Encoder interface.
func (NoResponse) Encode() ([]byte, string, error) {
	return nil, "", nil
}

type httpStatus interface {
	HTTPStatus() int
}

// Respond sends a response to the client. The status code comes from the
// data model when it implements HTTPStatus() int, otherwise 200, or 204 for
// a nil model.
func Respond(c *gin.Context, dataModel Encoder) error {
	if _, ok := dataModel.(NoResponse); ok {
		return nil
	}

	// If the context has been canceled, it means the client is no longer
	// waiting for a response.
	if err := c.Request.Context().Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			return errors.New("client disconnected, do not send response")
		}
	}

	statusCode := http.StatusOK

	switch v := dataModel.(type) {
	case httpStatus:
		statusCode = v.HTTPStatus()
	case nil:
		statusCode = http.StatusNoContent
	}

	if statusCode == http.StatusNoContent {
		c.Status(statusCode)
		return nil
	}

	data, contentType, err := dataModel.Encode()
	if err != nil {
		return err
	}

	c.Data(statusCode, contentType, data)
	return nil
}
