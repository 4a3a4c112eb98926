package handler

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"restopos/internal/apierror"
	"restopos/internal/cashier"
	"restopos/internal/middleware"
	"restopos/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var validate = validator.New()

func init() {
	// report fields by their JSON name: "items[0].unit_price", not "Items[0].UnitPrice"
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// bindAndValidate binds JSON body and runs go-playground/validator tags.
// Returns false and writes the error response if validation fails;
// the caller should return immediately without writing another response.
func bindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("Invalid JSON: "+err.Error()))
		return false
	}
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			respondError(c, err)
			return false
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fieldPath(fe)] = fe.Tag()
		}
		c.JSON(http.StatusUnprocessableEntity, apierror.NewValidation(fields))
		return false
	}
	return true
}

// fieldPath drops the root struct name from the validator namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

// uuidParam parses a path parameter, answering 400 when it is not a UUID.
func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("Invalid "+name))
		return uuid.Nil, false
	}
	return id, true
}

// respondError maps service and engine errors to HTTP responses. Anything
// unrecognized is logged and answered with an opaque 500.
func respondError(c *gin.Context, err error) {
	var verr *cashier.ValidationError
	switch {
	case errors.Is(err, service.ErrPersistence):
		respondInternal(c, err)
	case errors.As(err, &verr):
		c.JSON(http.StatusUnprocessableEntity, apierror.NewValidation(map[string]string{verr.Field: verr.Reason}))
	case errors.Is(err, cashier.ErrValidation):
		c.JSON(http.StatusUnprocessableEntity, apierror.New(err.Error()))
	case errors.Is(err, cashier.ErrInvalidState),
		errors.Is(err, cashier.ErrInsufficientBalance),
		errors.Is(err, service.ErrSessionAlreadyOpen),
		errors.Is(err, service.ErrOperatorExists):
		c.JSON(http.StatusConflict, apierror.New(err.Error()))
	case errors.Is(err, service.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, apierror.New(err.Error()))
	case errors.Is(err, service.ErrLocked):
		c.JSON(http.StatusLocked, apierror.New("Session is busy, try again"))
	case errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, service.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, apierror.New(err.Error()))
	default:
		respondInternal(c, err)
	}
}

// respondInternal logs err and answers an opaque 500. Storage errors may wrap
// engine errors; their details never reach the client.
func respondInternal(c *gin.Context, err error) {
	reqID := c.GetString(middleware.RequestIDKey)
	log.Error().Err(err).
		Str("request_id", reqID).
		Str("method", c.Request.Method).
		Str("path", c.FullPath()).
		Msg("request failed")
	c.JSON(http.StatusInternalServerError, apierror.Internal(reqID))
}
