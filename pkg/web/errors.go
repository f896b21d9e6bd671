package web

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
	"github.com/troneras/workflow-orchestrator/pkg/services"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("bad_request").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func unprocessable(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(422).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// validationFailed reports struct validation failures one field at a time.
func validationFailed(c fiber.Ctx, err error) error {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return unprocessable(c, err.Error())
	}

	details := make([]string, 0, len(fieldErrors))
	for _, fieldErr := range fieldErrors {
		details = append(details, fmt.Sprintf("%s failed on '%s'", fieldErr.Namespace(), fieldErr.Tag()))
	}

	return unprocessable(c, "Validation failed: "+strings.Join(details, "; "))
}

// handleServiceError provides typed error handling for service layer errors.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case services.IsValidationError(err):
		return unprocessable(c, detailOf(err))

	case services.IsNotFoundError(err):
		return notFound(c, detailOf(err))

	case services.IsPreconditionError(err):
		return badRequest(c, detailOf(err))

	default:
		return internalError(c, err)
	}
}

// detailOf prefers the human message of a service error.
func detailOf(err error) string {
	if serviceErr, ok := services.AsServiceError(err); ok {
		switch {
		case serviceErr.Message != "":
			return serviceErr.Message
		case serviceErr.Err != nil:
			return serviceErr.Err.Error()
		}
	}

	return err.Error()
}
