package errors

import "net/http"

// HTTPStatus maps an error to the status code the API surface returns for it.
// Model errors map to 404 because a missing artifact is surfaced exactly like
// a missing resource from the prediction endpoint.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	reconErr, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}

	switch reconErr.Category {
	case CategoryNotFound, CategoryModel:
		return http.StatusNotFound
	case CategoryValidation, CategoryParse:
		return http.StatusBadRequest
	case CategoryConfig:
		return http.StatusFailedDependency
	case CategoryTransient:
		return http.StatusBadGateway
	case CategoryStorage, CategoryInvariant:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
