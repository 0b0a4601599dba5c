package expedix

import (
	"io"
	"net/http"

	"github.com/aurelia-health/consulta/backend/internal/store"
)

const maxResponseBytes = 1 << 20

func readBody(response *http.Response) ([]byte, error) {
	return io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
}

func classifyStatus(status int) (store.Kind, bool) {
	switch {
	case status >= 200 && status < 300:
		return "", false
	case status == http.StatusNotFound:
		return store.KindNotFound, true
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return store.KindUnauthorized, true
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity || status == http.StatusConflict:
		return store.KindValidation, true
	default:
		return store.KindTransport, true
	}
}
