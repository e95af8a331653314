package get

import (
	"net/http"

	"github.com/a-h/respond"
	"github.com/a-h/simserver/models"
)

func New(model string) Handler {
	return Handler{
		model: model,
	}
}

type Handler struct {
	model string
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	respond.WithJSON(w, models.HealthGetResponse{
		Status: models.HealthStatusOK,
		Model:  h.model,
	}, http.StatusOK)
}
