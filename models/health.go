package models

const HealthStatusOK = "ok"

type HealthGetResponse struct {
	Status string `json:"status"`
	Model  string `json:"model"`
}
