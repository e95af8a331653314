package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/a-h/simserver/client"
)

type HealthCommand struct {
	SimServerURL    string `help:"The URL of the similarity server." env:"SIM_SERVER_URL" default:"http://localhost:8001"`
	SimServerAPIKey string `help:"The API key for the similarity server." env:"SIM_SERVER_API_KEY" default:""`
}

func (c HealthCommand) Run(ctx context.Context) (err error) {
	resp, err := client.New(c.SimServerURL, c.SimServerAPIKey).Health(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return json.NewEncoder(os.Stdout).Encode(resp)
}
