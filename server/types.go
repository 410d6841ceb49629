package server

import (
	"carbonreceiver/aggregators"
	"carbonreceiver/core"
)

type ServerError struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ElementsResponse struct {
	Elements []*aggregators.ElementStatus `json:"elements"`
}

type CommandsResponse struct {
	Commands []*core.Command `json:"commands"`
}
