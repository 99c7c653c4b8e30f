package handlers

import (
	"github.com/pulsetel/simhub/internal/app/service/reconcile"
	"github.com/pulsetel/simhub/internal/app/service/statistics"
	"github.com/pulsetel/simhub/internal/models"
	"github.com/pulsetel/simhub/pkg/response"
)

// RespOK is a generic OK envelope for endpoints returning no specific data.
type RespOK struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    interface{}              `json:"data"`
}

// RespESIM wraps ESIMResponse in the standard envelope.
type RespESIM struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    ESIMResponse             `json:"data"`
}

// RespESIMSources wraps the per-provider breakdown in the standard envelope.
type RespESIMSources struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    []reconcile.Outcome      `json:"data"`
}

// RespCreateRenewal wraps CreateRenewalResponse in the standard envelope.
type RespCreateRenewal struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    CreateRenewalResponse    `json:"data"`
}

// RespOrder wraps an order snapshot in the standard envelope.
type RespOrder struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    OrderView                `json:"data"`
}

// RespPackages wraps the renewal catalog in the standard envelope.
type RespPackages struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    []*models.RenewalPackage `json:"data"`
}

// RespListOrders wraps ListOrdersResponse in the standard envelope.
type RespListOrders struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    ListOrdersResponse       `json:"data"`
}

// RespStatistics wraps StatisticResponse in the standard envelope.
type RespStatistics struct {
	Code    response.APIResponseCode     `json:"code"`
	Message string                       `json:"message"`
	Data    statistics.StatisticResponse `json:"data"`
}

// RespHealth wraps HealthResponse in the standard envelope.
type RespHealth struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    HealthResponse           `json:"data"`
}
