package domain

import "fmt"

// HeatManagerRequest is any request handled by the heat manager actor.
type HeatManagerRequest interface {
	ActorRequest
	HeatManagerCommand() string
}

type HeatManagerRequestMixIn struct {
	ActorRequestMixIn
}

func (r HeatManagerRequestMixIn) HeatManagerCommand() string {
	return fmt.Sprintf("%T", r)
}

type StartRequest struct {
	HeatManagerRequestMixIn
}

type StartResponse struct {
	ActorResponseMixIn
	Changed bool
}

type StopRequest struct {
	HeatManagerRequestMixIn
}

type StopResponse struct {
	ActorResponseMixIn
	Changed bool
}

type SetVerboseRequest struct {
	HeatManagerRequestMixIn
	Verbose bool
}

type SetVerboseResponse struct {
	ActorResponseMixIn
}

type SetHeaterEnabledRequest struct {
	HeatManagerRequestMixIn
	Heater  string
	Enabled bool
}

type SetHeaterEnabledResponse struct {
	ActorResponseMixIn
}

type SwapHeatersRequest struct {
	HeatManagerRequestMixIn
	HeaterA string
	HeaterB string
}

type SwapHeatersResponse struct {
	ActorResponseMixIn
	Swapped bool
	Message string
}

type ClearSwapRequest struct {
	HeatManagerRequestMixIn
}

type ClearSwapResponse struct {
	ActorResponseMixIn
}

// StatusRequest asks for a full status, including a fresh telemetry reading.
type StatusRequest struct {
	HeatManagerRequestMixIn
}

type StatusResponse struct {
	ActorResponseMixIn
	StatusLine string
	Running    bool
	Verbose    bool
	Mode       ControlMode
	ActiveStep int
	Heaters    []HeaterState
}

// InfoRequest asks for the static ladder and heater description.
type InfoRequest struct {
	HeatManagerRequestMixIn
}

type InfoResponse struct {
	ActorResponseMixIn
	Info string
}

// EnergyReportRequest closes the current energy report period.
type EnergyReportRequest struct {
	HeatManagerRequestMixIn
}

type EnergyReportResponse struct {
	ActorResponseMixIn
	WattHours map[string]float64
}

// HeatersRequest asks for the heater states without reading telemetry.
type HeatersRequest struct {
	HeatManagerRequestMixIn
}

type HeatersResponse struct {
	ActorResponseMixIn
	Heaters []HeaterState
}

// HeaterState is the control surface view of a heater.
type HeaterState struct {
	Name      string             `json:"name"`
	Enabled   bool               `json:"enabled"`
	Status    ShortStatus        `json:"status"`
	WattHours float64            `json:"watt_hours"`
	Loads     map[string]float64 `json:"loads"`
}

// ensure interface compliance
var (
	_ HeatManagerRequest = (*StartRequest)(nil)
	_ HeatManagerRequest = (*SwapHeatersRequest)(nil)
)
