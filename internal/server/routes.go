package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/berfenger/pvheat/internal/core/domain"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const usage = `
do=start                            - starts the manager
do=stop                             - stops the manager
do=info                             - short information about the heaters
do=status                           - full status information about the heaters and solar system
do=verbose                          - turn on extensive logging on the server
do=silent                           - turn off extensive logging on the server
do=help                             - this help text
do=enable&heater=name               - enable a heater
do=disable&heater=name              - disable a heater
do=switch&heater=name&heater=name   - exchanges two heaters in the step definition
do=clear                            - deletes the exchange of heaters
`

type statusJSON struct {
	StatusLine string                        `json:"status_line"`
	Running    bool                          `json:"running"`
	Verbose    bool                          `json:"verbose"`
	Mode       string                        `json:"mode"`
	ActiveStep int                           `json:"active_step"`
	Heaters    map[string]domain.ShortStatus `json:"heaters"`
}

type swapJSON struct {
	Heaters []string `json:"heaters"`
}

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	e.HideBanner = true
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/", s.CommandHandler)
	e.GET("/status", s.StatusHandler)
	e.GET("/heaters", s.HeatersHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	manager := e.Group("/manager")
	manager.POST("/start", s.StartHandler)
	manager.POST("/stop", s.StopHandler)
	manager.PUT("/verbose", s.VerboseHandler)

	heaters := e.Group("/heaters")
	heaters.POST("/:name/enable", s.heaterEnabledHandler(true))
	heaters.POST("/:name/disable", s.heaterEnabledHandler(false))

	steps := e.Group("/steps")
	steps.POST("/swap", s.SwapHandler)
	steps.POST("/clear", s.ClearSwapHandler)

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, s.requestTimeout).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

// CommandHandler serves the query string command API.
func (s *Server) CommandHandler(c echo.Context) error {
	heaters := c.QueryParams()["heater"]
	switch c.QueryParam("do") {
	case "info":
		res, err := request[domain.InfoResponse](s, domain.InfoRequest{})
		if err != nil {
			return textError(c, err)
		}
		return c.String(http.StatusOK, res.Info)
	case "status":
		res, err := request[domain.StatusResponse](s, domain.StatusRequest{})
		if err != nil {
			return textError(c, err)
		}
		return c.String(http.StatusOK, res.StatusLine)
	case "start":
		res, err := request[domain.StartResponse](s, domain.StartRequest{})
		if err != nil {
			return textError(c, err)
		}
		if !res.Changed {
			return c.String(http.StatusOK, "Manager is already running.")
		}
		return c.String(http.StatusOK, "Manager is starting ...")
	case "stop":
		res, err := request[domain.StopResponse](s, domain.StopRequest{})
		if err != nil {
			return textError(c, err)
		}
		if !res.Changed {
			return c.String(http.StatusOK, "Manager is already stopped.")
		}
		return c.String(http.StatusOK, "Manager is stopping and all heaters will be OFF!")
	case "verbose", "silent":
		verbose := c.QueryParam("do") == "verbose"
		if _, err := request[domain.SetVerboseResponse](s, domain.SetVerboseRequest{Verbose: verbose}); err != nil {
			return textError(c, err)
		}
		return c.String(http.StatusOK, fmt.Sprintf("Manager is set verbose = %t", verbose))
	case "enable", "disable":
		if len(heaters) == 0 {
			return c.String(http.StatusBadRequest, "Parameter &heater=... is missing.")
		}
		enabled := c.QueryParam("do") == "enable"
		for _, heater := range heaters {
			if _, err := request[domain.SetHeaterEnabledResponse](s, domain.SetHeaterEnabledRequest{Heater: heater, Enabled: enabled}); err != nil {
				return textError(c, err)
			}
		}
		return c.String(http.StatusOK, fmt.Sprintf("Heater %s is %sd.", strings.Join(heaters, ", "), c.QueryParam("do")))
	case "switch":
		if len(heaters) != 2 {
			return c.String(http.StatusBadRequest, "There have to be two parameters &heater=...")
		}
		res, err := request[domain.SwapHeatersResponse](s, domain.SwapHeatersRequest{HeaterA: heaters[0], HeaterB: heaters[1]})
		if err != nil {
			return textError(c, err)
		}
		return c.String(http.StatusOK, res.Message)
	case "clear":
		if _, err := request[domain.ClearSwapResponse](s, domain.ClearSwapRequest{}); err != nil {
			return textError(c, err)
		}
		return c.String(http.StatusOK, "Switching of heaters is withdrawn.")
	default:
		return c.String(http.StatusOK, usage)
	}
}

func (s *Server) StatusHandler(c echo.Context) error {
	res, err := request[domain.StatusResponse](s, domain.StatusRequest{})
	if err != nil {
		return jsonError(err)
	}
	heaters := make(map[string]domain.ShortStatus, len(res.Heaters))
	for _, h := range res.Heaters {
		heaters[h.Name] = h.Status
	}
	return c.JSON(http.StatusOK, statusJSON{
		StatusLine: res.StatusLine,
		Running:    res.Running,
		Verbose:    res.Verbose,
		Mode:       res.Mode.String(),
		ActiveStep: res.ActiveStep,
		Heaters:    heaters,
	})
}

func (s *Server) HeatersHandler(c echo.Context) error {
	res, err := request[domain.HeatersResponse](s, domain.HeatersRequest{})
	if err != nil {
		return jsonError(err)
	}
	return c.JSON(http.StatusOK, res.Heaters)
}

func (s *Server) StartHandler(c echo.Context) error {
	res, err := request[domain.StartResponse](s, domain.StartRequest{})
	if err != nil {
		return jsonError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"changed": res.Changed})
}

func (s *Server) StopHandler(c echo.Context) error {
	res, err := request[domain.StopResponse](s, domain.StopRequest{})
	if err != nil {
		return jsonError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"changed": res.Changed})
}

func (s *Server) VerboseHandler(c echo.Context) error {
	verbose, err := strconv.ParseBool(c.QueryParam("enabled"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter enabled must be a boolean")
	}
	if _, err := request[domain.SetVerboseResponse](s, domain.SetVerboseRequest{Verbose: verbose}); err != nil {
		return jsonError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"verbose": verbose})
}

func (s *Server) heaterEnabledHandler(enabled bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		name := c.Param("name")
		if _, err := request[domain.SetHeaterEnabledResponse](s, domain.SetHeaterEnabledRequest{Heater: name, Enabled: enabled}); err != nil {
			return jsonError(err)
		}
		return c.JSON(http.StatusOK, map[string]any{"heater": name, "enabled": enabled})
	}
}

func (s *Server) SwapHandler(c echo.Context) error {
	var body swapJSON
	if err := c.Bind(&body); err != nil {
		return err
	}
	if len(body.Heaters) != 2 {
		return echo.NewHTTPError(http.StatusBadRequest, "exactly two heaters are required")
	}
	res, err := request[domain.SwapHeatersResponse](s, domain.SwapHeatersRequest{HeaterA: body.Heaters[0], HeaterB: body.Heaters[1]})
	if err != nil {
		return jsonError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"swapped": res.Swapped, "message": res.Message})
}

func (s *Server) ClearSwapHandler(c echo.Context) error {
	if _, err := request[domain.ClearSwapResponse](s, domain.ClearSwapRequest{}); err != nil {
		return jsonError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// errActorTimeout marks requests the actor system did not answer in time.
var errActorTimeout = errors.New("heat manager did not respond")

// request asks the master actor and unwraps the typed response and its error.
func request[R domain.ActorResponse](s *Server, msg any) (R, error) {
	var zero R
	res, err := s.rootContext.RequestFuture(s.masterActor, msg, s.requestTimeout).Result()
	if err != nil {
		if errors.Is(err, actor.ErrTimeout) {
			return zero, fmt.Errorf("%w: %w", errActorTimeout, err)
		}
		return zero, err
	}
	response, ok := res.(R)
	if !ok {
		return zero, fmt.Errorf("unexpected response %T", res)
	}
	if err := response.GetResponseError(); err != nil {
		return response, err
	}
	return response, nil
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnknownHeater), errors.Is(err, domain.ErrUnknownLevel):
		return http.StatusBadRequest
	case errors.Is(err, errActorTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func textError(c echo.Context, err error) error {
	return c.String(statusCode(err), err.Error())
}

func jsonError(err error) error {
	return echo.NewHTTPError(statusCode(err), err.Error())
}
