package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/sweeney/cadence-dimmer/internal/logic"
)

// SpeedResponse reports the current button cadence.
type SpeedResponse struct {
	Body struct {
		Speed uint64 `json:"speed" example:"4" doc:"Alternating button presses per second"`
	}
}

// DutyData is the duty cycle state of all channels.
type DutyData struct {
	Duties []int `json:"duties" doc:"Duty cycle per channel in percent"`
	HighNs int64 `json:"high_ns" doc:"Compiled HIGH phase duration"`
	LowNs  int64 `json:"low_ns" doc:"Compiled LOW phase duration"`
}

// DutyResponse wraps DutyData.
type DutyResponse struct {
	Body DutyData
}

// DutyRequest sets every channel at once.
type DutyRequest struct {
	Body struct {
		Duties []int `json:"duties" minItems:"3" maxItems:"3" doc:"Duty cycle per channel in percent, 0-100"`
	}
}

// ChannelDutyRequest sets one channel.
type ChannelDutyRequest struct {
	Channel int `path:"channel" minimum:"1" maximum:"3" doc:"Channel number"`
	Body    struct {
		Duty int `json:"duty" minimum:"0" maximum:"100" doc:"Duty cycle in percent"`
	}
}

func (s *Server) registerAPI() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-speed",
		Method:      http.MethodGet,
		Path:        "/api/speed",
		Summary:     "Button speed",
		Description: "Presses per second derived from the smoothed interval between alternating presses",
		Tags:        []string{"cadence"},
	}, func(ctx context.Context, input *struct{}) (*SpeedResponse, error) {
		resp := &SpeedResponse{}
		resp.Body.Speed = s.dimmer.Speed()
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-duty",
		Method:      http.MethodGet,
		Path:        "/api/duty",
		Summary:     "Get duty cycles",
		Tags:        []string{"duty"},
	}, func(ctx context.Context, input *struct{}) (*DutyResponse, error) {
		return s.dutyResponse(), nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-duty",
		Method:      http.MethodPut,
		Path:        "/api/duty",
		Summary:     "Set duty cycles",
		Description: "Set all three duty cycles. The write is applied atomically or not at all.",
		Tags:        []string{"duty"},
		Errors:      []int{422},
	}, func(ctx context.Context, input *DutyRequest) (*DutyResponse, error) {
		var d logic.Duties
		if len(input.Body.Duties) != logic.Channels {
			return nil, huma.Error422UnprocessableEntity("exactly 3 duty values required", logic.ErrMalformedDuty)
		}
		copy(d[:], input.Body.Duties)
		if err := s.dimmer.SetDuties(d, SourceAPI); err != nil {
			return nil, dutyError(err)
		}
		return s.dutyResponse(), nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-channel-duty",
		Method:      http.MethodPut,
		Path:        "/api/duty/{channel}",
		Summary:     "Set one channel's duty cycle",
		Tags:        []string{"duty"},
		Errors:      []int{422},
	}, func(ctx context.Context, input *ChannelDutyRequest) (*DutyResponse, error) {
		if err := s.dimmer.SetDuty(input.Channel-1, input.Body.Duty, SourceAPI); err != nil {
			return nil, dutyError(err)
		}
		return s.dutyResponse(), nil
	})
}

// dutyResponse reports duties and phases from one snapshot so a concurrent
// write cannot pair old duties with new phases.
func (s *Server) dutyResponse() *DutyResponse {
	sig := s.dimmer.Signal()
	return &DutyResponse{Body: DutyData{
		Duties: sig.Duties[:],
		HighNs: sig.Phases.High.Nanoseconds(),
		LowNs:  sig.Phases.Low.Nanoseconds(),
	}}
}

func dutyError(err error) error {
	if errors.Is(err, logic.ErrInvalidDuty) || errors.Is(err, logic.ErrMalformedDuty) {
		return huma.Error422UnprocessableEntity(err.Error(), err)
	}
	return huma.Error500InternalServerError("set duty", err)
}

// logRequests logs API requests at a level chosen by the response status.
func (s *Server) logRequests(ctx huma.Context, next func(huma.Context)) {
	start := time.Now()
	next(ctx)

	attrs := []slog.Attr{
		slog.String("method", ctx.Method()),
		slog.String("path", ctx.URL().Path),
		slog.String("remote_addr", ctx.RemoteAddr()),
		slog.Int("status", ctx.Status()),
		slog.Duration("duration", time.Since(start)),
	}
	level := slog.LevelDebug
	switch {
	case ctx.Status() >= 500:
		level = slog.LevelError
	case ctx.Status() >= 400:
		level = slog.LevelWarn
	}
	s.logger.LogAttrs(ctx.Context(), level, "api request", attrs...)
}
