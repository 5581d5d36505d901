package api

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/procfleet/procfleet/internal/api/models"
	"github.com/procfleet/procfleet/internal/supervisor"
)

func (s *Server) registerFleetRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-fleet",
		Method:      http.MethodGet,
		Path:        "/api/fleet",
		Summary:     "Fleet State",
		Description: "Get the current state of every supervised process",
		Tags:        []string{"fleet"},
		Security:    withAuth(),
	}, func(ctx context.Context, _ *struct{}) (*models.FleetResponse, error) {
		snapshot := s.options.Table.Snapshot()

		processes := make([]models.ProcessInfo, 0, len(snapshot))
		servers := 0
		for name, info := range snapshot {
			if info.Server {
				servers++
			}
			processes = append(processes, models.ProcessInfo{
				Name:   name,
				PID:    info.PID,
				State:  info.State.String(),
				Server: info.Server,
			})
		}
		sort.Slice(processes, func(i, j int) bool {
			return processes[i].Name < processes[j].Name
		})

		return &models.FleetResponse{
			Body: models.FleetData{
				Processes: processes,
				Servers:   servers,
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "scale-fleet",
		Method:      http.MethodPost,
		Path:        "/api/fleet/scale",
		Summary:     "Scale",
		Description: "Change the number of server workers",
		Tags:        []string{"fleet"},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.ScaleRequest) (*models.CommandResponse, error) {
		workers := input.Body.Workers
		if workers < 1 {
			return nil, huma.Error422UnprocessableEntity("workers must be positive")
		}

		s.options.Control.Send(supervisor.ScaleMessage(workers))
		s.logger.Info("Scale command accepted", "workers", workers)

		return &models.CommandResponse{
			Body: models.CommandData{
				Command: "scale",
				Detail:  strconv.Itoa(workers),
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "restart-fleet",
		Method:      http.MethodPost,
		Path:        "/api/fleet/restart",
		Summary:     "Restart",
		Description: "Restart some or all transient processes",
		Tags:        []string{"fleet"},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.RestartRequest) (*models.CommandResponse, error) {
		order := supervisor.ShutdownFirst
		if input.Body.StartupFirst {
			order = supervisor.StartupFirst
		}

		s.options.Control.Send(supervisor.RestartMessage(input.Body.Names, "", order))
		s.logger.Info("Restart command accepted",
			"names", strings.Join(input.Body.Names, ","),
			"order", order.String())

		return &models.CommandResponse{
			Body: models.CommandData{
				Command: "restart",
				Detail:  strings.Join(input.Body.Names, ","),
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "terminate-fleet",
		Method:      http.MethodPost,
		Path:        "/api/fleet/terminate",
		Summary:     "Terminate",
		Description: "Shut the whole fleet down",
		Tags:        []string{"fleet"},
		Security:    withAuth(),
	}, func(ctx context.Context, _ *struct{}) (*models.CommandResponse, error) {
		s.options.Control.Send(supervisor.MsgTerminate)
		s.logger.Info("Terminate command accepted")

		return &models.CommandResponse{
			Body: models.CommandData{
				Command: "terminate",
			},
		}, nil
	})
}
