// Package models contains request and response types for the control API.
package models

// HealthData represents the health check payload.
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Health status"`
	Message string `json:"message" example:"API is healthy" doc:"Health message"`
}

// HealthResponse represents the HTTP response for health checks.
type HealthResponse struct {
	Body HealthData
}

// VersionData represents version information.
type VersionData struct {
	Version   string `json:"version" example:"1.0.0" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc123" doc:"Git commit hash"`
	BuildDate string `json:"build_date" example:"2025-01-01T00:00:00Z" doc:"Build date"`
	BuildID   string `json:"build_id" example:"12345" doc:"CI build ID"`
	GoVersion string `json:"go_version" example:"go1.24.0" doc:"Go version used for build"`
	Compiler  string `json:"compiler" example:"gc" doc:"Go compiler"`
	Platform  string `json:"platform" example:"linux/amd64" doc:"Target platform"`
}

// VersionResponse represents the HTTP response for version information.
type VersionResponse struct {
	Body VersionData
}

// ProcessInfo describes one supervised process.
type ProcessInfo struct {
	Name   string `json:"name" example:"Server-0" doc:"Process name"`
	PID    int    `json:"pid" example:"4242" doc:"OS process ID, 0 when not running"`
	State  string `json:"state" example:"ACKED" doc:"Lifecycle state"`
	Server bool   `json:"server" doc:"Whether this is a server worker"`
}

// FleetData represents the current fleet state.
type FleetData struct {
	Processes []ProcessInfo `json:"processes" doc:"All supervised processes"`
	Servers   int           `json:"servers" example:"2" doc:"Number of server workers"`
}

// FleetResponse represents the HTTP response for fleet state.
type FleetResponse struct {
	Body FleetData
}

// ScaleRequest asks for a new server worker count.
type ScaleRequest struct {
	Body struct {
		Workers int `json:"workers" minimum:"1" example:"4" doc:"Target number of server workers"`
	}
}

// RestartRequest asks for a restart of some or all transient processes.
type RestartRequest struct {
	Body struct {
		Names        []string `json:"names,omitempty" doc:"Process or worker names to restart; empty restarts all transient processes"`
		StartupFirst bool     `json:"startup_first,omitempty" doc:"Start the replacement before stopping the old process"`
	}
}

// CommandData acknowledges an accepted control command.
type CommandData struct {
	Command string `json:"command" example:"scale" doc:"Accepted command"`
	Detail  string `json:"detail,omitempty" example:"4" doc:"Command argument, if any"`
}

// CommandResponse represents the HTTP response for control commands.
type CommandResponse struct {
	Body CommandData
}
