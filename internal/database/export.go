// Package database produces point-in-time database exports and
// publishes them as versioned artifacts in remote storage.
package database

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/docvault/docvault/internal/docker"
)

// ExportError is fatal to the database snapshot job for one run; it
// never affects the document sync running alongside.
type ExportError struct {
	Phase string
	Err   error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("database %s failed: %v", e.Phase, e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }

// Exporter is the database's native dump facility; the result is an
// opaque byte stream.
type Exporter interface {
	Export(ctx context.Context) (io.ReadCloser, error)
}

// CommandExporter runs pg_dump on the host against a local server.
type CommandExporter struct {
	DBName   string
	User     string
	Host     string
	PassFile string
}

func (e *CommandExporter) Export(ctx context.Context) (io.ReadCloser, error) {
	host := e.Host
	if host == "" {
		host = "localhost"
	}

	cmd := exec.CommandContext(ctx, "pg_dump", "-U", e.User, "-h", host, e.DBName)
	if e.PassFile != "" {
		cmd.Env = append(cmd.Environ(), "PGPASSFILE="+e.PassFile)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		return nil, &ExportError{Phase: "export", Err: fmt.Errorf("pg_dump: %w: %s", err, stderr.String())}
	}
	return io.NopCloser(bytes.NewReader(output)), nil
}

// DockerExporter runs pg_dump inside the database container, for
// deployments where the server's PostgreSQL is containerized.
type DockerExporter struct {
	Client    *docker.Client
	Container string
	DBName    string
	User      string
}

func (e *DockerExporter) Export(ctx context.Context) (io.ReadCloser, error) {
	if err := e.Client.Ping(ctx); err != nil {
		return nil, &ExportError{Phase: "export", Err: fmt.Errorf("cannot connect to Docker: %w", err)}
	}

	user := e.User
	if user == "" {
		user = "postgres"
	}

	output, err := e.Client.Exec(ctx, e.Container, []string{"pg_dump", "-U", user, e.DBName})
	if err != nil {
		return nil, &ExportError{Phase: "export", Err: err}
	}
	return io.NopCloser(bytes.NewReader(output)), nil
}
