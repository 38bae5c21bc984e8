// Package logstream follows container logs for a compose service and
// fans the lines of all its containers into one channel.
package logstream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dockhand/dockhand/internal/docker"
)

// Line is one log line from one container of the streamed service.
type Line struct {
	Service   string `json:"service"`
	Container string `json:"container"`
	Text      string `json:"text"`
}

// Streamer resolves services to containers and follows their logs.
type Streamer struct {
	gateway docker.Gateway
	logger  *logrus.Logger
}

// NewStreamer creates a streamer over the given gateway.
func NewStreamer(gateway docker.Gateway, logger *logrus.Logger) *Streamer {
	if logger == nil {
		logger = logrus.New()
	}
	return &Streamer{gateway: gateway, logger: logger}
}

// StreamServiceLogs follows the logs of every running container of the
// service. The channel closes when all containers stop producing or the
// context is cancelled. The tail parameter replays that many recent lines
// per container before following.
func (s *Streamer) StreamServiceLogs(ctx context.Context, service string, tail int) (<-chan Line, error) {
	containers, err := s.gateway.ListByService(ctx, service, false)
	if err != nil {
		return nil, err
	}
	if len(containers) == 0 {
		return nil, fmt.Errorf("no running containers for service %s", service)
	}

	lines := make(chan Line, 64)
	var wg sync.WaitGroup

	for _, ctr := range containers {
		reader, err := s.gateway.FollowLogs(ctx, ctr.ID, fmt.Sprintf("%d", tail), false)
		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"service":   service,
				"container": docker.ShortID(ctr.ID),
			}).Warn("log follow failed")
			continue
		}

		wg.Add(1)
		go func(containerID string, reader io.ReadCloser) {
			defer wg.Done()
			defer reader.Close()

			scanner := bufio.NewScanner(reader)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for scanner.Scan() {
				select {
				case lines <- Line{
					Service:   service,
					Container: docker.ShortID(containerID),
					Text:      scanner.Text(),
				}:
				case <-ctx.Done():
					return
				}
			}
		}(ctr.ID, reader)
	}

	go func() {
		wg.Wait()
		close(lines)
	}()

	return lines, nil
}
