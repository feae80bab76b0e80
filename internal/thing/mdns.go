package thing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/grandcat/zeroconf"
)

const mdnsService = "_webthing._tcp"

// Advertise registers the thing on mDNS until ctx is canceled.
func Advertise(ctx context.Context, instance string, port int, logger *slog.Logger) error {
	server, err := zeroconf.Register(instance, mdnsService, "local.", port, []string{"path=/"}, nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}
	logger.Info("mdns advertising", "instance", instance, "service", mdnsService, "port", port)

	<-ctx.Done()
	server.Shutdown()
	logger.Info("mdns stopped")
	return nil
}
