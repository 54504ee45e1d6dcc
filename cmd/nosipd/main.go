// Command nosipd hosts the nosip plugin as a standalone process for
// local exercising and metrics scraping. A real deployment loads the
// plugin into a gateway process that supplies its own HostCallbacks;
// this binary's callbacks implementation only logs, since the actual
// WebRTC peer-connection machinery is the host gateway's job.
package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nosip-bridge/pkg/metrics"
	"nosip-bridge/pkg/nosip"

	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "path to the nosip.cfg configuration file")
	metricsAddr := flag.String("metrics-addr", ":9091", "address to serve /metrics on")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	logger.SetOutput(os.Stdout)

	host := &loggingHost{logger: logger}

	plugin, err := nosip.Init(host, *configPath, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize nosip plugin")
	}

	mux := http.NewServeMux()
	metrics.RegisterHandler(mux)
	server := &http.Server{Addr: *metricsAddr, Handler: mux}
	go func() {
		logger.WithField("addr", *metricsAddr).Info("serving metrics")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("metrics server stopped")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	plugin.Destroy()
	server.Close()
}

// loggingHost is a minimal HostCallbacks implementation for local
// exercising: it logs every callback instead of driving a real WebRTC
// peer connection.
type loggingHost struct {
	logger *logrus.Logger
}

func (h *loggingHost) NotifyEvent(handle string, payload map[string]interface{}) {
	h.logger.WithField("handle", handle).WithField("payload", payload).Debug("notify_event")
}

func (h *loggingHost) PushEvent(handle, transaction string, event, jsep map[string]interface{}) {
	h.logger.WithFields(logrus.Fields{
		"handle": handle, "transaction": transaction, "event": event, "jsep": jsep,
	}).Info("push_event")
}

func (h *loggingHost) RelayRTP(handle string, isVideo bool, buf []byte) {
	h.logger.WithFields(logrus.Fields{"handle": handle, "video": isVideo, "bytes": len(buf)}).Trace("relay_rtp")
}

func (h *loggingHost) RelayRTCP(handle string, isVideo bool, buf []byte) {
	h.logger.WithFields(logrus.Fields{"handle": handle, "video": isVideo, "bytes": len(buf)}).Trace("relay_rtcp")
}

func (h *loggingHost) ClosePC(handle string) {
	h.logger.WithField("handle", handle).Info("close_pc")
}

func (h *loggingHost) EventsEnabled() bool {
	return true
}
