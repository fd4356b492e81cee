package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/BearBump/ParcelDesk/internal/broker/messages"
	"go.uber.org/zap"
)

type apiOpts struct {
	httpAddr string

	topic         string
	consumerGroup string

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	ConsumeShipmentEvents(ctx context.Context, handle func(context.Context, messages.ShipmentEvent) error, skip func(value []byte, err error)) error
}

type trackingInvalidator interface {
	InvalidateTracking(ctx context.Context, trackingCode string)
}

func runParcelAPI(ctx context.Context, opts apiOpts, handler http.Handler, consumer kafkaConsumer, inv trackingInvalidator, log *zap.Logger) error {
	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- serveHTTP(ctx, lis, handler, log)
	}()

	if consumer != nil {
		go func() {
			log.Info("kafka consumer started", zap.String("topic", opts.topic), zap.String("group", opts.consumerGroup))
			err := consumer.ConsumeShipmentEvents(ctx, invalidateOnEvent(inv), func(_ []byte, err error) {
				log.Warn("skip malformed shipment event", zap.Error(err))
			})
			if err != nil && ctx.Err() == nil {
				log.Error("kafka consumer stopped", zap.Error(err))
			}
		}()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-httpErr:
		return err
	}
}

// invalidateOnEvent drops cached tracking views for shipments changed by any
// replica. Topup events carry no tracking code and are ignored.
func invalidateOnEvent(inv trackingInvalidator) func(context.Context, messages.ShipmentEvent) error {
	return func(ctx context.Context, ev messages.ShipmentEvent) error {
		if ev.TrackingCode != "" {
			inv.InvalidateTracking(ctx, ev.TrackingCode)
		}
		return nil
	}
}

func serveHTTP(ctx context.Context, lis net.Listener, handler http.Handler, log *zap.Logger) error {
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("HTTP API listening", zap.String("addr", lis.Addr().String()))
	err := srv.Serve(lis)
	if err == http.ErrServerClosed {
		return ctx.Err()
	}
	return err
}
