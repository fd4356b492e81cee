package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/BearBump/ParcelDesk/internal/api/httpapi"
	"github.com/BearBump/ParcelDesk/internal/broker/messages"
	"github.com/BearBump/ParcelDesk/internal/services/catalog"
	"github.com/BearBump/ParcelDesk/internal/services/settlement"
	"github.com/BearBump/ParcelDesk/internal/storage/memstore"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeConsumer struct {
	msgs [][]byte
}

func (c fakeConsumer) ConsumeShipmentEvents(ctx context.Context, handle func(context.Context, messages.ShipmentEvent) error, skip func([]byte, error)) error {
	for _, m := range c.msgs {
		var ev messages.ShipmentEvent
		if err := json.Unmarshal(m, &ev); err != nil {
			skip(m, err)
			continue
		}
		if err := handle(ctx, ev); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

type recordingInvalidator struct {
	mu    sync.Mutex
	codes []string
	seen  chan struct{}
}

func (r *recordingInvalidator) InvalidateTracking(_ context.Context, code string) {
	r.mu.Lock()
	r.codes = append(r.codes, code)
	r.mu.Unlock()
	r.seen <- struct{}{}
}

func TestRunParcelAPI_ServesAndStops(t *testing.T) {
	dir := t.TempDir()
	sw := filepath.Join(dir, "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))

	st := memstore.New()
	wf := settlement.New(st, st, nil)
	h := httpapi.New(wf, catalog.New(st, nil), httpapi.Options{JWTSecret: []byte("k"), SwaggerPath: sw}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	opts := apiOpts{
		httpAddr:      "127.0.0.1:0",
		topic:         "t",
		consumerGroup: "g",
		onListen:      func(addr string) { addrCh <- addr },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- runParcelAPI(ctx, opts, h.Routes(), fakeConsumer{}, wf, zap.NewNop())
	}()
	addr := <-addrCh

	resp, err := http.Get("http://" + addr + "/swagger.json")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"swagger"`)

	resp, err = http.Get("http://" + addr + "/api/shipments")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
}

func TestRunParcelAPI_ConsumerInvalidatesTracking(t *testing.T) {
	ev, err := json.Marshal(messages.ShipmentEvent{Type: messages.EventShipmentStatusChanged, TrackingCode: "BE12345678001"})
	require.NoError(t, err)
	topup, err := json.Marshal(messages.ShipmentEvent{Type: messages.EventTopupDecided, TopupID: 3})
	require.NoError(t, err)

	inv := &recordingInvalidator{seen: make(chan struct{}, 4)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- runParcelAPI(ctx, apiOpts{httpAddr: "127.0.0.1:0"}, http.NotFoundHandler(),
			fakeConsumer{msgs: [][]byte{[]byte("{broken"), topup, ev}}, inv, zap.NewNop())
	}()

	<-inv.seen
	cancel()
	<-errCh

	inv.mu.Lock()
	defer inv.mu.Unlock()
	require.Equal(t, []string{"BE12345678001"}, inv.codes)
}

func TestRunParcelAPI_ListenError(t *testing.T) {
	err := runParcelAPI(context.Background(), apiOpts{httpAddr: "bad-addr"}, http.NotFoundHandler(), nil, nil, zap.NewNop())
	require.Error(t, err)
}
