package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/b3nn0/imuattitude/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type attitudeStatus struct {
	Roll, Pitch, Yaw float64 // deg
	Quaternion       [4]float64
	Beta             float64
	Updates          uint64
	Rejected         uint64
	Deltat           float64 // s
	LastSample       string
	Uptime           string
	Version          string
}

type statusServer struct {
	loop     *attitudeLoop
	clock    *common.Monotonic
	gatherer prometheus.Gatherer
}

func (srv *statusServer) status() attitudeStatus {
	s := srv.loop.Snapshot()
	e := s.Euler.Degrees()
	st := attitudeStatus{
		Roll:       e.Roll,
		Pitch:      e.Pitch,
		Yaw:        e.Yaw,
		Quaternion: [4]float64{s.Q.Real, s.Q.Imag, s.Q.Jmag, s.Q.Kmag},
		Beta:       srv.loop.filter.Beta(),
		Updates:    s.Updates,
		Rejected:   s.Rejected,
		Deltat:     s.Deltat,
		LastSample: "never",
		Uptime:     srv.clock.HumanizeUptime(),
		Version:    imuattitudeVersion,
	}
	if !s.T.IsZero() {
		st.LastSample = srv.clock.HumanizeTime(s.T)
	}
	return st
}

func (srv *statusServer) handleStatusRequest(w http.ResponseWriter, r *http.Request) {
	statusJSON, err := json.Marshal(srv.status())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Write(statusJSON)
}

func (srv *statusServer) handleCageRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "use POST", http.StatusMethodNotAllowed)
		return
	}
	log.Printf("AHRS Info: cage requested by %s\n", r.RemoteAddr)
	srv.loop.Cage()
	w.WriteHeader(http.StatusAccepted)
}

func (srv *statusServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", srv.handleStatusRequest)
	mux.HandleFunc("/status", srv.handleStatusRequest)
	mux.HandleFunc("/cage", srv.handleCageRequest)
	mux.Handle("/metrics", promhttp.HandlerFor(srv.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// serve listens on addr until ctx is done.
func (srv *statusServer) serve(ctx context.Context, addr string) error {
	hs := &http.Server{Addr: addr, Handler: srv.handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		hs.Shutdown(shutdownCtx)
	}()
	log.Printf("AHRS Info: status and metrics on %s\n", addr)
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
