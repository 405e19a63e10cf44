// Command webhook-receiver is a development sink for DISPATCH_MODE=webhook.
// It verifies the signature of every delivery and keeps the most recent ones
// in memory for inspection at /stats.
package main

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/djlord-it/orbitops/internal/dispatcher"
)

const maxStored = 50

type delivery struct {
	ReceivedAt string              `json:"received_at"`
	RunID      string              `json:"run_id"`
	Verified   bool                `json:"verified"`
	Payload    *dispatcher.Payload `json:"payload,omitempty"`
}

type stats struct {
	Count      int64      `json:"count"`
	Rejected   int64      `json:"rejected"`
	Deliveries []delivery `json:"deliveries"`
	Since      string     `json:"since"`
}

type receiver struct {
	secret string
	log    logrus.FieldLogger
	now    func() time.Time

	mu         sync.Mutex
	count      int64
	rejected   int64
	deliveries []delivery
	since      time.Time
}

func newReceiver(secret string, log logrus.FieldLogger) *receiver {
	r := &receiver{secret: secret, log: log, now: time.Now}
	r.since = r.now().UTC()
	return r
}

func (rc *receiver) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/hook", rc.hook)
	r.Get("/stats", rc.stats)
	r.Post("/reset", rc.reset)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok\n")
	})
	return r
}

func (rc *receiver) hook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	d := delivery{
		ReceivedAt: rc.now().UTC().Format(time.RFC3339Nano),
		RunID:      r.Header.Get(dispatcher.HeaderRunID),
		Verified:   dispatcher.VerifySignature(rc.secret, body, r.Header.Get(dispatcher.HeaderSignature)),
	}

	rc.mu.Lock()
	if !d.Verified {
		rc.rejected++
		rc.mu.Unlock()
		rc.log.WithField("run_id", d.RunID).Warn("webhook-receiver: signature mismatch")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}
	rc.mu.Unlock()

	var p dispatcher.Payload
	if err := json.Unmarshal(body, &p); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	d.Payload = &p

	rc.mu.Lock()
	rc.count++
	rc.deliveries = append(rc.deliveries, d)
	if len(rc.deliveries) > maxStored {
		rc.deliveries = rc.deliveries[len(rc.deliveries)-maxStored:]
	}
	current := rc.count
	rc.mu.Unlock()

	rc.log.WithFields(logrus.Fields{
		"run_id":        p.RunID,
		"automation":    p.Automation,
		"scheduled_for": p.ScheduledFor,
		"recipients":    len(p.Recipients),
	}).Infof("webhook-receiver: delivery #%d: %s", current, p.Package.Subject)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int64{"received": current})
}

func (rc *receiver) stats(w http.ResponseWriter, _ *http.Request) {
	rc.mu.Lock()
	s := stats{
		Count:      rc.count,
		Rejected:   rc.rejected,
		Deliveries: append([]delivery{}, rc.deliveries...),
		Since:      rc.since.Format(time.RFC3339),
	}
	rc.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s)
}

func (rc *receiver) reset(w http.ResponseWriter, _ *http.Request) {
	rc.mu.Lock()
	rc.count = 0
	rc.rejected = 0
	rc.deliveries = nil
	rc.since = rc.now().UTC()
	rc.mu.Unlock()
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "reset\n")
}

func main() {
	log := logrus.New()

	addr := ":8081"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}
	secret := os.Getenv("DISPATCH_WEBHOOK_SECRET")
	if secret == "" {
		log.Warn("webhook-receiver: DISPATCH_WEBHOOK_SECRET is empty; only unsigned-key deliveries verify")
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           newReceiver(secret, log).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Infof("webhook-receiver: listening on %s", addr)
	log.Fatal(srv.ListenAndServe())
}
