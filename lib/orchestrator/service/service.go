// Package service wires the Allocator, Liveness Gateway, and
// Lifecycle Reactor onto the HTTP surface of §6, plus the
// supplemented /metrics endpoint (SPEC_FULL.md). Grounded on arvados
// lib/dispatchcloud/dispatcher.go's httprouter-plus-promhttp wiring
// and its ctxlog-derived per-request logger.
package service

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/fogscale/workbench/lib/ctxlog"
	"github.com/fogscale/workbench/lib/orchestrator"
	"github.com/fogscale/workbench/lib/orchestrator/clock"
	"github.com/fogscale/workbench/lib/orchestrator/cloud"
	"github.com/fogscale/workbench/lib/orchestrator/lifecycle"
	"github.com/fogscale/workbench/lib/orchestrator/liveness"
	"github.com/fogscale/workbench/lib/orchestrator/store"
	"github.com/fogscale/workbench/lib/orchestrator/wberrors"
)

// Allocator is the slice of allocator.Allocator this service depends
// on, declared locally to avoid importing package allocator just for
// its struct type.
type Allocator interface {
	Allocate(ctx context.Context, userID string) (*orchestrator.AllocationOutcome, error)
}

// Capacity is the slice of capacity.Controller the Service holds. No
// handler calls it; /status reads the ASG through Cloud instead.
type Capacity interface {
	Reconcile(ctx context.Context) error
}

// AuthContext resolves the authenticated userId for a request, an
// external collaborator per §1's scope note ("authentication and
// user-identity resolution" is explicitly out of the core).
type AuthContext func(r *http.Request) (userID string, ok bool)

// Service holds everything the HTTP handlers need.
type Service struct {
	Allocator Allocator
	Liveness  *liveness.Gateway
	Lifecycle *lifecycle.Reactor
	WarmPool  store.WarmPool
	Session   store.SessionStore
	Cloud     cloud.Adapter
	Cap       Capacity
	Clock     clock.Clock
	Auth      AuthContext
	Registry  *prometheus.Registry
	Log       logrus.FieldLogger
	StartedAt time.Time
}

// Handler builds the routed http.Handler for the whole surface.
func (s *Service) Handler() http.Handler {
	mux := httprouter.New()
	mux.HandlerFunc(http.MethodGet, "/health", s.handleHealth)
	mux.HandlerFunc(http.MethodGet, "/status", s.handleStatus)
	mux.HandlerFunc(http.MethodPost, "/machines/allocate", s.handleAllocate)
	mux.HandlerFunc(http.MethodGet, "/machines/status", s.handleMachineStatus)
	mux.HandlerFunc(http.MethodPost, "/ping", s.handlePing)
	mux.HandlerFunc(http.MethodPost, "/webhook/lifecycle", s.handleLifecycleWebhook)
	if s.Registry != nil {
		s.registerMetrics(s.Registry)
		mux.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{}))
	}
	return s.withRequestID(mux)
}

// withRequestID tags every request with a fresh request id and
// attaches a logger carrying it to the request context, so handler
// logs taken through s.logger(r) can be correlated back to the
// triggering request. The Lifecycle Reactor's async goroutines run on
// a fresh background context and log through the reactor's own
// logger, so their lines do not carry the request id.
func (s *Service) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		entry := s.Log.WithField("RequestID", requestID)
		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r.WithContext(ctxlog.Context(r.Context(), entry)))
	})
}

func (s *Service) logger(r *http.Request) logrus.FieldLogger {
	return ctxlog.FromContext(r.Context())
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	kind := wberrors.KindOf(err)
	writeJSON(w, kind.HTTPStatus(), map[string]interface{}{
		"status":    kind.HTTPStatus(),
		"message":   err.Error(),
		"errorKind": string(kind),
	})
}

// handleHealth implements GET /health.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"uptimeSeconds": int(s.Clock.Now().Sub(s.StartedAt).Seconds()),
	})
}

// instanceView is the read-only per-instance row the supplemented
// /status inspection view exposes, the way the teacher's apiInstances
// does for its own management API.
type instanceView struct {
	InstanceID string `json:"instanceId"`
	Owner      string `json:"owner"`
	State      string `json:"state"`
	InPool     bool   `json:"inPool"`
}

// handleStatus implements GET /status (admin), folding in a read-only
// per-instance inspection view on top of the aggregate counts.
func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	active, err := s.Session.ActiveCount(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	warmSpares, err := s.WarmPool.Size(ctx)
	if err != nil {
		writeError(w, err)
		return
	}

	var instances []instanceView
	var asgCapacity, totalInstances int
	if s.Cloud != nil {
		asg, err := s.Cloud.DescribeAsg(ctx)
		if err != nil {
			writeError(w, err)
			return
		}
		asgCapacity = asg.DesiredCapacity
		totalInstances = len(asg.InstanceIDs)
		for _, id := range asg.InstanceIDs {
			owner, ok, err := s.Session.GetUserForInstance(ctx, id)
			if err != nil {
				writeError(w, err)
				return
			}
			if !ok {
				owner = orchestrator.OwnerUnassigned
			}
			inPool, err := s.WarmPool.InPool(ctx, id)
			if err != nil {
				writeError(w, err)
				return
			}
			desc, err := s.Cloud.DescribeInstance(ctx, id)
			state := "unknown"
			if err == nil {
				state = desc.State
			}
			instances = append(instances, instanceView{
				InstanceID: id,
				Owner:      owner,
				State:      state,
				InPool:     inPool,
			})
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"activeUsers":    active,
		"warmSpares":     warmSpares,
		"totalInstances": totalInstances,
		"asgCapacity":    asgCapacity,
		"instances":      instances,
	})
}

// handleAllocate implements POST /machines/allocate.
func (s *Service) handleAllocate(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.Auth(r)
	if !ok {
		writeError(w, wberrors.New(wberrors.NotAuthenticated, "missing authenticated user context"))
		return
	}
	outcome, err := s.Allocator.Allocate(r.Context(), userID)
	if err != nil {
		s.logger(r).WithError(err).WithField("UserID", userID).Error("allocate failed")
		writeError(w, err)
		return
	}
	if outcome.Processing {
		writeJSON(w, http.StatusAccepted, map[string]interface{}{"status": "processing"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"instanceId": outcome.Record.InstanceID,
		"publicUrl":  outcome.Record.PublicEndpoint,
	})
}

// handleMachineStatus implements GET /machines/status.
func (s *Service) handleMachineStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.Auth(r)
	if !ok {
		writeError(w, wberrors.New(wberrors.NotAuthenticated, "missing authenticated user context"))
		return
	}
	record, ok, err := s.Session.GetWorkspace(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, wberrors.New(wberrors.NotFound, "no workspace for user"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"instanceId": record.InstanceID,
		"publicUrl":  record.PublicEndpoint,
		"state":      record.State,
		"lastSeen":   record.LastSeen,
	})
}

type pingRequest struct {
	InstanceID string `json:"instanceId"`
}

// handlePing implements POST /ping. A malformed or empty-field request
// body is a transport-layer validation failure, not any of the §7
// domain kinds (BadInstance specifically means an instance that failed
// readiness, not a bad request), so it is reported directly as 400
// rather than routed through writeError's Kind->status mapping.
func (s *Service) handlePing(w http.ResponseWriter, r *http.Request) {
	var req pingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.InstanceID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"status":  http.StatusBadRequest,
			"message": "missing instanceId",
		})
		return
	}
	if err := s.Liveness.Ping(r.Context(), req.InstanceID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":        true,
		"timestamp": s.Clock.Now().UnixMilli(),
	})
}

// lifecycleEvent is the provider event envelope for
// POST /webhook/lifecycle; signature verification is an external
// collaborator per §6 ("provider-signed") and is assumed to have
// happened before this handler runs.
type lifecycleEvent struct {
	Kind       string `json:"kind"` // "launch" | "terminate"
	InstanceID string `json:"instanceId"`
}

// handleLifecycleWebhook implements POST /webhook/lifecycle. It acks
// immediately and dispatches the (potentially slow, readiness-polling)
// handler asynchronously, per §9's "ack before completing" note.
func (s *Service) handleLifecycleWebhook(w http.ResponseWriter, r *http.Request) {
	var evt lifecycleEvent
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"status":  http.StatusBadRequest,
			"message": "malformed lifecycle event",
		})
		return
	}
	w.WriteHeader(http.StatusOK)

	ctx := context.Background()
	switch evt.Kind {
	case "launch":
		go s.Lifecycle.OnLaunch(ctx, evt.InstanceID)
	case "terminate":
		go s.Lifecycle.OnTerminate(ctx, evt.InstanceID)
	default:
		s.Log.WithField("Kind", evt.Kind).Warn("unknown lifecycle event kind")
	}
}
