package service

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// registerMetrics wires gauges for active users, warm spares, and
// desired capacity onto reg, the way worker.Pool.registerMetrics does
// for the teacher's dispatcher -- except these read live state on
// every scrape via NewGaugeFunc rather than being Set() from a
// background loop, the pattern sdk/go/httpserver/inspect.go and
// services/keepstore/metrics.go use for values that are cheap to
// recompute on demand.
func (s *Service) registerMetrics(reg *prometheus.Registry) {
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "workbench",
			Name:      "active_users",
			Help:      "Number of users with a RUNNING workspace.",
		},
		func() float64 {
			n, err := s.Session.ActiveCount(context.Background())
			if err != nil {
				s.Log.WithError(err).Warn("active_users metric scrape failed")
				return 0
			}
			return float64(n)
		},
	))
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "workbench",
			Name:      "warm_spares",
			Help:      "Number of unassigned, ready instances sitting in the warm pool.",
		},
		func() float64 {
			n, err := s.WarmPool.Size(context.Background())
			if err != nil {
				s.Log.WithError(err).Warn("warm_spares metric scrape failed")
				return 0
			}
			return float64(n)
		},
	))
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "workbench",
			Name:      "asg_desired_capacity",
			Help:      "The auto-scaling group's current desired capacity.",
		},
		func() float64 {
			asg, err := s.Cloud.DescribeAsg(context.Background())
			if err != nil {
				s.Log.WithError(err).Warn("asg_desired_capacity metric scrape failed")
				return 0
			}
			return float64(asg.DesiredCapacity)
		},
	))
}
