package controllers

import (
	"github.com/stablofi/stablo/internal/pkg/audit"
	"github.com/stablofi/stablo/internal/pkg/exchange"
	"github.com/stablofi/stablo/internal/pkg/payout"
	"github.com/stablofi/stablo/internal/pkg/transfer"
)

// Package-level service handles, wired once at startup.
var (
	transferService *transfer.Service
	payoutService   *payout.Service
	rateProvider    exchange.RateProvider
	auditRecorder   *audit.Recorder
)

// Initialize hands the controllers their service dependencies. Must be
// called before the router installs any handler.
func Initialize(ts *transfer.Service, ps *payout.Service, rates exchange.RateProvider, recorder *audit.Recorder) {
	transferService = ts
	payoutService = ps
	rateProvider = rates
	auditRecorder = recorder
}
