package digest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/compass/internal/consent"
	"github.com/MarcoPoloResearchLab/compass/internal/wellness"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultActorID     = "digest-scheduler"
	DefaultPairTimeout = 60 * time.Second
)

type ShareLister interface {
	ListConsentingShares(ctx context.Context) ([]consent.Share, error)
}

type PairComposer interface {
	Compose(ctx context.Context, request Request) (Payload, error)
}

// PairResult is the outcome of one pair in a batch run.
type PairResult struct {
	PairID    string         `json:"pair_id"`
	UserID    string         `json:"user_id"`
	PartnerID string         `json:"partner_id"`
	OK        bool           `json:"ok"`
	Status    DeliveryStatus `json:"status,omitempty"`
	RecordID  string         `json:"record_id,omitempty"`
	ErrorCode string         `json:"error_code,omitempty"`
	Err       error          `json:"-"`
}

// DispatcherConfig wires the batch dispatcher.
type DispatcherConfig struct {
	Shares   ShareLister
	Composer PairComposer
	// Concurrency caps in-flight pairs. Values below 1 mean sequential processing.
	Concurrency int
	PairTimeout time.Duration
	ActorID     string
	Logger      *zap.Logger
}

// Dispatcher sends digests for every consenting pair with per-pair failure isolation.
type Dispatcher struct {
	shares      ShareLister
	composer    PairComposer
	concurrency int
	pairTimeout time.Duration
	actorID     string
	logger      *zap.Logger
}

func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Shares == nil || cfg.Composer == nil {
		return nil, wellness.NewServiceError("digest.dispatcher.new", "missing_dependency", errors.New("shares and composer are required"))
	}
	dispatcher := &Dispatcher{
		shares:      cfg.Shares,
		composer:    cfg.Composer,
		concurrency: cfg.Concurrency,
		pairTimeout: cfg.PairTimeout,
		actorID:     cfg.ActorID,
		logger:      cfg.Logger,
	}
	if dispatcher.concurrency < 1 {
		dispatcher.concurrency = 1
	}
	if dispatcher.pairTimeout <= 0 {
		dispatcher.pairTimeout = DefaultPairTimeout
	}
	if dispatcher.actorID == "" {
		dispatcher.actorID = DefaultActorID
	}
	if dispatcher.logger == nil {
		dispatcher.logger = zap.NewNop()
	}
	return dispatcher, nil
}

// RunForAllConsentingPairs returns one result per consenting share, in enumeration order.
// Only a failure to enumerate the shares is returned as an error.
func (d *Dispatcher) RunForAllConsentingPairs(ctx context.Context) ([]PairResult, error) {
	shares, err := d.shares.ListConsentingShares(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]PairResult, len(shares))
	var group errgroup.Group
	group.SetLimit(d.concurrency)
	for index, share := range shares {
		group.Go(func() error {
			results[index] = d.runPair(ctx, share)
			return nil
		})
	}
	_ = group.Wait()

	sent, failed := 0, 0
	for _, result := range results {
		if result.OK {
			sent++
		} else {
			failed++
		}
	}
	d.logger.Info("digest batch finished",
		zap.Int("pairs", len(results)),
		zap.Int("ok", sent),
		zap.Int("failed", failed))
	return results, nil
}

func (d *Dispatcher) runPair(ctx context.Context, share consent.Share) (result PairResult) {
	result = PairResult{PairID: share.ID, UserID: share.UserID, PartnerID: share.PartnerID}
	defer func() {
		if recovered := recover(); recovered != nil {
			result.OK = false
			result.Err = fmt.Errorf("digest pair %s panicked: %v", share.ID, recovered)
			result.ErrorCode = "digest.dispatch.panic"
			d.logger.Error("digest pair panicked", zap.String("pair_id", share.ID), zap.Any("panic", recovered))
		}
	}()

	pairCtx, cancel := context.WithTimeout(ctx, d.pairTimeout)
	defer cancel()

	payload, err := d.composer.Compose(pairCtx, Request{
		UserID:    wellness.UserID(share.UserID),
		PartnerID: wellness.UserID(share.PartnerID),
		Mode:      ModeSend,
		ActorID:   d.actorID,
	})
	if err != nil {
		result.Err = err
		result.ErrorCode = wellness.ErrorCode(err)
		d.logger.Warn("digest pair failed",
			zap.String("pair_id", share.ID),
			zap.String("error_code", result.ErrorCode),
			zap.Error(err))
		return result
	}
	result.OK = true
	if payload.Delivery != nil {
		result.Status = payload.Delivery.Status
		result.RecordID = payload.Delivery.RecordID
	}
	return result
}
