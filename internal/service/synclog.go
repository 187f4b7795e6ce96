package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pos-gateway/internal/models"
	"pos-gateway/internal/util"

	"go.uber.org/zap"
)

const defaultSyncLogTimeout = 5 * time.Second

// SyncLogger writes sync log entries in the background. Write failures are
// reported to the process log and never reach the caller.
type SyncLogger struct {
	sink    SyncLogSink
	timeout time.Duration
	wg      sync.WaitGroup
	logger  *zap.Logger
}

// NewSyncLogger creates a new sync logger
func NewSyncLogger(sink SyncLogSink) *SyncLogger {
	return &SyncLogger{
		sink:    sink,
		timeout: defaultSyncLogTimeout,
		logger:  util.GetLogger(),
	}
}

// Record appends entry without waiting for the write
func (l *SyncLogger) Record(entry models.SyncLogEntry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				l.reportFailure(entry, fmt.Errorf("panic: %v", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		defer cancel()

		if err := l.sink.AppendSyncLog(ctx, &entry); err != nil {
			l.reportFailure(entry, err)
		}
	}()
}

// Success records a success entry
func (l *SyncLogger) Success(action string, cfg models.IntegrationConfig, request map[string]any, response any, duration time.Duration) {
	l.Record(models.SyncLogEntry{
		Type:         models.SyncLogSuccess,
		Action:       action,
		RestaurantID: cfg.RestaurantID,
		POSVendor:    cfg.POSVendor,
		RequestData:  request,
		ResponseData: response,
		Duration:     duration,
	})
}

// Failure records an error entry
func (l *SyncLogger) Failure(action string, cfg models.IntegrationConfig, request map[string]any, err error, duration time.Duration) {
	l.Record(models.SyncLogEntry{
		Type:         models.SyncLogError,
		Action:       action,
		RestaurantID: cfg.RestaurantID,
		POSVendor:    cfg.POSVendor,
		RequestData:  request,
		Error:        err.Error(),
		Duration:     duration,
	})
}

// Info records an informational entry
func (l *SyncLogger) Info(action string, cfg models.IntegrationConfig, request map[string]any, response any) {
	l.Record(models.SyncLogEntry{
		Type:         models.SyncLogInfo,
		Action:       action,
		RestaurantID: cfg.RestaurantID,
		POSVendor:    cfg.POSVendor,
		RequestData:  request,
		ResponseData: response,
	})
}

// Wait blocks until every pending write has finished
func (l *SyncLogger) Wait() {
	l.wg.Wait()
}

func (l *SyncLogger) reportFailure(entry models.SyncLogEntry, err error) {
	util.SyncLogWriteFailuresTotal.Inc()
	l.logger.Error("Failed to write sync log",
		zap.String("action", entry.Action),
		zap.String("type", entry.Type),
		zap.String("restaurant_id", entry.RestaurantID),
		zap.Error(err))
}
