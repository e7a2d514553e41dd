package alert

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"charging-alert-backend/config"
	"charging-alert-backend/internal/idle"
	"charging-alert-backend/internal/model"
	"charging-alert-backend/internal/notify"
	"charging-alert-backend/internal/store"
)

// TickState classifies what one engine tick did.
type TickState int

const (
	StateDisabled TickState = iota
	StateOutsideWindow
	StateNonWorkday
	StateWindowBoundary
	StateBoundaryCooldown
	StateSteadyState
)

func (s TickState) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateOutsideWindow:
		return "outside_window"
	case StateNonWorkday:
		return "non_workday"
	case StateWindowBoundary:
		return "window_boundary"
	case StateBoundaryCooldown:
		return "boundary_cooldown"
	case StateSteadyState:
		return "steady_state"
	}
	return "unknown"
}

// Result summarizes one engine tick.
type Result struct {
	State       TickState `json:"state"`
	IdleSockets int       `json:"idleSockets"`
	AlertsSent  int       `json:"alertsSent"`
	SummaryType string    `json:"summaryType,omitempty"`
	Deduped     bool      `json:"deduped,omitempty"`
	Failed      bool      `json:"failed,omitempty"`
	Error       string    `json:"error,omitempty"`
}

type idleDetector interface {
	Detect(ctx context.Context, cfg config.AlertConfig, now time.Time) ([]idle.Socket, error)
	DetectAll(ctx context.Context, now time.Time) ([]idle.Socket, error)
}

type workdayChecker interface {
	IsWorkday(ctx context.Context, now time.Time) bool
}

type webhookSink interface {
	SendAll(ctx context.Context, urls []string, payload any) []notify.SendResult
}

type chatSink interface {
	SendBatch(ctx context.Context, sockets []idle.Socket) notify.ChatResult
	SendSummary(ctx context.Context, messageType string, socketCount int) notify.ChatResult
}

// Engine runs the alerting decision flow once per poll tick. Senders
// are rebuilt from the tick's config snapshot so admin-API changes to
// retry policy or the chat sink take effect on the next tick.
type Engine struct {
	store    store.Store
	detector idleDetector
	workday  workdayChecker
	loc      *time.Location
	log      *zap.SugaredLogger

	newWebhooks func(cfg config.AlertConfig) webhookSink
	newChat     func(cfg config.ChatConfig) chatSink
}

// NewEngine wires an engine against the real senders.
func NewEngine(s store.Store, d *idle.Detector, w workdayChecker, loc *time.Location, log *zap.SugaredLogger) *Engine {
	return &Engine{
		store:    s,
		detector: d,
		workday:  w,
		loc:      loc,
		log:      log,
		newWebhooks: func(cfg config.AlertConfig) webhookSink {
			return notify.NewWebhookSender(cfg.RetryTimes, cfg.RetryIntervalSeconds, log)
		},
		newChat: func(cfg config.ChatConfig) chatSink {
			return notify.NewChatSender(cfg, log)
		},
	}
}

// Run executes one tick of the alerting flow at now. It never panics
// into the poller; an internal panic is reported as a failed result.
func (e *Engine) Run(ctx context.Context, cfg config.AlertConfig, now time.Time) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Errorw("alert engine panicked", "panic", r)
			res = Result{Failed: true, Error: fmt.Sprintf("engine panic: %v", r)}
		}
	}()

	if !cfg.Enabled {
		return Result{State: StateDisabled}
	}

	local := now.In(e.loc)
	nowStr := local.Format("15:04")

	inWindow, err := InTimeWindow(nowStr, cfg.TimeRangeStart, cfg.TimeRangeEnd)
	if err != nil {
		return Result{Failed: true, Error: err.Error()}
	}
	if !inWindow {
		return Result{State: StateOutsideWindow}
	}

	if !e.workday.IsWorkday(ctx, local) {
		return Result{State: StateNonWorkday}
	}

	// Boundary handling only once the window is actually open; a tick a
	// minute before the start must not broadcast early.
	atBoundary, boundaryType, err := NearBoundary(nowStr, cfg.TimeRangeStart, cfg.TimeRangeEnd, cfg.BoundaryToleranceMinutes)
	if err != nil {
		return Result{Failed: true, Error: err.Error()}
	}
	if atBoundary {
		return e.runBoundary(ctx, cfg, now, boundaryType)
	}

	inCooldown, _, err := NearBoundary(nowStr, cfg.TimeRangeStart, cfg.TimeRangeEnd, cfg.BoundaryCooldownMinutes)
	if err != nil {
		return Result{Failed: true, Error: err.Error()}
	}
	if inCooldown {
		return Result{State: StateBoundaryCooldown}
	}

	return e.runSteadyState(ctx, cfg, now)
}

// payloadConfig echoes the active alerting thresholds into an outgoing
// webhook payload.
func payloadConfig(cfg config.AlertConfig) notify.PayloadConfig {
	return notify.PayloadConfig{
		Threshold: cfg.IdleThresholdMinutes,
		TimeRange: cfg.TimeRangeStart + "-" + cfg.TimeRangeEnd,
	}
}

// runBoundary sends the window-boundary summary broadcast, at most once
// per boundary thanks to the recent-summary dedup.
func (e *Engine) runBoundary(ctx context.Context, cfg config.AlertConfig, now time.Time, boundaryType string) Result {
	res := Result{State: StateWindowBoundary, SummaryType: boundaryType}

	since := now.Unix() - int64(cfg.SummaryDedupMinutes)*60
	sent, err := e.store.HasRecentSummary(ctx, boundaryType, since)
	if err != nil {
		res.Failed = true
		res.Error = err.Error()
		return res
	}
	if sent {
		res.Deduped = true
		return res
	}

	sockets, err := e.detector.DetectAll(ctx, now)
	if err != nil {
		res.Failed = true
		res.Error = err.Error()
		return res
	}
	res.IdleSockets = len(sockets)

	chat := e.newChat(cfg.Chat)
	chatRes := chat.SendSummary(ctx, boundaryType, len(sockets))

	webhookEnabled := len(cfg.WebhookURLs) > 0
	webhookSuccess := false
	if webhookEnabled {
		summarySockets := make([]notify.SummarySocket, 0, len(sockets))
		for _, s := range sockets {
			summarySockets = append(summarySockets, notify.SummarySocket{
				StationID:     s.StationID,
				StationName:   s.StationName,
				SocketID:      s.SocketID,
				IdleMinutes:   s.IdleMinutes,
				IdleStartTime: s.IdleStartTime / 1000,
				Status:        string(model.StatusAvailable),
			})
		}
		payload := notify.SummaryPayload{
			Type:        "summary",
			MessageType: boundaryType,
			SocketCount: len(sockets),
			Sockets:     summarySockets,
			Timestamp:   now.UnixMilli(),
			Config:      payloadConfig(cfg),
		}
		results := e.newWebhooks(cfg).SendAll(ctx, cfg.WebhookURLs, payload)
		webhookSuccess = true
		for _, r := range results {
			if !r.Success {
				webhookSuccess = false
			}
		}
	}

	summary := model.SummaryLog{
		ID:             fmt.Sprintf("summary-%s-%d", boundaryType, now.Unix()),
		MessageType:    boundaryType,
		SocketCount:    len(sockets),
		SentAt:         now.Unix(),
		SentTimeStr:    now.In(e.loc).Format("15:04"),
		ChatEnabled:    cfg.Chat.Enabled,
		ChatSuccess:    cfg.Chat.Enabled && chatRes.Success,
		ChatMessageID:  chatRes.MessageID,
		ChatError:      chatRes.Error,
		WebhookEnabled: webhookEnabled,
		WebhookSuccess: webhookSuccess,
		CreatedAt:      now.Unix(),
	}
	if err := e.store.SaveSummaryLog(ctx, summary); err != nil {
		res.Failed = true
		res.Error = err.Error()
		return res
	}

	if boundaryType == model.SummaryWindowStart {
		if err := e.premarkCovered(ctx, now, sockets); err != nil {
			res.Failed = true
			res.Error = err.Error()
			return res
		}
	}
	if summary.ChatSuccess || summary.WebhookSuccess {
		res.AlertsSent = 1
	}
	return res
}

// premarkCovered writes successful alert logs for every socket idle when
// the window opened, so steady-state ticks do not alert episodes the
// opening summary already covered. Only a fresh idle→occupied→idle cycle
// alerts again after the broadcast.
func (e *Engine) premarkCovered(ctx context.Context, now time.Time, sockets []idle.Socket) error {
	var logs []model.IdleAlertLog
	for _, s := range sockets {
		if s.IdleStartTime == 0 {
			// No anchor event to key the episode dedup on.
			continue
		}
		logs = append(logs, model.IdleAlertLog{
			ID:            fmt.Sprintf("%d-%d-summary-%s-%d", s.StationID, s.SocketID, model.SummaryWindowStart, now.Unix()),
			StationID:     s.StationID,
			StationName:   s.StationName,
			SocketID:      s.SocketID,
			IdleMinutes:   s.IdleMinutes,
			IdleStartTime: s.IdleStartTime / 1000,
			Target:        "summary_" + model.SummaryWindowStart,
			Success:       true,
			TriggeredAt:   now.Unix(),
			LogDate:       now.In(e.loc).Format("2006-01-02"),
		})
	}
	if len(logs) == 0 {
		return nil
	}
	return e.store.SaveIdleAlertLogs(ctx, logs)
}

// runSteadyState alerts each newly idle socket individually.
func (e *Engine) runSteadyState(ctx context.Context, cfg config.AlertConfig, now time.Time) Result {
	res := Result{State: StateSteadyState}

	sockets, err := e.detector.Detect(ctx, cfg, now)
	if err != nil {
		res.Failed = true
		res.Error = err.Error()
		return res
	}
	res.IdleSockets = len(sockets)
	if len(sockets) == 0 {
		return res
	}

	if len(cfg.WebhookURLs) == 0 && !cfg.Chat.Enabled {
		res.Failed = true
		res.Error = "no notification targets configured"
		return res
	}

	chatRes := e.newChat(cfg.Chat).SendBatch(ctx, sockets)
	webhooks := e.newWebhooks(cfg)

	var chatSuccess *bool
	if cfg.Chat.Enabled {
		chatSuccess = &chatRes.Success
	}

	logDate := now.In(e.loc).Format("2006-01-02")
	triggeredAt := now.Unix()
	var logs []model.IdleAlertLog
	for _, s := range sockets {
		payload := notify.IdlePayload{
			Type:          "idle_alert",
			StationID:     s.StationID,
			StationName:   s.StationName,
			SocketID:      s.SocketID,
			IdleMinutes:   s.IdleMinutes,
			IdleStartTime: s.IdleStartTime,
			Timestamp:     now.UnixMilli(),
			Config:        payloadConfig(cfg),
		}

		socketDelivered := cfg.Chat.Enabled && chatRes.Success

		if len(cfg.WebhookURLs) > 0 {
			results := webhooks.SendAll(ctx, cfg.WebhookURLs, payload)
			for i, r := range results {
				if r.Success {
					socketDelivered = true
				}
				// Keyed by trigger time, not episode start: a failed
				// attempt's row must not shadow a later successful one.
				logs = append(logs, model.IdleAlertLog{
					ID:             fmt.Sprintf("%d-%d-w%d-%d", s.StationID, s.SocketID, i, triggeredAt),
					StationID:      s.StationID,
					StationName:    s.StationName,
					SocketID:       s.SocketID,
					IdleMinutes:    s.IdleMinutes,
					IdleStartTime:  s.IdleStartTime / 1000,
					Target:         r.URL,
					ResponseStatus: r.Status,
					ResponseBody:   r.Body,
					ElapsedMs:      r.ElapsedMs,
					Success:        r.Success,
					ErrorMessage:   r.Error,
					RetryCount:     r.RetryCount,
					TriggeredAt:    triggeredAt,
					LogDate:        logDate,
					ChatSuccess:    chatSuccess,
					ChatMessageID:  chatRes.MessageID,
					ChatError:      chatRes.Error,
					ChatElapsedMs:  chatRes.ElapsedMs,
				})
			}
		} else {
			logs = append(logs, model.IdleAlertLog{
				ID:            fmt.Sprintf("%d-%d-chat-%d", s.StationID, s.SocketID, triggeredAt),
				StationID:     s.StationID,
				StationName:   s.StationName,
				SocketID:      s.SocketID,
				IdleMinutes:   s.IdleMinutes,
				IdleStartTime: s.IdleStartTime / 1000,
				Target:        "chat",
				Success:       chatRes.Success,
				ErrorMessage:  chatRes.Error,
				ElapsedMs:     chatRes.ElapsedMs,
				TriggeredAt:   triggeredAt,
				LogDate:       logDate,
				ChatSuccess:   chatSuccess,
				ChatMessageID: chatRes.MessageID,
				ChatError:     chatRes.Error,
				ChatElapsedMs: chatRes.ElapsedMs,
			})
		}

		if socketDelivered {
			res.AlertsSent++
		}
	}

	// The logs are what keeps re-runs from alerting the same episode
	// twice, so a persistence failure is a tick failure.
	if err := e.store.SaveIdleAlertLogs(ctx, logs); err != nil {
		res.Failed = true
		res.Error = err.Error()
		return res
	}
	return res
}
