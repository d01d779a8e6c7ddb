package telemetry

import "go.opentelemetry.io/otel/metric"

// Metrics holds all taskchat metric instruments.
type Metrics struct {
	RequestDuration  metric.Float64Histogram
	ChatTurns        metric.Int64Counter
	LLMCallDuration  metric.Float64Histogram
	ToolCallDuration metric.Float64Histogram
	ToolCallErrors   metric.Int64Counter
	TasksRolled      metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RequestDuration, err = meter.Float64Histogram("taskchat.request.duration",
		metric.WithDescription("Gateway request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.ChatTurns, err = meter.Int64Counter("taskchat.chat.turns",
		metric.WithDescription("Chat turns processed"),
	)
	if err != nil {
		return nil, err
	}

	m.LLMCallDuration, err = meter.Float64Histogram("taskchat.llm.duration",
		metric.WithDescription("LLM API call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.ToolCallDuration, err = meter.Float64Histogram("taskchat.tool.duration",
		metric.WithDescription("Tool dispatch duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.ToolCallErrors, err = meter.Int64Counter("taskchat.tool.errors",
		metric.WithDescription("Tool dispatch error count"),
	)
	if err != nil {
		return nil, err
	}

	m.TasksRolled, err = meter.Int64Counter("taskchat.recurrence.rolled",
		metric.WithDescription("Recurring tasks advanced to their next occurrence"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
