package metrics

import (
	"sync"
	"time"

	"cryptodash/logger"
)

// Metric represents a structured metric event emitted within the application.
type Metric struct {
	Timestamp time.Time
	Component string
	Name      string
	Value     interface{}
	Type      string
	Fields    logger.Fields
}

// MetricHandler consumes structured metric events for downstream processing.
type MetricHandler func(Metric)

// MetricHandlerID uniquely identifies a registered metric handler.
type MetricHandlerID uint64

var (
	metricHandlersMu    sync.RWMutex
	metricHandlers      = make(map[MetricHandlerID]MetricHandler)
	nextMetricHandlerID MetricHandlerID
)

// RegisterMetricHandler registers a handler that will receive every emitted metric.
// A zero identifier is returned when the provided handler is nil.
func RegisterMetricHandler(handler MetricHandler) MetricHandlerID {
	if handler == nil {
		return 0
	}

	metricHandlersMu.Lock()
	defer metricHandlersMu.Unlock()

	nextMetricHandlerID++
	id := nextMetricHandlerID
	metricHandlers[id] = handler
	return id
}

// UnregisterMetricHandler removes the handler associated with the given identifier.
func UnregisterMetricHandler(id MetricHandlerID) {
	if id == 0 {
		return
	}

	metricHandlersMu.Lock()
	delete(metricHandlers, id)
	metricHandlersMu.Unlock()
}

// Forward is installed as the logger's MetricSink. Entry.LogMetric has
// already written the log line, so Forward only dispatches the event to
// handlers and CloudWatch.
func Forward(component, name string, value float64, metricType string, fields logger.Fields) {
	metric, ok := newMetric(component, name, value, metricType, fields)
	if !ok {
		return
	}
	dispatchMetric(metric)
	publishMetricDatum(metric, value)
}

// EmitMetric logs a metric at debug level, dispatches it to registered
// handlers and publishes numeric values to CloudWatch when configured.
func EmitMetric(log *logger.Log, component, name string, value interface{}, metricType string, fields logger.Fields) {
	metric, ok := recordMetric(log, component, name, value, metricType, fields)
	if !ok {
		return
	}
	numeric, ok := toFloat64(metric.Value)
	if !ok {
		return
	}
	publishMetricDatum(metric, numeric)
}

func newMetric(component, name string, value interface{}, metricType string, fields logger.Fields) (Metric, bool) {
	if name == "" {
		return Metric{}, false
	}
	if metricType == "" {
		metricType = "counter"
	}
	return Metric{
		Timestamp: timeNow(),
		Component: component,
		Name:      name,
		Value:     value,
		Type:      metricType,
		Fields:    cloneFields(fields),
	}, true
}

func recordMetric(log *logger.Log, component, name string, value interface{}, metricType string, fields logger.Fields) (Metric, bool) {
	metric, ok := newMetric(component, name, value, metricType, fields)
	if !ok {
		return Metric{}, false
	}

	if log == nil {
		log = logger.GetLogger()
	}

	logFields := make(logger.Fields, len(metric.Fields)+3)
	for k, v := range metric.Fields {
		logFields[k] = v
	}
	logFields["metric"] = metric.Name
	logFields["metric_type"] = metric.Type
	logFields["value"] = value

	log.WithComponent(component).WithFields(logFields).Debug("metric")

	dispatchMetric(metric)
	return metric, true
}

func dispatchMetric(metric Metric) {
	metricHandlersMu.RLock()
	if len(metricHandlers) == 0 {
		metricHandlersMu.RUnlock()
		return
	}

	handlers := make([]MetricHandler, 0, len(metricHandlers))
	for _, handler := range metricHandlers {
		if handler != nil {
			handlers = append(handlers, handler)
		}
	}
	metricHandlersMu.RUnlock()

	for _, handler := range handlers {
		handler(metric)
	}
}

func cloneFields(fields logger.Fields) logger.Fields {
	if len(fields) == 0 {
		return logger.Fields{}
	}

	copied := make(logger.Fields, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return copied
}
