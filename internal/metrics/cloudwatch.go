package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	appconfig "cryptodash/config"
	"cryptodash/logger"
)

type cloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
	PutDashboard(ctx context.Context, params *cloudwatch.PutDashboardInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutDashboardOutput, error)
}

type cloudWatchState struct {
	client        cloudWatchAPI
	namespace     string
	dashboardName string
	region        string
}

var cwState atomic.Pointer[cloudWatchState]

var (
	// cloudWatchPublishInterval throttles each component/metric pair.
	cloudWatchPublishInterval = time.Minute
	timeNow                   = time.Now
	publishMetricsFunc        = publishMetrics

	publishTimesMu sync.Mutex
	publishTimes   = make(map[string]time.Time)
)

func init() {
	cwState.Store(&cloudWatchState{
		namespace:     "CryptoDash",
		dashboardName: "CryptoDash",
	})
}

func resetMetricPublishTimes() {
	publishTimesMu.Lock()
	publishTimes = make(map[string]time.Time)
	publishTimesMu.Unlock()
}

// InitCloudWatch creates the CloudWatch client and dashboard. It is a no-op
// when publishing is disabled. A failed dashboard update is only logged.
func InitCloudWatch(ctx context.Context, cfg appconfig.CloudWatchConfig) error {
	if !cfg.Enabled {
		return nil
	}
	log := logger.GetLogger().WithComponent("cloudwatch")

	region := cfg.Region
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	opts := []func(*config.LoadOptions) error{}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	if awsCfg.Region != "" {
		region = awsCfg.Region
	}

	state := &cloudWatchState{
		client:        cloudwatch.NewFromConfig(awsCfg),
		namespace:     cfg.Namespace,
		dashboardName: cfg.DashboardName,
		region:        region,
	}
	if state.namespace == "" {
		state.namespace = "CryptoDash"
	}
	if state.dashboardName == "" {
		state.dashboardName = state.namespace
	}
	cwState.Store(state)

	log.WithFields(logger.Fields{
		"region":    state.region,
		"namespace": state.namespace,
	}).Info("initialized CloudWatch client")

	if err := PutDashboard(ctx); err != nil {
		log.WithError(err).Warn("failed to create CloudWatch dashboard")
	}
	return nil
}

// DisableCloudWatch stops publishing.
func DisableCloudWatch() {
	cur := cwState.Load()
	next := &cloudWatchState{}
	if cur != nil {
		*next = *cur
	}
	next.client = nil
	cwState.Store(next)
}

var dashboardMetrics = []struct {
	component string
	name      string
	title     string
}{
	{"poller", "cycle_duration_ms", "Cycle duration (ms)"},
	{"poller", "coins_saved", "Coins saved per cycle"},
	{"poller", "data_quality_percent", "Data quality (%)"},
	{"poller", "consecutive_failures", "Consecutive fetch failures"},
	{"alerts", "alerts_raised", "Alerts raised"},
	{"coingecko_reader", "rate_limit_exceeded", "Rate limit rejections"},
	{"report", "memory_mb", "Memory used (MB)"},
}

// dashboardBody renders one metric widget per tracked metric.
func dashboardBody(namespace, region string) (string, error) {
	type widget struct {
		Type       string         `json:"type"`
		X          int            `json:"x"`
		Y          int            `json:"y"`
		Width      int            `json:"width"`
		Height     int            `json:"height"`
		Properties map[string]any `json:"properties"`
	}
	widgets := make([]widget, 0, len(dashboardMetrics))
	for i, m := range dashboardMetrics {
		widgets = append(widgets, widget{
			Type:   "metric",
			X:      (i % 2) * 12,
			Y:      (i / 2) * 6,
			Width:  12,
			Height: 6,
			Properties: map[string]any{
				"title":   m.title,
				"region":  region,
				"view":    "timeSeries",
				"stat":    "Average",
				"period":  300,
				"metrics": [][]string{{namespace, m.name, "component", m.component}},
			},
		})
	}
	body, err := json.Marshal(map[string]any{"widgets": widgets})
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// PutDashboard creates or replaces the CloudWatch dashboard.
func PutDashboard(ctx context.Context) error {
	state := cwState.Load()
	if state == nil || state.client == nil {
		return nil
	}
	body, err := dashboardBody(state.namespace, state.region)
	if err != nil {
		return fmt.Errorf("render dashboard: %w", err)
	}
	_, err = state.client.PutDashboard(ctx, &cloudwatch.PutDashboardInput{
		DashboardName: aws.String(state.dashboardName),
		DashboardBody: aws.String(body),
	})
	if err != nil {
		return err
	}
	logger.GetLogger().WithComponent("cloudwatch").Debug("updated CloudWatch dashboard")
	return nil
}

// PublishReport is installed as the logger's ReportSink and forwards the
// numeric fields of the runtime report in one PutMetricData call.
func PublishReport(ctx context.Context, fields logger.Fields) {
	state := cwState.Load()
	if state == nil || state.client == nil {
		return
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	dims := []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String("report")}}
	data := make([]cwtypes.MetricDatum, 0, len(keys))
	for _, k := range keys {
		v, ok := toFloat64(fields[k])
		if !ok {
			continue
		}
		unit := cwtypes.StandardUnitCount
		if strings.HasSuffix(k, "_percent") {
			unit = cwtypes.StandardUnitPercent
		}
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(k),
			Dimensions: dims,
			Unit:       unit,
			Value:      aws.Float64(v),
		})
	}
	publishMetricsFunc(ctx, state, data)
}

func publishMetricDatum(metric Metric, value float64) {
	state := cwState.Load()
	if state == nil || state.client == nil {
		return
	}

	key := metric.Component + "/" + metric.Name
	now := timeNow()
	publishTimesMu.Lock()
	if last, ok := publishTimes[key]; ok && now.Sub(last) < cloudWatchPublishInterval {
		publishTimesMu.Unlock()
		return
	}
	publishTimes[key] = now
	publishTimesMu.Unlock()

	unit := cwtypes.StandardUnitCount
	if rawUnit, ok := metric.Fields["unit"]; ok {
		if unitStr, ok := rawUnit.(string); ok {
			if parsed, found := metricUnitFromString(unitStr); found {
				unit = parsed
			}
		}
	}

	dims := []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String(metric.Component)}}
	for k, v := range metric.Fields {
		if k == "metric" || k == "metric_type" || k == "value" || k == "unit" {
			continue
		}
		if s, ok := v.(string); ok && s != "" {
			dims = append(dims, cwtypes.Dimension{Name: aws.String(k), Value: aws.String(s)})
		}
	}

	data := []cwtypes.MetricDatum{{
		MetricName: aws.String(metric.Name),
		Dimensions: dims,
		Unit:       unit,
		Timestamp:  aws.Time(metric.Timestamp),
		Value:      aws.Float64(value),
	}}
	publishMetricsFunc(context.Background(), state, data)
}

func publishMetrics(ctx context.Context, state *cloudWatchState, data []cwtypes.MetricDatum) {
	if state == nil || state.client == nil || len(data) == 0 {
		return
	}
	// PutMetricData accepts at most 1000 datums per call.
	for start := 0; start < len(data); start += 1000 {
		end := min(start+1000, len(data))
		if _, err := state.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(state.namespace),
			MetricData: data[start:end],
		}); err != nil {
			logger.GetLogger().WithComponent("cloudwatch").WithError(err).Warn("failed to publish CloudWatch metrics")
			return
		}
	}
	logger.GetLogger().WithComponent("cloudwatch").WithFields(logger.Fields{"count": len(data)}).Debug("published metrics to CloudWatch")
}

func toFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

func metricUnitFromString(unit string) (cwtypes.StandardUnit, bool) {
	switch strings.ToLower(unit) {
	case "count":
		return cwtypes.StandardUnitCount, true
	case "percent":
		return cwtypes.StandardUnitPercent, true
	case "milliseconds", "ms":
		return cwtypes.StandardUnitMilliseconds, true
	case "bytes":
		return cwtypes.StandardUnitBytes, true
	default:
		return cwtypes.StandardUnitCount, false
	}
}
