package metrics

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	appconfig "cryptodash/config"
	"cryptodash/logger"
)

func TestPublishMetricDatumThrottlesToInterval(t *testing.T) {
	prevState := cwState.Load()
	cwState.Store(&cloudWatchState{client: &cloudwatch.Client{}})
	t.Cleanup(func() { cwState.Store(prevState) })

	resetMetricPublishTimes()
	t.Cleanup(resetMetricPublishTimes)

	originalInterval := cloudWatchPublishInterval
	cloudWatchPublishInterval = 50 * time.Millisecond
	t.Cleanup(func() { cloudWatchPublishInterval = originalInterval })

	baseTime := time.Now()
	timeNow = func() time.Time { return baseTime }
	t.Cleanup(func() { timeNow = time.Now })

	batches := make([][]cwtypes.MetricDatum, 0)
	publishMetricsFunc = func(ctx context.Context, state *cloudWatchState, data []cwtypes.MetricDatum) {
		copyData := make([]cwtypes.MetricDatum, len(data))
		copy(copyData, data)
		batches = append(batches, copyData)
	}
	t.Cleanup(func() { publishMetricsFunc = publishMetrics })

	metric := Metric{Component: "test", Name: "requests", Timestamp: baseTime, Fields: logger.Fields{"unit": "count"}}
	publishMetricDatum(metric, 1)

	timeNow = func() time.Time { return baseTime.Add(25 * time.Millisecond) }
	metric.Timestamp = baseTime.Add(25 * time.Millisecond)
	publishMetricDatum(metric, 2)

	if len(batches) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(batches))
	}

	if len(batches[0]) != 1 {
		t.Fatalf("expected single metric in publish, got %d", len(batches[0]))
	}

	datum := batches[0][0]
	if datum.MetricName == nil || *datum.MetricName != "requests" {
		t.Fatalf("unexpected metric name: %v", datum.MetricName)
	}
	if datum.Value == nil || *datum.Value != 1 {
		t.Fatalf("unexpected metric value: %v", datum.Value)
	}
}

func TestPublishMetricDatumAllowsAfterInterval(t *testing.T) {
	prevState := cwState.Load()
	cwState.Store(&cloudWatchState{client: &cloudwatch.Client{}})
	t.Cleanup(func() { cwState.Store(prevState) })

	resetMetricPublishTimes()
	t.Cleanup(resetMetricPublishTimes)

	originalInterval := cloudWatchPublishInterval
	cloudWatchPublishInterval = 50 * time.Millisecond
	t.Cleanup(func() { cloudWatchPublishInterval = originalInterval })

	baseTime := time.Now()
	timeNow = func() time.Time { return baseTime }
	t.Cleanup(func() { timeNow = time.Now })

	batches := make([][]cwtypes.MetricDatum, 0)
	publishMetricsFunc = func(ctx context.Context, state *cloudWatchState, data []cwtypes.MetricDatum) {
		copyData := make([]cwtypes.MetricDatum, len(data))
		copy(copyData, data)
		batches = append(batches, copyData)
	}
	t.Cleanup(func() { publishMetricsFunc = publishMetrics })

	metric := Metric{Component: "test", Name: "requests", Timestamp: baseTime, Fields: logger.Fields{"unit": "count"}}
	publishMetricDatum(metric, 1)

	timeNow = func() time.Time { return baseTime.Add(75 * time.Millisecond) }
	metric.Timestamp = baseTime.Add(75 * time.Millisecond)
	publishMetricDatum(metric, 2)

	if len(batches) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(batches))
	}

	second := batches[1]
	if len(second) != 1 {
		t.Fatalf("expected single metric in second publish, got %d", len(second))
	}

	datum := second[0]
	if datum.MetricName == nil || *datum.MetricName != "requests" {
		t.Fatalf("unexpected metric name: %v", datum.MetricName)
	}
	if datum.Value == nil || *datum.Value != 2 {
		t.Fatalf("unexpected metric value: %v", datum.Value)
	}
}

type fakeCloudWatch struct {
	metricInputs    []*cloudwatch.PutMetricDataInput
	dashboardInputs []*cloudwatch.PutDashboardInput
}

func (f *fakeCloudWatch) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.metricInputs = append(f.metricInputs, in)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func (f *fakeCloudWatch) PutDashboard(ctx context.Context, in *cloudwatch.PutDashboardInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutDashboardOutput, error) {
	f.dashboardInputs = append(f.dashboardInputs, in)
	return &cloudwatch.PutDashboardOutput{}, nil
}

func TestPublishReportSendsNumericFields(t *testing.T) {
	fake := &fakeCloudWatch{}
	prevState := cwState.Load()
	cwState.Store(&cloudWatchState{client: fake, namespace: "Test"})
	t.Cleanup(func() { cwState.Store(prevState) })

	PublishReport(context.Background(), logger.Fields{
		"cycles":      int64(3),
		"cpu_percent": 12.5,
		"components":  map[string]int{"x": 1},
	})

	if len(fake.metricInputs) != 1 {
		t.Fatalf("expected one PutMetricData call, got %d", len(fake.metricInputs))
	}
	in := fake.metricInputs[0]
	if *in.Namespace != "Test" || len(in.MetricData) != 2 {
		t.Fatalf("unexpected input: %+v", in)
	}
	if *in.MetricData[0].MetricName != "cpu_percent" || in.MetricData[0].Unit != cwtypes.StandardUnitPercent {
		t.Fatalf("unexpected first datum: %+v", in.MetricData[0])
	}
}

func TestPutDashboardRendersValidBody(t *testing.T) {
	fake := &fakeCloudWatch{}
	prevState := cwState.Load()
	cwState.Store(&cloudWatchState{client: fake, namespace: "Dash", dashboardName: "Board", region: "eu-west-1"})
	t.Cleanup(func() { cwState.Store(prevState) })

	if err := PutDashboard(context.Background()); err != nil {
		t.Fatalf("put dashboard: %v", err)
	}
	if len(fake.dashboardInputs) != 1 {
		t.Fatalf("expected dashboard update")
	}
	body := *fake.dashboardInputs[0].DashboardBody
	var parsed struct {
		Widgets []struct {
			Properties struct {
				Region  string     `json:"region"`
				Metrics [][]string `json:"metrics"`
			} `json:"properties"`
		} `json:"widgets"`
	}
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		t.Fatalf("invalid dashboard body: %v", err)
	}
	if len(parsed.Widgets) != len(dashboardMetrics) {
		t.Fatalf("unexpected widget count %d", len(parsed.Widgets))
	}
	w := parsed.Widgets[0].Properties
	if w.Region != "eu-west-1" || w.Metrics[0][0] != "Dash" {
		t.Fatalf("unexpected widget: %+v", w)
	}
}

func TestDisabledCloudWatchIsNoop(t *testing.T) {
	prevState := cwState.Load()
	t.Cleanup(func() { cwState.Store(prevState) })
	DisableCloudWatch()

	called := false
	publishMetricsFunc = func(context.Context, *cloudWatchState, []cwtypes.MetricDatum) { called = true }
	t.Cleanup(func() { publishMetricsFunc = publishMetrics })

	publishMetricDatum(Metric{Component: "c", Name: "n"}, 1)
	PublishReport(context.Background(), logger.Fields{"cycles": 1})
	if err := InitCloudWatch(context.Background(), appconfig.CloudWatchConfig{}); err != nil {
		t.Fatalf("disabled init: %v", err)
	}
	if called {
		t.Fatalf("expected no publish while disabled")
	}
}
