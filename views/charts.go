package views

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/wifiwatch/go-wifiwatch/events"
)

const defaultSampleLimit = 288

// Sample is one point on the device-count chart.
type Sample struct {
	Time   time.Time
	Online int
	Total  int
}

// ChartsView keeps a bounded rolling series of device counts, sampled from
// the dashboard stats each time a scan completes.
type ChartsView struct {
	view
	client  Client
	limit   int
	nowTime func() time.Time

	samples []Sample
}

// NewChartsView builds an empty chart series holding at most limit samples;
// zero means the default.
func NewChartsView(client Client, limit int, options ...Option) (*ChartsView, error) {
	if client == nil {
		return nil, errors.New("[NewChartsView] client is required")
	}
	if limit <= 0 {
		limit = defaultSampleLimit
	}
	v := &ChartsView{
		client:  client,
		limit:   limit,
		nowTime: time.Now,
	}
	initView(&v.view, options)
	return v, nil
}

// Record fetches the current stats and appends one sample, dropping the
// oldest once the series is full.
func (v *ChartsView) Record(ctx context.Context) error {
	stats, err := v.client.DashboardStats(ctx)
	if err != nil {
		return errors.Wrap(err, "[ChartsView.Record]")
	}
	v.commit(0, func() {
		v.samples = append(v.samples, Sample{
			Time:   v.nowTime(),
			Online: stats.Devices.Online,
			Total:  stats.Devices.Total,
		})
		if len(v.samples) > v.limit {
			v.samples = v.samples[len(v.samples)-v.limit:]
		}
	})
	return nil
}

// Samples returns a copy of the current series, oldest first.
func (v *ChartsView) Samples() []Sample {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Sample, len(v.samples))
	copy(out, v.samples)
	return out
}

// Bind appends a sample whenever a scan completes; fetches run off the
// dispatch goroutine.
func (v *ChartsView) Bind(ctx context.Context, ch *events.Channel) func() {
	return ch.Subscribe(events.MessageScanUpdate, func(msg events.Message) {
		update, err := msg.ScanUpdate()
		if err != nil || update.Status != "completed" {
			return
		}
		go func() {
			if err := v.Record(ctx); err != nil {
				v.log.Warn().Err(err).Msg("chart sample failed")
			}
		}()
	})
}
