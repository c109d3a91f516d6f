package sink

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/roach88/flowsim/internal/emit"
	"github.com/roach88/flowsim/internal/value"
)

// Influx writes each event as a point: measurement = event type,
// tag sys__sid = session, one field per payload value.
type Influx struct {
	client influxdb2.Client
	writer api.WriteAPIBlocking
	bucket string
}

// OpenInflux creates a client for url. The client connects lazily.
func OpenInflux(url, token, org, bucket string) *Influx {
	client := influxdb2.NewClient(url, token)
	return &Influx{client: client, writer: client.WriteAPIBlocking(org, bucket), bucket: bucket}
}

// Name implements Sink.
func (i *Influx) Name() string { return "influx:" + i.bucket }

// Deliver implements Sink.
func (i *Influx) Deliver(ctx context.Context, ev emit.Event) error {
	return i.writer.WritePoint(ctx, Point(ev))
}

// Point converts an event into a line-protocol point. Times become RFC 3339
// strings and lists or objects JSON strings; null fields are dropped.
func Point(ev emit.Event) *write.Point {
	payload := ev.Payload()
	fields := make(map[string]any, len(payload))
	for k, v := range payload {
		if k == emit.FieldSessionID {
			continue
		}
		switch val := v.(type) {
		case value.Null, nil:
		case value.Time:
			fields[k] = time.Time(val).UTC().Format(time.RFC3339Nano)
		case value.List, value.Object:
			fields[k] = value.Text(val)
		default:
			fields[k] = value.Native(val)
		}
	}
	tags := map[string]string{emit.FieldSessionID: ev.SessionID}
	return influxdb2.NewPoint(ev.Type, tags, fields, ev.Time)
}

// Close closes the client.
func (i *Influx) Close() error {
	i.client.Close()
	return nil
}
